// Package cache implements the two-level cache used in front of slow or
// rate-limited sources: a bounded in-process LRU (local tier) backed by a
// networked store shared by every instance (shared tier).
//
// Reads go local -> shared; a shared hit is promoted into the local tier with
// the shared entry's remaining lifetime (capped by the local TTL). Writes go
// shared first, then local; when the shared write fails the entry is kept
// locally and the caller is told. Deletes always clear both tiers.
//
// The cache is an optimization, never a correctness dependency: shared-tier
// failures are logged and surface as a miss on reads.
package cache
