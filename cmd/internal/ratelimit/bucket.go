package ratelimit

import (
	"time"

	"github.com/goccy/go-json"
)

// Bucket is a budget of Points per Duration.
type Bucket struct {
	Points   int           `koanf:"points" json:"points"`
	Duration time.Duration `koanf:"duration" json:"duration"`
}

func (b Bucket) valid() bool { return b.Points > 0 && b.Duration > 0 }

// spacing is the average gap between points, never below one second.
func (b Bucket) spacing() time.Duration {
	if !b.valid() {
		return time.Second
	}
	d := b.Duration / time.Duration(b.Points)
	if d < time.Second {
		return time.Second
	}
	return d
}

// window is the stored counter state of one bucket.
type window struct {
	Start    int64 `json:"s"` // unix millis
	Consumed int   `json:"c"`
}

// consume charges one point against st at now. The window opens on the first
// consume and resets once Duration has elapsed, so no window ever admits more
// than b.Points.
func consume(st window, b Bucket, now time.Time) (window, bool, time.Duration) {
	nowMs := now.UnixMilli()
	end := st.Start + b.Duration.Milliseconds()

	if st.Start == 0 || nowMs >= end {
		return window{Start: nowMs, Consumed: 1}, true, 0
	}
	if st.Consumed < b.Points {
		st.Consumed++
		return st, true, 0
	}
	return st, false, time.Duration(end-nowMs) * time.Millisecond
}

func decodeWindow(raw []byte) window {
	var w window
	if len(raw) == 0 {
		return w
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return window{}
	}
	return w
}

// penalty is the stored aggressive-mode state of a scope.
type penalty struct {
	BlockedUntil  int64 `json:"b"` // upstream Retry-After, unix millis
	CooldownUntil int64 `json:"c"`
}

func decodePenalty(raw []byte) penalty {
	var p penalty
	if len(raw) == 0 {
		return p
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return penalty{}
	}
	return p
}

// merge keeps the later deadline of each field so concurrent penalties from
// several instances never shorten one another.
func (p penalty) merge(o penalty) penalty {
	if o.BlockedUntil > p.BlockedUntil {
		p.BlockedUntil = o.BlockedUntil
	}
	if o.CooldownUntil > p.CooldownUntil {
		p.CooldownUntil = o.CooldownUntil
	}
	return p
}
