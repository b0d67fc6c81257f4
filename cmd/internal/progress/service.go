package progress

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"fieldquest/cmd/internal/ids"
	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/internal/share"
	"fieldquest/cmd/internal/telemetry"
	eventsv1 "fieldquest/shared/contracts/events/v1"
)

const publishTimeout = 5 * time.Second

// Shares resolves share ids to shares with their quest.
type Shares interface {
	Get(ctx context.Context, shareID string) (share.Resolved, error)
}

// Quests loads quests and mappings.
type Quests interface {
	GetQuest(ctx context.Context, id string) (quest.Quest, error)
	GetMapping(ctx context.Context, id string) (quest.Mapping, error)
}

// Publisher receives one event per completed write, in write order per quest.
// Publish must not block on slow consumers.
type Publisher interface {
	Publish(questID string, ev eventsv1.ProgressUpdated)
}

// Service implements the progress operations and derived views.
type Service struct {
	store  Store
	shares Shares
	quests Quests
	pub    Publisher
	locks  *questLocks

	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a Service. pub may be nil (no live updates).
func NewService(store Store, shares Shares, quests Quests, pub Publisher, opts ...Option) (*Service, error) {
	if store == nil || shares == nil || quests == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:  store,
		shares: shares,
		quests: quests,
		pub:    pub,
		locks:  newQuestLocks(),
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// SetObserved marks mappingID as found by shareID. Repeating the call keeps
// a single row and advances its timestamp.
func (s *Service) SetObserved(ctx context.Context, shareID, mappingID string) (Progress, error) {
	actor, m, err := s.authorize(ctx, shareID, mappingID)
	if err != nil {
		return Progress{}, err
	}

	unlock := s.locks.lock(m.QuestID)
	defer unlock()

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Progress{}, err
	}
	p, err := s.store.Upsert(ctx, Progress{ID: id, ShareID: actor.Share.ID, MappingID: m.ID, ObservedAt: now})
	if err != nil {
		s.logWriteFail("progress.set.fail", m.QuestID, actor.Share.ID, m.ID, err)
		return Progress{}, err
	}
	s.metrics.ProgressWrite("set")
	s.log.Info("progress.set", "quest_id", m.QuestID, "share_id", actor.Share.ID, "mapping_id", m.ID)

	s.publishLocked(ctx, actor, m, eventsv1.ChangeSet)
	return p, nil
}

// ClearObserved removes the mark of shareID on mappingID. Clearing a mark
// that does not exist is a no-op.
func (s *Service) ClearObserved(ctx context.Context, shareID, mappingID string) error {
	actor, m, err := s.authorize(ctx, shareID, mappingID)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(m.QuestID)
	defer unlock()

	deleted, err := s.store.DeleteByPair(ctx, actor.Share.ID, m.ID)
	if err != nil {
		s.logWriteFail("progress.clear.fail", m.QuestID, actor.Share.ID, m.ID, err)
		return err
	}
	if !deleted {
		return nil
	}
	s.metrics.ProgressWrite("clear")
	s.log.Info("progress.clear", "quest_id", m.QuestID, "share_id", actor.Share.ID, "mapping_id", m.ID)

	s.publishLocked(ctx, actor, m, eventsv1.ChangeClear)
	return nil
}

// DeleteProgress removes any row of the owner's quest. Unknown ids are a
// no-op.
func (s *Service) DeleteProgress(ctx context.Context, ownerID, progressID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	progressID = strings.TrimSpace(progressID)
	if progressID == "" || strings.TrimSpace(ownerID) == "" {
		return ErrInvalidInput
	}

	p, err := s.store.Get(ctx, progressID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	actor, err := s.shares.Get(ctx, p.ShareID)
	if err != nil {
		return err
	}
	if !actor.Quest.OwnedBy(strings.TrimSpace(ownerID)) {
		return ErrForbidden
	}
	m, err := s.quests.GetMapping(ctx, p.MappingID)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(m.QuestID)
	defer unlock()

	deleted, err := s.store.Delete(ctx, p.ID)
	if err != nil {
		s.logWriteFail("progress.delete.fail", m.QuestID, p.ShareID, m.ID, err)
		return err
	}
	if !deleted {
		return nil
	}
	s.metrics.ProgressWrite("delete")
	s.log.Info("progress.delete", "quest_id", m.QuestID, "share_id", p.ShareID, "mapping_id", m.ID, "progress_id", p.ID)

	s.publishLocked(ctx, actor, m, eventsv1.ChangeDelete)
	return nil
}

// GetAggregatedProgress returns one entry per mapping of the quest.
func (s *Service) GetAggregatedProgress(ctx context.Context, questID string) ([]Aggregate, error) {
	q, err := s.quest(ctx, questID)
	if err != nil {
		return nil, err
	}
	return s.aggregates(ctx, q)
}

func (s *Service) aggregates(ctx context.Context, q quest.Quest) ([]Aggregate, error) {
	rows, err := s.store.SelectAggregates(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Aggregate, 0, len(rows))
	for _, r := range rows {
		a := Aggregate{
			MappingID: r.MappingID,
			TaxonID:   r.TaxonID,
			Label:     r.Label,
			Count:     r.Count,
		}
		if r.Count > 0 && r.LastObservedAt != nil {
			at := r.LastObservedAt.UTC()
			a.LastObservedAt = &at
			a.LastDisplayName = share.DisplayName(r.LastShareKind, r.LastGuestName, q.OwnerName)
		}
		out = append(out, a)
	}
	return out, nil
}

// GetDetailedProgress returns every row of the quest, newest first.
func (s *Service) GetDetailedProgress(ctx context.Context, questID string) ([]Detailed, error) {
	q, err := s.quest(ctx, questID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.SelectDetailed(ctx, q.ID)
	if err != nil {
		return nil, err
	}

	seen := make(map[[2]string]struct{}, len(rows))
	out := make([]Detailed, 0, len(rows))
	for _, r := range rows {
		pair := [2]string{r.ShareID, r.MappingID}
		if _, dup := seen[pair]; dup {
			// Cannot happen with the upsert; report it and keep serving.
			s.log.Error("progress.invariant.duplicate",
				"quest_id", q.ID, "share_id", r.ShareID, "mapping_id", r.MappingID, "err", ErrDuplicate)
			continue
		}
		seen[pair] = struct{}{}
		out = append(out, Detailed{
			ProgressID:  r.ID,
			ShareID:     r.ShareID,
			MappingID:   r.MappingID,
			TaxonID:     r.TaxonID,
			DisplayName: share.DisplayName(r.ShareKind, r.GuestName, q.OwnerName),
			ObservedAt:  r.ObservedAt.UTC(),
		})
	}
	return out, nil
}

// GetLeaderboard ranks every share of the quest by observation count; ties go
// to the share invited first.
func (s *Service) GetLeaderboard(ctx context.Context, questID string) ([]LeaderboardEntry, error) {
	q, err := s.quest(ctx, questID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.SelectShares(ctx, q.ID)
	if err != nil {
		return nil, err
	}

	out := make([]LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		e := LeaderboardEntry{
			ShareID:     r.ShareID,
			Kind:        r.Kind,
			DisplayName: share.DisplayName(r.Kind, r.GuestName, q.OwnerName),
			Count:       r.Count,
			InvitedAt:   r.InvitedAt.UTC(),
			HasAccessed: r.AccessedAt != nil || r.Kind == share.KindOwner,
			Revoked:     r.RevokedAt != nil,
		}
		if r.LastProgressAt != nil {
			at := r.LastProgressAt.UTC()
			e.LastProgressAt = &at
		}
		out = append(out, e)
	}
	RankLeaderboard(out)
	return out, nil
}

// RankLeaderboard sorts by count (desc), then invitation time (asc), then
// share id, and assigns 1-based ranks.
func RankLeaderboard(entries []LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if !a.InvitedAt.Equal(b.InvitedAt) {
			return a.InvitedAt.Before(b.InvitedAt)
		}
		return a.ShareID < b.ShareID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

func (s *Service) quest(ctx context.Context, questID string) (quest.Quest, error) {
	if err := ctx.Err(); err != nil {
		return quest.Quest{}, err
	}
	questID = strings.TrimSpace(questID)
	if questID == "" {
		return quest.Quest{}, ErrInvalidInput
	}
	return s.quests.GetQuest(ctx, questID)
}

// authorize checks that the share is usable and the mapping belongs to the
// share's quest.
func (s *Service) authorize(ctx context.Context, shareID, mappingID string) (share.Resolved, quest.Mapping, error) {
	if err := ctx.Err(); err != nil {
		return share.Resolved{}, quest.Mapping{}, err
	}
	shareID = strings.TrimSpace(shareID)
	mappingID = strings.TrimSpace(mappingID)
	if shareID == "" || mappingID == "" {
		return share.Resolved{}, quest.Mapping{}, ErrInvalidInput
	}

	actor, err := s.shares.Get(ctx, shareID)
	if err != nil {
		return share.Resolved{}, quest.Mapping{}, err
	}
	if !actor.Share.Active(s.now()) {
		return share.Resolved{}, quest.Mapping{}, share.ErrNotFound
	}

	m, err := s.quests.GetMapping(ctx, mappingID)
	if err != nil {
		return share.Resolved{}, quest.Mapping{}, err
	}
	if m.QuestID != actor.Share.QuestID {
		s.log.Warn("progress.cross_quest",
			"quest_id", actor.Share.QuestID, "share_id", actor.Share.ID, "mapping_id", m.ID, "mapping_quest_id", m.QuestID)
		return share.Resolved{}, quest.Mapping{}, ErrCrossQuest
	}
	return actor, m, nil
}

// publishLocked recomputes the aggregate and emits it. The caller holds the
// quest lock, which fixes the event order to the write order.
func (s *Service) publishLocked(ctx context.Context, actor share.Resolved, m quest.Mapping, kind string) {
	if s.pub == nil {
		return
	}
	// The write has committed; a caller that went away must not swallow its
	// event.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	aggs, err := s.aggregates(ctx, actor.Quest)
	if err != nil {
		s.log.Error("progress.aggregate.fail", "quest_id", m.QuestID, "share_id", actor.Share.ID, "mapping_id", m.ID, "err", err)
		return
	}
	s.pub.Publish(m.QuestID, eventsv1.ProgressUpdated{
		QuestID:    m.QuestID,
		Seq:        s.locks.nextSeq(m.QuestID),
		Aggregates: aggs,
		Change: eventsv1.Change{
			Kind:        kind,
			MappingID:   m.ID,
			ShareID:     actor.Share.ID,
			DisplayName: actor.DisplayName,
		},
		At: s.now(),
	})
}

func (s *Service) logWriteFail(event, questID, shareID, mappingID string, err error) {
	if errors.Is(err, ErrDuplicate) {
		s.log.Error("progress.invariant.duplicate", "quest_id", questID, "share_id", shareID, "mapping_id", mappingID, "err", err)
		return
	}
	s.log.Error(event, "quest_id", questID, "share_id", shareID, "mapping_id", mappingID, "err", err)
}
