package access

import (
	"context"
	"log/slog"
	"time"

	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/internal/share"
)

// ShareResolver maps share tokens to usable shares.
type ShareResolver interface {
	Resolve(ctx context.Context, tok string) (share.Resolved, error)
}

// QuestReader loads quests.
type QuestReader interface {
	GetQuest(ctx context.Context, id string) (quest.Quest, error)
}

// Principal is an authenticated caller. Either field may be empty.
type Principal struct {
	User  *Identity
	Share *share.Resolved
}

// Anonymous reports whether no credential was accepted.
func (p Principal) Anonymous() bool { return p.User == nil && p.Share == nil }

// UserID returns the owner identity, or "".
func (p Principal) UserID() string {
	if p.User == nil {
		return ""
	}
	return p.User.UserID
}

// Guard authenticates credentials and authorizes quest reads.
type Guard struct {
	verifier Verifier
	shares   ShareResolver
	quests   QuestReader
	log      *slog.Logger
	now      func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard wires a Guard.
func NewGuard(v Verifier, shares ShareResolver, quests QuestReader, opts ...GuardOption) (*Guard, error) {
	if v == nil || shares == nil || quests == nil {
		return nil, ErrConfig
	}
	g := &Guard{
		verifier: v,
		shares:   shares,
		quests:   quests,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Authenticate checks every presented credential. A bad bearer token is
// unauthenticated; a bad share token is not found.
func (g *Guard) Authenticate(ctx context.Context, c Credentials) (Principal, error) {
	var p Principal
	if c.Bearer != "" {
		id, err := g.verifier.Verify(c.Bearer, g.now())
		if err != nil {
			g.log.Debug("access.bearer.reject", "err", err)
			return Principal{}, err
		}
		p.User = &id
	}
	if c.ShareToken != "" {
		res, err := g.shares.Resolve(ctx, c.ShareToken)
		if err != nil {
			return Principal{}, err
		}
		p.Share = &res
	}
	return p, nil
}

// RequireUser authenticates and demands an owner identity.
func (g *Guard) RequireUser(ctx context.Context, c Credentials) (Identity, error) {
	if c.Bearer == "" {
		return Identity{}, ErrMissingCredentials
	}
	p, err := g.Authenticate(ctx, Credentials{Bearer: c.Bearer})
	if err != nil {
		return Identity{}, err
	}
	return *p.User, nil
}

// CanRead loads the quest and checks p may view it. Public quests are open
// to everyone; private quests need the owner or a share for that quest.
func (g *Guard) CanRead(ctx context.Context, p Principal, questID string) (quest.Quest, error) {
	q, err := g.quests.GetQuest(ctx, questID)
	if err != nil {
		return quest.Quest{}, err
	}
	if !q.Private {
		return q, nil
	}
	if q.OwnedBy(p.UserID()) {
		return q, nil
	}
	if p.Share != nil && p.Share.Quest.ID == q.ID {
		return q, nil
	}
	if p.Anonymous() {
		return quest.Quest{}, ErrMissingCredentials
	}
	g.log.Warn("access.quest.forbidden", "quest_id", q.ID, "user_id", p.UserID(), "share", p.Share != nil)
	return quest.Quest{}, ErrForbidden
}
