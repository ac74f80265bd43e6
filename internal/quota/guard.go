// Package quota enforces per-owner submission limits before any media work
// is paid for: a rolling-window rate limit, duplicate detection on the
// normalized title and author, and the showcase cap.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/media-ingest/internal/content"
)

// Role is the owner's role as asserted by the upstream gateway.
type Role string

const (
	// RoleUser is a regular account.
	RoleUser Role = "user"
	// RoleModerator can bypass the rate limit.
	RoleModerator Role = "moderator"
	// RoleAdmin can bypass the rate limit.
	RoleAdmin Role = "admin"
)

// Elevated reports whether the role bypasses the rolling-window limit.
func (r Role) Elevated() bool {
	return r == RoleModerator || r == RoleAdmin
}

// DenyReason enumerates why a reservation was refused.
type DenyReason string

const (
	// DenyRateLimited means the owner reached the limit for the current window.
	DenyRateLimited DenyReason = "RATE_LIMITED"
	// DenyDuplicate means a live record with the same title and author exists.
	DenyDuplicate DenyReason = "DUPLICATE"
	// DenyShowcaseCap means the owner already has the maximum of showcased records.
	DenyShowcaseCap DenyReason = "SHOWCASE_CAP"
)

// Decision is the result of a reservation.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Detail  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason DenyReason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Request describes the submission being checked.
type Request struct {
	OwnerID  string
	Role     Role
	Type     content.Type
	Title    string
	Author   string
	Showcase bool
}

// Store is the part of the metadata store the guard reads.
type Store interface {
	CountSince(ctx context.Context, ownerID string, t content.Type, since time.Time) (int64, error)
	ExistsNormalized(ctx context.Context, t content.Type, titleKey, authorKey string, statuses []content.Status) (bool, error)
	CountShowcased(ctx context.Context, ownerID string) (int64, error)
}

// Reserver atomically claims one slot in a fixed window. It backs the strict
// mode where concurrent submissions cannot both pass the rate limit.
type Reserver interface {
	Reserve(ctx context.Context, ownerID string, t content.Type, limit int, window time.Duration, now time.Time) (bool, error)
}

// Limits configures the guard.
type Limits struct {
	// Window is the length of the rolling rate-limit window.
	Window time.Duration
	// PerType is the number of submissions allowed per window; zero or a
	// missing entry disables the rate limit for that type.
	PerType map[content.Type]int
	// ShowcaseCap is the maximum number of showcased records per owner.
	ShowcaseCap int
}

// DefaultLimits returns the limits used in production.
func DefaultLimits() Limits {
	return Limits{
		Window: 24 * time.Hour,
		PerType: map[content.Type]int{
			content.TypePost:  20,
			content.TypeTrack: 3,
			content.TypeNote:  50,
		},
		ShowcaseCap: 6,
	}
}

// Option configures a Guard.
type Option func(*Guard)

// WithReserver enables strict reservation.
func WithReserver(r Reserver) Option {
	return func(g *Guard) {
		g.reserver = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// Guard checks submissions against the metadata store.
//
// Without a Reserver the read-then-reserve sequence is not atomic: two
// concurrent submissions from the same owner may both observe room in the
// window. The limit is soft in that mode.
type Guard struct {
	store    Store
	limits   Limits
	reserver Reserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewGuard creates a Guard reading from store.
func NewGuard(store Store, limits Limits, opts ...Option) *Guard {
	if limits.Window <= 0 {
		limits.Window = DefaultLimits().Window
	}
	g := &Guard{
		store:  store,
		limits: limits,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reserve runs the checks in order: rate limit, duplicate, showcase cap and,
// in strict mode, the atomic reservation. The first failing check decides.
// Store errors are returned as errors, not denials.
func (g *Guard) Reserve(ctx context.Context, req Request) (Decision, error) {
	now := g.now()
	limit := g.limits.PerType[req.Type]
	rateLimited := limit > 0 && !req.Role.Elevated()

	if rateLimited {
		n, err := g.store.CountSince(ctx, req.OwnerID, req.Type, now.Add(-g.limits.Window))
		if err != nil {
			return Decision{}, fmt.Errorf("count recent submissions: %w", err)
		}
		if n >= int64(limit) {
			return g.denied(req, deny(DenyRateLimited, "%d %s submissions in the last %s, limit is %d", n, req.Type, g.limits.Window, limit)), nil
		}
	}

	titleKey := content.NormalizeKey(req.Title)
	authorKey := content.NormalizeKey(req.Author)
	// Only a complete (title, author) pair identifies a work.
	if titleKey != "" && authorKey != "" {
		dup, err := g.store.ExistsNormalized(ctx, req.Type, titleKey, authorKey, content.LiveStatuses)
		if err != nil {
			return Decision{}, fmt.Errorf("look up duplicates: %w", err)
		}
		if dup {
			return g.denied(req, deny(DenyDuplicate, "%q by %q already exists", req.Title, req.Author)), nil
		}
	}

	if req.Showcase && g.limits.ShowcaseCap > 0 {
		n, err := g.store.CountShowcased(ctx, req.OwnerID)
		if err != nil {
			return Decision{}, fmt.Errorf("count showcased: %w", err)
		}
		if n >= int64(g.limits.ShowcaseCap) {
			return g.denied(req, deny(DenyShowcaseCap, "%d showcased records, cap is %d", n, g.limits.ShowcaseCap)), nil
		}
	}

	// Claimed last so that a submission denied above does not use up a slot.
	if rateLimited && g.reserver != nil {
		ok, err := g.reserver.Reserve(ctx, req.OwnerID, req.Type, limit, g.limits.Window, now)
		if err != nil {
			return Decision{}, fmt.Errorf("reserve quota slot: %w", err)
		}
		if !ok {
			return g.denied(req, deny(DenyRateLimited, "no %s slots left in the current window", req.Type)), nil
		}
	}

	return allow(), nil
}

func (g *Guard) denied(req Request, d Decision) Decision {
	g.logger.Info("submission denied",
		slog.String("owner_id", req.OwnerID),
		slog.String("type", string(req.Type)),
		slog.String("reason", string(d.Reason)),
		slog.String("detail", d.Detail),
	)
	return d
}
