// Package quota implements atomic monthly submission accounting per account.
//
// The counter lives in Redis for low-latency atomic increments shared across
// all serving instances, but it is an optimistic cache over the database
// truth, not the source of truth: it is seeded from an authoritative DB count
// on first touch each billing month and expires shortly after month end, so
// any drift self-corrects on the next re-seed.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inputhaven/inputhaven/internal/domain"
	"github.com/inputhaven/inputhaven/internal/pkg/logger"
)

// Counter is the authoritative database count of non-spam submissions for an
// account since the start of the current billing month.
type Counter interface {
	CountMonthlySubmissions(ctx context.Context, ownerID string, since time.Time) (int, error)
}

// Accountant reserves quota slots against the shared Redis counter, falling
// back to a direct DB count when Redis is unreachable.
type Accountant struct {
	redis *redis.Client
	db    Counter

	// now is swappable for tests.
	now func() time.Time
}

// New creates a quota accountant. The Redis client may be nil, in which case
// every reservation takes the DB fallback path.
func New(client *redis.Client, db Counter) *Accountant {
	return &Accountant{redis: client, db: db, now: time.Now}
}

// Reservation is a tentative quota unit. Rollback undoes it when the
// submission turns out to be spam (spam never counts toward quota).
type Reservation struct {
	// Atomic is false when the reservation was granted via the DB fallback;
	// there is nothing to roll back in that case.
	Atomic bool

	key string
	acc *Accountant
}

// Rollback decrements the reserved slot. Store unavailability is tolerated
// silently: the counter re-seeds from the database after its TTL expires.
func (r *Reservation) Rollback(ctx context.Context) {
	if r == nil || !r.Atomic {
		return
	}
	if err := r.acc.redis.Decr(ctx, r.key).Err(); err != nil {
		logger.Warn("quota rollback failed, counter will re-seed from DB", "error", err.Error())
	}
}

// ErrLimitExceeded is returned when the account's monthly quota is exhausted.
var ErrLimitExceeded = fmt.Errorf("monthly submission limit reached")

// Reserve atomically claims one quota unit for ownerID under plan.
//
// Seeding uses SET NX with a TTL past month end so two concurrent first
// touches cannot both seed. The limit compare runs against the
// post-increment value; comparing before incrementing would let concurrent
// requests overrun the plan limit. An over-limit increment is immediately
// decremented back.
//
// When Redis errors, Reserve degrades to a direct DB count-and-compare. That
// path is not atomic across concurrent requests; a burst during an outage can
// transiently exceed the limit, which is accepted over blocking intake.
func (a *Accountant) Reserve(ctx context.Context, ownerID string, plan domain.Plan) (*Reservation, error) {
	now := a.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	key := fmt.Sprintf("submissions:%s:%s", ownerID, now.Format("2006-01"))

	if a.redis == nil {
		return a.reserveViaDB(ctx, ownerID, plan, monthStart)
	}

	exists, err := a.redis.Exists(ctx, key).Result()
	if err != nil {
		return a.reserveViaDB(ctx, ownerID, plan, monthStart)
	}
	if exists == 0 {
		dbCount, err := a.db.CountMonthlySubmissions(ctx, ownerID, monthStart)
		if err != nil {
			return nil, fmt.Errorf("seed count: %w", err)
		}
		monthEnd := monthStart.AddDate(0, 1, 0)
		ttl := monthEnd.Sub(now) + 24*time.Hour
		// NX so a concurrent request that seeded between our EXISTS and SET
		// wins and we just increment whatever is there.
		if err := a.redis.SetNX(ctx, key, dbCount, ttl).Err(); err != nil {
			return a.reserveViaDB(ctx, ownerID, plan, monthStart)
		}
	}

	newCount, err := a.redis.Incr(ctx, key).Result()
	if err != nil {
		return a.reserveViaDB(ctx, ownerID, plan, monthStart)
	}

	res := &Reservation{Atomic: true, key: key, acc: a}
	if !plan.WithinSubmissionLimit(int(newCount) - 1) {
		res.Rollback(ctx)
		return nil, ErrLimitExceeded
	}
	return res, nil
}

// reserveViaDB is the outage path: count-and-compare without atomicity.
func (a *Accountant) reserveViaDB(ctx context.Context, ownerID string, plan domain.Plan, monthStart time.Time) (*Reservation, error) {
	logger.Warn("quota store unavailable, using direct DB count", "owner_id", ownerID)
	dbCount, err := a.db.CountMonthlySubmissions(ctx, ownerID, monthStart)
	if err != nil {
		return nil, fmt.Errorf("fallback count: %w", err)
	}
	if !plan.WithinSubmissionLimit(dbCount) {
		return nil, ErrLimitExceeded
	}
	return &Reservation{Atomic: false}, nil
}
