// Package quota implements the free-tier daily message limit and the
// subscription record that lifts it.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/kvstore"
)

const (
	KeyCounter        = "messageCount"
	DefaultDailyLimit = 5

	dayLayout = "2006-01-02"
)

var ErrExceeded = errors.New("daily message quota exceeded")

// Counter is the persisted per-day message count.
type Counter struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Status struct {
	Allowed   bool
	Unlimited bool
	Remaining int
	Limit     int
}

// Gate enforces the daily limit for non-premium accounts. The counter resets
// whenever the stored date is not today's local calendar day.
type Gate struct {
	mu      sync.Mutex
	kv      kvstore.Store
	ent     Entitlement
	now     func() time.Time
	limit   int
	counter Counter
}

type GateOption func(*Gate)

func WithLimit(n int) GateOption {
	return func(g *Gate) {
		if n > 0 {
			g.limit = n
		}
	}
}

func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGate(ctx context.Context, kv kvstore.Store, ent Entitlement, opts ...GateOption) (*Gate, error) {
	if kv == nil {
		return nil, errors.New("quota: nil kvstore")
	}
	if ent == nil {
		ent = EntitlementFunc(func() bool { return false })
	}
	g := &Gate{kv: kv, ent: ent, now: time.Now, limit: DefaultDailyLimit}
	for _, o := range opts {
		o(g)
	}
	err := kvstore.GetJSON(ctx, kv, KeyCounter, &g.counter)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		log.Warn().Err(err).Str("component", "quota").Msg("stored message count unreadable, resetting")
		g.counter = Counter{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.rollLocked(ctx); err != nil {
		return g, err
	}
	return g, nil
}

// rollLocked resets the counter when the day changed and persists the reset.
func (g *Gate) rollLocked(ctx context.Context) error {
	today := g.now().Format(dayLayout)
	if g.counter.Date == today {
		return nil
	}
	g.counter = Counter{Date: today}
	return g.saveLocked(ctx)
}

func (g *Gate) saveLocked(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := kvstore.PutJSON(ctx, g.kv, KeyCounter, g.counter); err != nil {
		return errors.Wrap(err, "quota: save message count")
	}
	return nil
}

func (g *Gate) statusLocked() Status {
	if g.ent.IsPremium() {
		return Status{Allowed: true, Unlimited: true, Remaining: -1, Limit: g.limit}
	}
	remaining := g.limit - g.counter.Count
	if remaining < 0 {
		remaining = 0
	}
	return Status{Allowed: remaining > 0, Remaining: remaining, Limit: g.limit}
}

// Check reports whether one more message may be sent today.
func (g *Gate) Check(ctx context.Context) Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.rollLocked(ctx); err != nil {
		log.Warn().Err(err).Str("component", "quota").Msg("failed to persist daily reset")
	}
	return g.statusLocked()
}

// Consume checks the gate and, for non-premium accounts, counts one message.
// Check and increment happen under one lock so concurrent senders cannot both
// take the last slot.
func (g *Gate) Consume(ctx context.Context) (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.rollLocked(ctx); err != nil {
		log.Warn().Err(err).Str("component", "quota").Msg("failed to persist daily reset")
	}
	st := g.statusLocked()
	if st.Unlimited {
		return st, nil
	}
	if !st.Allowed {
		return st, ErrExceeded
	}
	g.counter.Count++
	err := g.saveLocked(ctx)
	return g.statusLocked(), err
}

func (g *Gate) Counter() Counter {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counter
}

// Reset forgets the in-memory count, for use after the stored key was deleted.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.counter = Counter{}
	g.mu.Unlock()
}
