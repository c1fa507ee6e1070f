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
	KeySubscription = "subscription"

	StatusActive = "active"
	PlanPro      = "pro"
)

type Subscription struct {
	Status     string    `json:"status,omitempty"`
	Plan       string    `json:"plan,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
	CustomerID string    `json:"customerId,omitempty"`
}

// Premium reports an active, unexpired pro plan.
func (s Subscription) Premium(now time.Time) bool {
	return s.Status == StatusActive && s.Plan == PlanPro && s.ExpiresAt.After(now)
}

// Entitlement answers whether the account bypasses the daily quota.
type Entitlement interface {
	IsPremium() bool
}

// EntitlementFunc adapts a function to Entitlement.
type EntitlementFunc func() bool

func (f EntitlementFunc) IsPremium() bool { return f() }

// Subscriptions is the Entitlement backed by the persisted subscription record.
type Subscriptions struct {
	mu  sync.Mutex
	kv  kvstore.Store
	now func() time.Time
	sub Subscription
}

var _ Entitlement = &Subscriptions{}

func LoadSubscriptions(ctx context.Context, kv kvstore.Store, now func() time.Time) (*Subscriptions, error) {
	if kv == nil {
		return nil, errors.New("quota: nil kvstore")
	}
	if now == nil {
		now = time.Now
	}
	s := &Subscriptions{kv: kv, now: now}
	err := kvstore.GetJSON(ctx, kv, KeySubscription, &s.sub)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		log.Warn().Err(err).Str("component", "quota").Msg("stored subscription unreadable, using free tier")
		s.sub = Subscription{}
	}
	return s, nil
}

func (s *Subscriptions) Subscription() Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

func (s *Subscriptions) IsPremium() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub.Premium(s.now())
}

// Update merges the non-zero fields of patch into the stored record.
func (s *Subscriptions) Update(ctx context.Context, patch Subscription) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.sub
	if patch.Status != "" {
		next.Status = patch.Status
	}
	if patch.Plan != "" {
		next.Plan = patch.Plan
	}
	if !patch.ExpiresAt.IsZero() {
		next.ExpiresAt = patch.ExpiresAt
	}
	if patch.CustomerID != "" {
		next.CustomerID = patch.CustomerID
	}
	if err := kvstore.PutJSON(ctx, s.kv, KeySubscription, next); err != nil {
		return s.sub, errors.Wrap(err, "quota: save subscription")
	}
	s.sub = next
	return next, nil
}

// Reset forgets the in-memory record, for use after the stored key was deleted.
func (s *Subscriptions) Reset() {
	s.mu.Lock()
	s.sub = Subscription{}
	s.mu.Unlock()
}
