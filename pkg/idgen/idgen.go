// Package idgen allocates wall-clock-derived identifiers that are strictly
// increasing within the process.
package idgen

import (
	"strconv"
	"sync"
	"time"
)

type Generator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func New() *Generator {
	return &Generator{now: time.Now}
}

// NewWithClock is used by tests that need reproducible ids.
func NewWithClock(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// Next returns the current time in milliseconds, bumped past the previous id
// when two calls land in the same millisecond.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.now().UnixMilli()
	if v <= g.last {
		v = g.last + 1
	}
	g.last = v
	return strconv.FormatInt(v, 10)
}

// Observe raises the floor so ids loaded from storage are never reissued.
func (g *Generator) Observe(id string) {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return
	}
	g.mu.Lock()
	if v > g.last {
		g.last = v
	}
	g.mu.Unlock()
}
