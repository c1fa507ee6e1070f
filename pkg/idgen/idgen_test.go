package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextIsMonotonicWithinSameMillisecond(t *testing.T) {
	fixed := time.UnixMilli(1000)
	g := NewWithClock(func() time.Time { return fixed })
	require.Equal(t, "1000", g.Next())
	require.Equal(t, "1001", g.Next())
	require.Equal(t, "1002", g.Next())
}

func TestObserveRaisesFloor(t *testing.T) {
	g := NewWithClock(func() time.Time { return time.UnixMilli(10) })
	g.Observe("500")
	g.Observe("not-a-number")
	require.Equal(t, "501", g.Next())
}
