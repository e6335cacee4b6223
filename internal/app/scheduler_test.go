package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerDropsDisabledTasks(t *testing.T) {
	t.Parallel()

	s := NewScheduler(
		Task{Name: "on", Period: time.Second, Run: func(context.Context) {}},
		Task{Name: "zero", Period: 0, Run: func(context.Context) {}},
		Task{Name: "nil", Period: time.Second},
	)
	require.Len(t, s.Tasks(), 1)
	assert.Equal(t, "on", s.Tasks()[0].Name)
}

func TestSchedulerRunsTasksWithoutSelfOverlap(t *testing.T) {
	t.Parallel()

	var fired, inFlight, maxInFlight atomic.Int32
	slow := Task{
		Name:   "slow",
		Period: 5 * time.Millisecond,
		Run: func(context.Context) {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			fired.Add(1)
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, NewScheduler(slow).Run(ctx))

	assert.GreaterOrEqual(t, fired.Load(), int32(2))
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestSchedulerSurvivesPanics(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	boom := Task{
		Name:   "boom",
		Period: 5 * time.Millisecond,
		Run: func(context.Context) {
			fired.Add(1)
			panic("boom")
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, NewScheduler(boom).Run(ctx))
	assert.GreaterOrEqual(t, fired.Load(), int32(2))
}
