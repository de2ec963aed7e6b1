package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStarter struct {
	calls atomic.Int32
	fail  bool
}

func (c *countingStarter) StartDueSeasons(context.Context) (int, error) {
	c.calls.Add(1)
	if c.fail {
		return 0, errors.New("database unavailable")
	}
	return 1, nil
}

func TestSeasonStartWorkerPollsOnEveryTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	starter := &countingStarter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	NewSeasonStartWorker(starter, clock, time.Minute).Start(ctx)

	require.Eventually(t, func() bool { return starter.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return starter.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return starter.calls.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestSeasonStartWorkerKeepsPollingAfterErrors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	starter := &countingStarter{fail: true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	NewSeasonStartWorker(starter, clock, 0).Start(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return starter.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, starter.calls.Load())
}
