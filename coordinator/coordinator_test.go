package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLifecycle(t *testing.T) {
	c := NewCoordinator(0)

	ctx, err := c.Start(context.Background(), "run-1", "verify_all", 4)
	require.NoError(t, err)

	_, err = c.Start(context.Background(), "run-1", "verify_all", 4)
	assert.Error(t, err)

	c.Step("run-1")
	c.Step("run-1")
	r := c.Get("run-1")
	require.NotNil(t, r)
	assert.Equal(t, StatusRunning, r.Status)
	assert.InDelta(t, 0.5, r.Progress(), 1e-9)

	c.Finish("run-1", nil)
	r = c.Get("run-1")
	assert.Equal(t, StatusCompleted, r.Status)
	assert.False(t, r.EndTime.IsZero())
	assert.ErrorIs(t, ctx.Err(), context.Canceled, "finishing releases the run context")

	// steps after finish are ignored
	c.Step("run-1")
	assert.Equal(t, 2, c.Get("run-1").Done)
}

func TestRunFailureAndCancel(t *testing.T) {
	c := NewCoordinator(10)

	_, err := c.Start(context.Background(), "a", "verify_all", 1)
	require.NoError(t, err)
	c.Finish("a", errors.New("backend closed"))
	assert.Equal(t, StatusFailed, c.Get("a").Status)
	assert.EqualError(t, c.Get("a").Error, "backend closed")

	ctx, err := c.Start(context.Background(), "b", "verify_all", 1)
	require.NoError(t, err)
	c.Cancel("b")
	assert.Equal(t, StatusCancelled, c.Get("b").Status)
	assert.Error(t, ctx.Err())

	assert.Nil(t, c.Get("missing"))
	assert.Len(t, c.List(), 2)
}

func TestHistoryIsBounded(t *testing.T) {
	c := NewCoordinator(2)
	for _, id := range []string{"r1", "r2", "r3"} {
		_, err := c.Start(context.Background(), id, "verify_all", 0)
		require.NoError(t, err)
		c.Finish(id, nil)
	}
	assert.Nil(t, c.Get("r1"))
	assert.NotNil(t, c.Get("r3"))
	assert.Equal(t, float64(1), c.Get("r3").Progress())
}

func TestShutdownCancelsActiveRuns(t *testing.T) {
	c := NewCoordinator(0)
	ctx, err := c.Start(context.Background(), "run", "verify_all", 10)
	require.NoError(t, err)

	go func() {
		<-ctx.Done()
		c.Finish("run", ctx.Err())
	}()

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(sctx))

	assert.True(t, c.IsShuttingDown())
	assert.Equal(t, StatusFailed, c.Get("run").Status)

	_, err = c.Start(context.Background(), "late", "verify_all", 1)
	assert.Error(t, err)
}

func TestStartRacingShutdown(t *testing.T) {
	c := NewCoordinator(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runID := fmt.Sprintf("run-%d", i)
			runCtx, err := c.Start(context.Background(), runID, "scenario", 1)
			if err != nil {
				assert.True(t, c.IsShuttingDown())
				return
			}
			<-runCtx.Done()
			c.Finish(runID, runCtx.Err())
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	wg.Wait()

	_, err := c.Start(context.Background(), "late", "scenario", 1)
	assert.ErrorContains(t, err, "shutting down")
	for _, r := range c.List() {
		assert.NotEqual(t, StatusRunning, r.Status)
	}
}
