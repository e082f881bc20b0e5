package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/broadcast-server-go/internal/model"
)

type countingRunner struct {
	calls    atomic.Int32
	err      error
	deadline atomic.Bool
}

func (r *countingRunner) RunOnce(ctx context.Context) (*model.DispatchReport, error) {
	r.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		r.deadline.Store(true)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &model.DispatchReport{
		Schedules: []model.ScheduleReport{{ScheduleID: "s1", MarkRunError: "db locked"}},
	}, nil
}

func TestNewDispatchJob(t *testing.T) {
	t.Run("accepts descriptors and cron expressions", func(t *testing.T) {
		for _, spec := range []string{"@every 1m", "*/5 * * * *", "@hourly"} {
			_, err := NewDispatchJob(&countingRunner{}, spec, time.Minute)
			assert.NoError(t, err, spec)
		}
	})

	t.Run("rejects an invalid schedule", func(t *testing.T) {
		_, err := NewDispatchJob(&countingRunner{}, "every minute", time.Minute)
		assert.Error(t, err)
	})
}

func TestDispatchJobRun(t *testing.T) {
	t.Run("bounds the pass with a timeout", func(t *testing.T) {
		runner := &countingRunner{}
		job, err := NewDispatchJob(runner, "@every 1m", time.Minute)
		require.NoError(t, err)

		job.run()

		assert.Equal(t, int32(1), runner.calls.Load())
		assert.True(t, runner.deadline.Load())
	})

	t.Run("survives runner errors", func(t *testing.T) {
		runner := &countingRunner{err: errors.New("db down")}
		job, err := NewDispatchJob(runner, "@every 1m", time.Minute)
		require.NoError(t, err)

		assert.NotPanics(t, job.run)
	})
}

func TestDispatchJobStartStop(t *testing.T) {
	runner := &countingRunner{}
	job, err := NewDispatchJob(runner, "@every 1s", time.Second)
	require.NoError(t, err)

	job.Start()
	assert.Eventually(t, func() bool { return runner.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job.Stop(ctx)

	calls := runner.calls.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, calls, runner.calls.Load())
}
