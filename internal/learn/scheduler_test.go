package learn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type countingJob struct {
	name     string
	schedule string
	calls    atomic.Int32
	err      error
}

func (j *countingJob) Name() string     { return j.name }
func (j *countingJob) Schedule() string { return j.schedule }
func (j *countingJob) Run(context.Context) error {
	j.calls.Add(1)
	return j.err
}

func TestSchedulerRejectsDuplicateNames(t *testing.T) {
	s := NewScheduler(nil)
	require.NoError(t, s.RegisterJob(&countingJob{name: "a", schedule: "* * * * *"}))
	assert.Error(t, s.RegisterJob(&countingJob{name: "a", schedule: "* * * * *"}))
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler(zap.NewNop())
	require.NoError(t, s.RegisterJob(&countingJob{name: "bad", schedule: "not a schedule"}))
	assert.Error(t, s.Start())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestSchedulerAcceptsDescriptors(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler(zap.NewNop())
	require.NoError(t, s.RegisterJob(&countingJob{name: "every", schedule: "@every 6h"}))
	require.NoError(t, s.RegisterJob(&countingJob{name: "daily", schedule: "@daily"}))
	require.NoError(t, s.RegisterJob(&countingJob{name: "five", schedule: "*/5 * * * *"}))
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop(context.Background()))
}

func TestSchedulerRunsJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler(zap.NewNop())
	ok := &countingJob{name: "ok", schedule: "@every 1s"}
	failing := &countingJob{name: "failing", schedule: "@every 1s", err: errors.New("boom")}
	require.NoError(t, s.RegisterJob(ok))
	require.NoError(t, s.RegisterJob(failing))
	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool {
		return ok.calls.Load() > 0 && failing.calls.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(nil)
	assert.NoError(t, s.Stop(context.Background()))
}

func TestLoopJobDefaults(t *testing.T) {
	j := &LoopJob{}
	assert.Equal(t, "learn", j.Name())
	assert.Equal(t, "@every 6h", j.Schedule())

	j.ScheduleExpr = "0 3 * * *"
	assert.Equal(t, "0 3 * * *", j.Schedule())
}

func TestLoopJobRun(t *testing.T) {
	h := newLoopHarness(t, Options{DefaultTopics: []string{topicAI}})
	j := &LoopJob{Loop: h.loop, Logger: zap.NewNop()}

	require.NoError(t, j.Run(context.Background()))
	assert.Len(t, h.facts(t, "autolearn"), 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, j.Run(ctx), context.Canceled)
}
