package schedule

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type countingJob struct {
	runs int
	err  error
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs++
	return j.err
}

func TestAddJob(t *testing.T) {
	s := NewCronScheduler(zap.NewNop())
	require.NoError(t, s.AddJob(&countingJob{}, "*/5 * * * *"))
	require.Error(t, s.AddJob(&countingJob{}, "*/5 * * * *"))
	require.Error(t, NewCronScheduler(zap.NewNop()).AddJob(&countingJob{}, "not a spec"))
}

func TestWrapRunsAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewCronScheduler(zap.New(core))
	job := &countingJob{}
	tick := s.wrap(job, "* * * * *")
	tick()
	tick()
	require.Equal(t, 2, job.runs)
	require.Equal(t, 2, logs.FilterMessage("job finished").Len())
}

func TestRunOnceReportsError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	job := &countingJob{err: errors.New("db down")}
	err := RunOnce(context.Background(), zap.New(core), job)
	require.ErrorIs(t, err, job.err)
	require.Equal(t, 1, logs.FilterMessage("job failed").Len())
}
