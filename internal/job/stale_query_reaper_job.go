package job

import (
	"context"
	"time"
)

const defaultStaleAge = 15 * time.Minute

type staleReaper interface {
	ReapStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StaleQueryReaperJob closes audit rows left pending by invocations that were
// killed before they could record an outcome.
type StaleQueryReaperJob struct {
	audit  staleReaper
	maxAge time.Duration
}

func NewStaleQueryReaperJob(audit staleReaper, maxAge time.Duration) *StaleQueryReaperJob {
	return &StaleQueryReaperJob{audit: audit, maxAge: maxAge}
}

func (j *StaleQueryReaperJob) Name() string {
	return "stale_query_reaper"
}

func (j *StaleQueryReaperJob) Run(ctx context.Context) error {
	if j.audit == nil {
		return nil
	}
	maxAge := j.maxAge
	if maxAge <= 0 {
		maxAge = defaultStaleAge
	}
	_, err := j.audit.ReapStale(ctx, maxAge)
	return err
}
