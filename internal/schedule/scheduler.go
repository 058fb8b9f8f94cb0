package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string) error
	Start(ctx context.Context)
	Stop()
}

// CronScheduler runs jobs on five-field cron specs. A job whose previous run
// is still going skips its next tick.
type CronScheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID
	ctx     context.Context
}

func NewCronScheduler(logger *zap.Logger) *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		logger:  logger.With(zap.String("component", "scheduler")),
		entries: make(map[string]cron.EntryID),
		ctx:     context.Background(),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}
	entryID, err := c.cron.AddFunc(spec, c.wrap(job, spec))
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	c.entries[name] = entryID
	c.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx != nil {
		c.ctx = ctx
	}
	c.cron.Start()
}

func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronScheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		logger := c.logger.With(zap.String("job", job.Name()), zap.String("spec", spec))
		if !running.CompareAndSwap(false, true) {
			logger.Info("job skipped: still running")
			return
		}
		defer running.Store(false)
		_ = RunOnce(c.ctx, logger, job)
	}
}

// RunOnce runs job immediately with the same logging as a scheduled tick.
func RunOnce(ctx context.Context, logger *zap.Logger, job Job) error {
	logger = logger.With(zap.String("job", job.Name()))
	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job failed", zap.Duration("duration", elapsed), zap.Error(err))
		return err
	}
	logger.Info("job finished", zap.Duration("duration", elapsed))
	return nil
}
