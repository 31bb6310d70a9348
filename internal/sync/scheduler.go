package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a sync every five minutes.
const DefaultSchedule = "@every 5m"

// Runner is anything that performs a sync run.
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) (*Result, error)

// Run calls f(ctx).
func (f RunnerFunc) Run(ctx context.Context) (*Result, error) {
	return f(ctx)
}

// Scheduler triggers sync runs on a cron schedule. A tick that fires while
// the previous run is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
}

// NewScheduler registers r under schedule, a robfig/cron expression or
// descriptor such as "@every 5m".
func NewScheduler(schedule string, r Runner, log *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "scheduler")

	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   c,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}

	_, err := c.AddFunc(schedule, func() {
		res, err := r.Run(s.ctx)
		if err != nil {
			s.log.Warn("Scheduled sync failed", "err", err)
			return
		}
		s.log.Info("Scheduled sync done", "run_id", res.RunID,
			"stored", res.Stored, "errored", res.Errored)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("parsing schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins firing runs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started")
}

// Stop cancels a run in flight and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error(msg, append(keysAndValues, "err", err)...)
}
