// Package scheduler drives periodic pipeline runs. One run at a time;
// overlapping triggers are skipped, not queued.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultCronSpec runs the pipeline every six hours.
const DefaultCronSpec = "0 */6 * * *"

// ErrRunInProgress is returned when a trigger finds a run already executing.
var ErrRunInProgress = errors.New("scheduler: run already in progress")

// ErrThrottled is returned when manual triggers arrive faster than the
// configured limit allows.
var ErrThrottled = errors.New("scheduler: manual trigger throttled")

// RunFunc executes one pipeline run.
type RunFunc func(ctx context.Context)

// Scheduler owns the cron loop and the manual-trigger gate.
type Scheduler struct {
	spec    string
	run     RunFunc
	log     *zap.Logger
	cron    *cron.Cron
	limiter *rate.Limiter
	running atomic.Bool
}

// New builds a scheduler for the given cron spec. Manual triggers are rate
// limited to one per minute with a burst of one.
func New(spec string, run RunFunc, log *zap.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultCronSpec
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		spec:    spec,
		run:     run,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(1.0/60.0), 1),
	}
}

// Start launches the cron loop and fires one immediate run so a fresh deploy
// does not wait for the first tick. Blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.spec, func() {
		if err := s.trigger(ctx, "cron"); err != nil {
			s.log.Warn("scheduled run skipped", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.log.Info("scheduler started", zap.String("cron", s.spec))
	if err := s.trigger(ctx, "startup"); err != nil {
		s.log.Warn("startup run skipped", zap.Error(err))
	}

	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Info("scheduler stopped")
	return ctx.Err()
}

// TriggerNow requests an immediate run, subject to the rate limit and the
// single-run guard.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	if !s.limiter.Allow() {
		return ErrThrottled
	}
	return s.trigger(ctx, "manual")
}

// Running reports whether a run is currently executing.
func (s *Scheduler) Running() bool { return s.running.Load() }

func (s *Scheduler) trigger(ctx context.Context, origin string) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer s.running.Store(false)

	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("pipeline run triggered", zap.String("origin", origin))
	s.run(ctx)
	return nil
}
