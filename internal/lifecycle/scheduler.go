package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Locker grants a lease so only one instance runs a job at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// Scheduler runs jobs on cron specs. Overlapping runs of the same job are skipped,
// including a startup run still in progress when the first tick arrives.
type Scheduler struct {
	cron     *cron.Cron
	chain    cron.Chain
	locker   Locker
	lockTTL  time.Duration
	now      func() time.Time
	startup  []cron.Job
	starting sync.WaitGroup
	logger   *zap.Logger
}

// NewScheduler creates a scheduler. locker may be nil on a single instance.
// lockTTL should exceed the longest expected run.
func NewScheduler(locker Locker, lockTTL time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl)),
		chain:   cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		locker:  locker,
		lockTTL: lockTTL,
		now:     time.Now,
		logger:  logger,
	}
}

// Add registers run under name on spec. With runOnStart the job also fires once when
// the scheduler starts.
func (s *Scheduler) Add(name, spec string, runOnStart bool, run func(ctx context.Context, now time.Time)) error {
	job := s.chain.Then(cron.FuncJob(func() { s.run(name, run) }))
	if _, err := s.cron.AddJob(spec, job); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	if runOnStart {
		s.startup = append(s.startup, job)
	}
	s.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec), zap.Bool("run_on_start", runOnStart))
	return nil
}

// Start runs the startup jobs in the background and begins the cron loop.
func (s *Scheduler) Start() {
	for _, job := range s.startup {
		s.starting.Add(1)
		go func(job cron.Job) {
			defer s.starting.Done()
			job.Run()
		}(job)
	}
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.starting.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) run(name string, fn func(ctx context.Context, now time.Time)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL)
	defer cancel()

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, "lock:job:"+name, s.lockTTL)
		if err != nil {
			s.logger.Warn("job lock failed, skipping run", zap.String("job", name), zap.Error(err))
			return
		}
		if !ok {
			s.logger.Debug("job held by another instance", zap.String("job", name))
			return
		}
		defer unlock()
	}

	start := s.now()
	fn(ctx, start)
	s.logger.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
