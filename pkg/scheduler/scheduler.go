package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/flock/pkg/observability"
)

// JobFunc is the body of a scheduled job
type JobFunc func(ctx context.Context) error

// Scheduler runs named jobs on cron schedules. A job never overlaps with
// itself and a panicking job does not stop the scheduler.
type Scheduler struct {
	cron    *cron.Cron
	logger  *observability.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]JobFunc
}

// New creates a stopped scheduler. metrics may be nil.
func New(logger *observability.Logger, metrics *observability.Metrics) *Scheduler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	logger = logger.WithField("component", "scheduler")
	clog := cronLogger{logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]JobFunc),
	}
}

// Add registers a job. An empty spec leaves the job disabled but still
// runnable through RunNow.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	if spec != "" {
		if _, err := s.cron.AddFunc(spec, func() { _ = s.run(s.ctx, name, fn) }); err != nil {
			return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
		}
		s.logger.WithFields(map[string]interface{}{"job": name, "schedule": spec}).Info("Scheduled job")
	}
	s.jobs[name] = fn
	return nil
}

// RunNow runs a registered job synchronously
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, name, fn)
}

func (s *Scheduler) run(ctx context.Context, name string, fn JobFunc) (err error) {
	ctx, span := observability.StartSpan(ctx, "scheduler."+name)
	defer func() { observability.EndSpan(span, err) }()

	log := s.logger.WithField("job", name)
	log.Debug("Job started")
	err = fn(ctx)
	s.metrics.RecordJobRun(name, err)
	if err != nil {
		log.WithError(err).Error("Job failed")
		return err
	}
	log.Debug("Job finished")
	return nil
}

// Start begins running scheduled jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx expires.
// Running jobs see their context cancelled once ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// cronLogger adapts the structured logger to cron's logging interface
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) fields(keysAndValues []interface{}) *observability.Logger {
	log := l.logger
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			log = log.WithField(key, fmt.Sprint(keysAndValues[i+1]))
		}
	}
	return log
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).WithError(err).Error("cron: " + msg)
}
