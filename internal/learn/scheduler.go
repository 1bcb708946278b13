package learn

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/config"
)

// Job is a periodic background task.
type Job interface {
	// Name identifies the job in logs and must be unique per scheduler.
	Name() string
	// Schedule is a 5-field cron expression or a descriptor such as "@every 6h".
	Schedule() string
	Run(ctx context.Context) error
}

// Scheduler runs registered jobs on their cron schedules. A tick that
// arrives while the previous run of the same job is still going is skipped.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   []Job
	names  map[string]struct{}
	locks  map[string]*sync.Mutex
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		names:  make(map[string]struct{}),
		locks:  make(map[string]*sync.Mutex),
		logger: logger,
	}
}

// RegisterJob adds j. Duplicate names are rejected.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.names[name]; exists {
		return fmt.Errorf("scheduler: duplicate job name %q", name)
	}
	s.names[name] = struct{}{}
	s.locks[name] = &sync.Mutex{}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start validates every schedule and begins running jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	for _, job := range s.jobs {
		job := job
		lock := s.locks[job.Name()]
		_, err := c.AddFunc(job.Schedule(), func() {
			if !lock.TryLock() {
				s.logger.Warn("Job still running, skipping tick", zap.String("job", job.Name()))
				return
			}
			defer lock.Unlock()

			s.logger.Debug("Job started", zap.String("job", job.Name()))
			if err := job.Run(ctx); err != nil {
				s.logger.Error("Job failed", zap.String("job", job.Name()), zap.Error(err))
				return
			}
			s.logger.Debug("Job completed", zap.String("job", job.Name()))
		})
		if err != nil {
			cancel()
			return fmt.Errorf("scheduler: invalid schedule for job %q: %w", job.Name(), err)
		}
	}

	s.cron = c
	s.cancel = cancel
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels running jobs and waits for them to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.cron = nil
	s.logger.Info("Scheduler stopped")
	return nil
}

// LoopJob runs the learning loop on a schedule.
type LoopJob struct {
	Loop         *Loop
	ScheduleExpr string
	Logger       *zap.Logger
}

var _ Job = (*LoopJob)(nil)

// Name implements Job.
func (j *LoopJob) Name() string { return "learn" }

// Schedule implements Job.
func (j *LoopJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return config.DefaultLearnSchedule
}

// Run implements Job.
func (j *LoopJob) Run(ctx context.Context) error {
	report, err := j.Loop.RunOnce(ctx, nil)
	if err != nil {
		return fmt.Errorf("learning run %s: %w", report.RunID, err)
	}
	if j.Logger != nil && report.Learned() > 0 {
		j.Logger.Info("Scheduled learning added facts", zap.Int("learned", report.Learned()))
	}
	return nil
}
