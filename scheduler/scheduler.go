package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"car-scraper/metrics"
	"car-scraper/utils"
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrDuplicateJob = errors.New("job already registered")
	ErrNotStarted   = errors.New("scheduler not started")
)

// Handler is the body of a job. It must honour ctx.
type Handler func(ctx context.Context) error

// Trigger says when a job fires.
type Trigger struct {
	spec string
}

// Every fires at a fixed interval measured from scheduler start.
func Every(d time.Duration) Trigger {
	return Trigger{spec: "@every " + d.String()}
}

// Cron fires on a standard five-field cron expression, e.g. "0 23 * * *".
func Cron(expr string) Trigger {
	return Trigger{spec: expr}
}

func (t Trigger) String() string { return t.spec }

type Job struct {
	ID      string
	Trigger Trigger
	Handler Handler
}

type entry struct {
	job     Job
	running sync.Mutex
	cronID  cron.EntryID
}

// Scheduler runs registered jobs on their triggers. A job never overlaps
// with itself: a fire that lands while the previous one is still running is
// dropped and logged. Different jobs run independently.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	logger *utils.Logger

	mu      sync.Mutex
	jobs    map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

// New builds a stopped scheduler evaluating cron expressions in loc.
// A nil loc means time.Local.
func New(loc *time.Location, logger *utils.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger = logger.With("component", "scheduler")
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cron.PrintfLogger(logger))),
		),
		parser: parser,
		logger: logger,
		jobs:   make(map[string]*entry),
	}
}

// Add registers a job. The trigger is validated immediately.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" || job.Handler == nil {
		return errors.New("job needs an id and a handler")
	}
	if _, err := s.parser.Parse(job.Trigger.spec); err != nil {
		return fmt.Errorf("job %s: invalid trigger %q: %w", job.ID, job.Trigger.spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Trigger.spec, func() { s.fire(e) })
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	e.cronID = id
	s.jobs[job.ID] = e
	s.logger.Info("[scheduler] Registered %s (%s)", job.ID, job.Trigger)
	return nil
}

// Start begins firing triggers. Handlers receive a context derived from ctx
// that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	n := len(s.jobs)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("[scheduler] Started with %d job(s)", n)
}

// Stop cancels running handlers and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-s.cron.Stop().Done()
	s.pending.Wait()
	s.logger.Info("[scheduler] Stopped")
}

// Next reports the next scheduled fire time of a job.
func (s *Scheduler) Next(id string) (time.Time, error) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return s.cron.Entry(e.cronID).Next, nil
}

// RunNow executes a job synchronously on ctx. ran is false when the job
// was already running and this call did nothing.
func (s *Scheduler) RunNow(ctx context.Context, id string) (ran bool, err error) {
	e, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	if !e.running.TryLock() {
		s.skipped(e)
		return false, nil
	}
	defer e.running.Unlock()
	return true, s.execute(ctx, e)
}

// Trigger starts a job in the background on the scheduler's context.
// started is false when the job was already running.
func (s *Scheduler) Trigger(id string) (started bool, err error) {
	e, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return false, ErrNotStarted
	}
	if !e.running.TryLock() {
		s.skipped(e)
		return false, nil
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer e.running.Unlock()
		_ = s.execute(ctx, e)
	}()
	return true, nil
}

func (s *Scheduler) lookup(id string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return e, nil
}

func (s *Scheduler) fire(e *entry) {
	if !e.running.TryLock() {
		s.skipped(e)
		return
	}
	defer e.running.Unlock()
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_ = s.execute(ctx, e)
}

func (s *Scheduler) skipped(e *entry) {
	metrics.RecordJobSkipped(e.job.ID)
	s.logger.Warn("[scheduler] %s is still running, skipping this fire", e.job.ID)
}

// execute runs the handler and turns a panic into an error.
func (s *Scheduler) execute(ctx context.Context, e *entry) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", e.job.ID, r)
		}
		if err != nil {
			s.logger.Error("[scheduler] %s failed after %v: %v", e.job.ID, time.Since(start).Round(time.Millisecond), err)
			return
		}
		s.logger.Debug("[scheduler] %s finished in %v", e.job.ID, time.Since(start).Round(time.Millisecond))
	}()
	return e.job.Handler(ctx)
}
