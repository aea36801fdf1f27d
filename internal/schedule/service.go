// Package schedule runs the periodic credit maintenance jobs on cron patterns.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memohai/botsmith/internal/metrics"
)

const jobTimeout = 5 * time.Minute

type entry struct {
	job     Job
	id      cron.EntryID
	lastRun time.Time
	lastErr string
	runs    int
}

type Service struct {
	cron    *cron.Cron
	parser  cron.Parser
	metrics *metrics.Metrics
	logger  *slog.Logger
	mu      sync.Mutex
	jobs    map[string]*entry
}

func NewService(log *slog.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		parser:  parser,
		metrics: m,
		logger:  log.With(slog.String("service", "schedule")),
		jobs:    map[string]*entry{},
	}
}

// Add registers job. An empty pattern registers nothing, which is how a job
// is switched off in config.
func (s *Service) Add(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	job.Pattern = strings.TrimSpace(job.Pattern)
	if job.Pattern == "" {
		s.logger.Info("job disabled", slog.String("job", job.Name))
		return nil
	}
	if job.Name == "" || job.Run == nil {
		return ErrInvalidJob
	}
	sched, err := s.parser.Parse(job.Pattern)
	if err != nil {
		return fmt.Errorf("invalid cron pattern for %s: %w", job.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	name := job.Name
	id := s.cron.Schedule(sched, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		_ = s.run(ctx, name)
	}))
	s.jobs[name] = &entry{job: job, id: id}
	return nil
}

func (s *Service) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Statuses())))
}

// Stop waits for running jobs or until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs a registered job now, outside its schedule.
func (s *Service) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	return s.run(ctx, name)
}

func (s *Service) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.jobs))
	for name, e := range s.jobs {
		st := Status{Name: name, Pattern: e.job.Pattern, LastError: e.lastErr, Runs: e.runs}
		if next := s.cron.Entry(e.id).Next; !next.IsZero() {
			st.Next = &next
		}
		if !e.lastRun.IsZero() {
			last := e.lastRun
			st.LastRun = &last
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) run(ctx context.Context, name string) (err error) {
	s.mu.Lock()
	e := s.jobs[name]
	s.mu.Unlock()

	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		s.mu.Lock()
		e.lastRun = started
		e.runs++
		e.lastErr = ""
		if err != nil {
			e.lastErr = err.Error()
		}
		s.mu.Unlock()
		if err != nil {
			s.metrics.RecordJobError(name)
			s.logger.Error("job failed", slog.String("job", name), slog.Any("error", err))
			return
		}
		s.logger.Debug("job finished", slog.String("job", name), slog.Duration("took", time.Since(started)))
	}()
	return e.job.Run(ctx)
}
