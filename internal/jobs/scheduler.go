package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/store"
)

// Scheduler owns the worker slots and the maintenance sweeps: approval
// expiry, terminal-job retention and stale-running recovery.
type Scheduler struct {
	queue  *Queue
	worker *Worker
	graph  store.Graph
	config config.Jobs
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	slots  chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(queue *Queue, worker *Worker, graph store.Graph, cfg config.Jobs, logger *zap.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &Scheduler{
		queue:  queue,
		worker: worker,
		graph:  graph,
		config: cfg,
		logger: logger,
		done:   make(chan struct{}),
		slots:  make(chan struct{}, cfg.Workers),
	}
}

// Start recovers stale running jobs, then dispatches and sweeps until the
// context ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	if err := s.RecoverStale(ctx); err != nil {
		s.logger.Warn("stale job recovery failed", zap.Error(err))
	}
	go s.loop(ctx)
}

// Stop halts dispatching and waits for in-flight workers to yield. Jobs
// interrupted mid-chunk stay running in the store and are recovered at the
// next Start.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	s.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
			s.dispatch(ctx)
		case <-s.queue.Wake():
			s.dispatch(ctx)
		}
	}
}

// dispatch fills free worker slots with approved jobs, oldest first.
func (s *Scheduler) dispatch(ctx context.Context) {
	jobs, err := s.graph.ListJobs(ctx, store.JobFilter{
		Statuses: []domain.JobStatus{domain.JobApproved},
		Limit:    s.config.Workers * 2,
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("dispatch listing failed", zap.Error(err))
		}
		return
	}

	// The store lists newest first; run in submission order.
	for i := len(jobs) - 1; i >= 0; i-- {
		job := jobs[i]
		select {
		case s.slots <- struct{}{}:
		default:
			return
		}
		jctx, cancel := context.WithCancel(ctx)
		if !s.queue.track(job.ID, cancel) {
			cancel()
			<-s.slots
			continue
		}
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			defer func() { <-s.slots }()
			defer s.queue.untrack(id)
			defer cancel()
			if err := s.worker.Run(jctx, id); err != nil && jctx.Err() == nil {
				s.logger.Error("worker run failed", zap.String("job_id", id), zap.Error(err))
			}
		}(job.ID)
	}
}

// Sweep runs one maintenance pass. Exposed for tests and admin triggers.
func (s *Scheduler) Sweep(ctx context.Context) {
	s.expireApprovals(ctx)
	s.enforceRetention(ctx)
}

func (s *Scheduler) expireApprovals(ctx context.Context) {
	jobs, err := s.graph.ListJobs(ctx, store.JobFilter{
		Statuses: []domain.JobStatus{domain.JobAwaitingApproval},
	})
	if err != nil {
		s.logger.Warn("approval sweep listing failed", zap.Error(err))
		return
	}
	now := time.Now().UTC()
	for _, job := range jobs {
		if job.ExpiresAt == nil || now.Before(*job.ExpiresAt) {
			continue
		}
		if err := s.queue.expire(ctx, job); err != nil {
			s.logger.Warn("expiry failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) enforceRetention(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.Retention)
	jobs, err := s.graph.ListJobs(ctx, store.JobFilter{
		Statuses: []domain.JobStatus{
			domain.JobCompleted, domain.JobFailed, domain.JobCancelled, domain.JobExpired,
		},
	})
	if err != nil {
		s.logger.Warn("retention sweep listing failed", zap.Error(err))
		return
	}
	for _, job := range jobs {
		if job.Protected || job.FinishedAt == nil || job.FinishedAt.After(cutoff) {
			continue
		}
		if err := s.queue.purge(ctx, job); err != nil {
			s.logger.Warn("retention delete failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// RecoverStale resets running jobs left behind by a dead worker back to
// approved so they are picked up again.
func (s *Scheduler) RecoverStale(ctx context.Context) error {
	jobs, err := s.graph.ListJobs(ctx, store.JobFilter{
		Statuses: []domain.JobStatus{domain.JobRunning},
	})
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, job := range jobs {
		if s.queue.tracked(job.ID) {
			continue
		}
		if !job.Transition(domain.JobApproved, now) {
			continue
		}
		if err := s.graph.PutJob(store.WithWriteIntent(ctx), job); err != nil {
			return err
		}
		s.logger.Warn("stale running job reset to approved", zap.String("job_id", job.ID))
	}
	return nil
}
