package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/events"
	"kgraph/internal/jobs"
	"kgraph/internal/kgerrors"
	"kgraph/internal/store"
)

// TestMain verifies the scheduler and worker pool leave no goroutines behind.
// Bleve's package-global analysis queue workers start at init and have no
// shutdown API, so they are ignored.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/blevesearch/bleve_index_api.AnalysisWorker"))
}

func newScheduler(h *harness, cfg config.Jobs) *jobs.Scheduler {
	return jobs.NewScheduler(h.queue, h.worker, h.graph, cfg, zap.NewNop())
}

// waitForStatus polls until the job reaches the status or the deadline hits.
func waitForStatus(t *testing.T, h *harness, id string, want domain.JobStatus) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := h.queue.Get(context.Background(), id)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s, want %s", id, job.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSchedulerRunsApprovedJobs(t *testing.T) {
	h := newHarness(t)
	job := submitText(t, h, "Recovery restores function after stress.", domain.JobParams{})
	_, err := h.queue.Approve(context.Background(), job.ID, "tester")
	require.NoError(t, err)

	s := newScheduler(h, config.Jobs{Workers: 2, SweepInterval: 20 * time.Millisecond})
	s.Start(context.Background())
	defer s.Stop()

	done := waitForStatus(t, h, job.ID, domain.JobCompleted)
	assert.NotNil(t, done.FinishedAt)
	assert.True(t, h.seen.has(events.TypeJobStarted))
	assert.True(t, h.seen.has(events.TypeJobCompleted))
}

func TestSchedulerStopWaitsForInFlightWork(t *testing.T) {
	h := newHarness(t)
	job := submitText(t, h, "Recovery restores function after stress.", domain.JobParams{})
	_, err := h.queue.Approve(context.Background(), job.ID, "tester")
	require.NoError(t, err)

	started := make(chan struct{})
	h.chat.onCall = func(n int) {
		if n == 1 {
			close(started)
		}
	}

	s := newScheduler(h, config.Jobs{Workers: 1, SweepInterval: 20 * time.Millisecond})
	s.Start(context.Background())

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked the job up")
	}
	s.Stop()

	// Stop either let the chunk finish or interrupted it; in both cases the
	// record is consistent and nothing is left tracked as in flight.
	final, err := h.queue.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Contains(t, []domain.JobStatus{domain.JobCompleted, domain.JobRunning}, final.Status)
}

func TestSchedulerRecoversStaleRunningJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := submitText(t, h, "Recovery restores function after stress.", domain.JobParams{})
	_, err := h.queue.Approve(ctx, job.ID, "tester")
	require.NoError(t, err)

	// Simulate a crash: the store says running but no worker tracks the job.
	stale, err := h.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, stale.Transition(domain.JobRunning, time.Now().UTC()))
	require.NoError(t, h.graph.PutJob(store.WithWriteIntent(ctx), stale))

	s := newScheduler(h, config.Jobs{Workers: 1})
	require.NoError(t, s.RecoverStale(ctx))

	recovered, err := h.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobApproved, recovered.Status)
}

func TestSweepExpiresOverdueApprovals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := submitText(t, h, "Recovery restores function after stress.", domain.JobParams{})
	require.Equal(t, domain.JobAwaitingApproval, job.Status)

	// Backdate the approval deadline.
	past := time.Now().UTC().Add(-time.Minute)
	job.ExpiresAt = &past
	require.NoError(t, h.graph.PutJob(store.WithWriteIntent(ctx), job))

	s := newScheduler(h, config.Jobs{Workers: 1})
	s.Sweep(ctx)

	expired, err := h.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobExpired, expired.Status)
	assert.True(t, h.seen.has(events.TypeJobExpired))
}

func TestSweepPurgesOldTerminalJobsButKeepsProtected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	old := submitText(t, h, "Recovery restores function after stress.", domain.JobParams{})
	kept := submitText(t, h, "Cortisol rhythm follows the light cycle.", domain.JobParams{})

	finished := time.Now().UTC().Add(-48 * time.Hour)
	for _, tc := range []struct {
		job       *domain.Job
		protected bool
	}{
		{old, false},
		{kept, true},
	} {
		j, err := h.queue.Get(ctx, tc.job.ID)
		require.NoError(t, err)
		require.True(t, j.Transition(domain.JobApproved, finished))
		require.True(t, j.Transition(domain.JobRunning, finished))
		require.True(t, j.Transition(domain.JobCompleted, finished))
		j.FinishedAt = &finished
		j.Protected = tc.protected
		require.NoError(t, h.graph.PutJob(store.WithWriteIntent(ctx), j))
	}

	s := newScheduler(h, config.Jobs{Workers: 1, Retention: 24 * time.Hour})
	s.Sweep(ctx)

	_, err := h.queue.Get(ctx, old.ID)
	require.Error(t, err)
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindNotFound))

	still, err := h.queue.Get(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, still.Status)
}
