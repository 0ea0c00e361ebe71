package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingArchiver struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (a *recordingArchiver) ArchiveClosedPositions(_ context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cutoffs = append(a.cutoffs, before)
	return 2, a.err
}

func (a *recordingArchiver) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cutoffs)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiveJobCutoff(t *testing.T) {
	arch := &recordingArchiver{}
	job := NewArchiveJob(arch, 30, discard())
	job.now = func() time.Time { return time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC) }

	n, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.Len(t, arch.cutoffs, 1)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), arch.cutoffs[0])
}

func TestArchiveJobWrapsError(t *testing.T) {
	boom := errors.New("bucket gone")
	job := NewArchiveJob(&recordingArchiver{err: boom}, 7, discard())

	_, err := job.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "archive: closed positions before")
}

func TestNewArchiveSchedulerRejectsBadCron(t *testing.T) {
	job := NewArchiveJob(&recordingArchiver{}, 7, discard())

	_, err := NewArchiveScheduler(job, "not a cron", nil, discard())
	assert.Error(t, err)

	s, err := NewArchiveScheduler(job, "0 3 1 * *", nil, discard())
	require.NoError(t, err)
	from := time.Date(2025, 1, 15, 0, 0, 0, 0, time.Local)
	assert.Equal(t, time.Date(2025, 2, 1, 3, 0, 0, 0, time.Local), s.Next(from))
}

func TestArchiveSchedulerRunsOnTrigger(t *testing.T) {
	arch := &recordingArchiver{}
	job := NewArchiveJob(arch, 7, discard())
	trigger := make(chan struct{}, 1)

	s, err := NewArchiveScheduler(job, "0 3 1 1 *", trigger, discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	trigger <- struct{}{}
	require.Eventually(t, func() bool { return arch.calls() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
