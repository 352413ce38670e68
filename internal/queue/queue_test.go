package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/transcribe-orchestrator/internal/governor"
	"github.com/scribeforge/transcribe-orchestrator/internal/model"
)

func tempAudioFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "audio-*.wav")
	require.NoError(t, err)
	defer f.Close()
	return f.Name()
}

type alwaysFits struct{}

func (alwaysFits) Fits(governor.Admittable) bool { return true }

type neverFits struct{}

func (neverFits) Fits(governor.Admittable) bool { return false }

func TestSubmitRejectsMissingFile(t *testing.T) {
	t.Parallel()

	q := New(0, alwaysFits{})
	err := q.Submit(&model.Job{ID: "j1", SourcePath: "/no/such/file.wav"})
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestSubmitRejectsImpossibleJob(t *testing.T) {
	t.Parallel()

	q := New(0, neverFits{})
	err := q.Submit(&model.Job{ID: "j1", SourcePath: tempAudioFile(t), EstimatedMemoryGB: 1000})
	assert.ErrorIs(t, err, ErrInsufficientCapacity)
}

func TestDequeuePriorityOrder(t *testing.T) {
	t.Parallel()

	q := New(0, alwaysFits{})
	path := tempAudioFile(t)

	require.NoError(t, q.Submit(&model.Job{ID: "normal", SourcePath: path, Priority: model.PriorityNormal}))
	require.NoError(t, q.Submit(&model.Job{ID: "high", SourcePath: path, Priority: model.PriorityHigh}))

	ctx := context.Background()
	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "high", first.ID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "normal", second.ID)
}

func TestDequeueFIFOWithinPriority(t *testing.T) {
	t.Parallel()

	q := New(0, alwaysFits{})
	path := tempAudioFile(t)

	require.NoError(t, q.Submit(&model.Job{ID: "first", SourcePath: path, Priority: model.PriorityNormal}))
	require.NoError(t, q.Submit(&model.Job{ID: "second", SourcePath: path, Priority: model.PriorityNormal}))

	ctx := context.Background()
	j1, _ := q.Dequeue(ctx)
	j2, _ := q.Dequeue(ctx)
	assert.Equal(t, "first", j1.ID)
	assert.Equal(t, "second", j2.ID)
}

func TestDequeueBlocksUntilSubmit(t *testing.T) {
	t.Parallel()

	q := New(0, alwaysFits{})
	path := tempAudioFile(t)

	result := make(chan *model.Job, 1)
	go func() {
		job, err := q.Dequeue(context.Background())
		if err == nil {
			result <- job
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Submit(&model.Job{ID: "late", SourcePath: path}))

	select {
	case job := <-result:
		assert.Equal(t, "late", job.ID)
	case <-time.After(time.Second):
		t.Fatal("expected dequeue to unblock after submit")
	}
}

func TestDequeueRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	q := New(0, alwaysFits{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected dequeue to unblock on cancellation")
	}
}

func TestStopUnblocksDequeue(t *testing.T) {
	t.Parallel()

	q := New(0, alwaysFits{})
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueStopped)
	case <-time.After(time.Second):
		t.Fatal("expected dequeue to unblock on stop")
	}
}

func TestQueueFullRejectsSubmit(t *testing.T) {
	t.Parallel()

	q := New(1, alwaysFits{})
	path := tempAudioFile(t)
	require.NoError(t, q.Submit(&model.Job{ID: "one", SourcePath: path}))

	err := q.Submit(&model.Job{ID: "two", SourcePath: path})
	assert.ErrorIs(t, err, ErrQueueFull)
}
