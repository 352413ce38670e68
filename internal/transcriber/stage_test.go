package transcriber

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeforge/transcribe-orchestrator/internal/config"
	"github.com/scribeforge/transcribe-orchestrator/internal/model"
	"github.com/scribeforge/transcribe-orchestrator/internal/recognizer"
)

func testCfg() config.TranscriberSettings {
	return config.TranscriberSettings{
		MaxRetries:          2,
		BaseBackoff:         time.Millisecond,
		MaxBackoff:          4 * time.Millisecond,
		CacheCapacity:       16,
		RepetitionThreshold: 8,
		TimeoutMode:         config.TimeoutModeNone,
	}
}

func chunkOf(id string, seconds float64) model.AudioChunk {
	n := int(seconds * 16000)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.1
	}
	return model.AudioChunk{ID: id, JobID: "job1", SampleRate: 16000, Samples: samples, StartSec: 0, EndSec: seconds}
}

func TestProcessChunkSucceedsOnFirstAttempt(t *testing.T) {
	t.Parallel()

	fake := &recognizer.Fake{Result: recognizer.Result{Text: "hello world this works fine"}}
	s := NewStage(fake, testCfg())

	tc, retries := s.ProcessChunk(context.Background(), chunkOf("c1", 2))
	assert.Equal(t, 0, retries)
	assert.Empty(t, tc.Err)
	assert.Equal(t, "hello world this works fine", tc.Text)
	assert.Equal(t, 1, fake.CallCount())
}

func TestProcessChunkRetriesOnInvalidOutputThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	fake := &recognizer.Fake{
		OnCall: func(samples []float32, sampleRate int, opts recognizer.Options) (recognizer.Result, error) {
			calls++
			if calls < 2 {
				return recognizer.Result{Text: "as an ai I cannot transcribe this"}, nil
			}
			return recognizer.Result{Text: "a legitimate transcription result here"}, nil
		},
	}
	s := NewStage(fake, testCfg())

	tc, retries := s.ProcessChunk(context.Background(), chunkOf("c2", 2))
	assert.Equal(t, 1, retries)
	assert.Empty(t, tc.Err)
	assert.Equal(t, "a legitimate transcription result here", tc.Text)
	assert.Equal(t, 2, calls)
}

func TestProcessChunkRetriesOnRecognizerError(t *testing.T) {
	t.Parallel()

	calls := 0
	fake := &recognizer.Fake{
		OnCall: func(samples []float32, sampleRate int, opts recognizer.Options) (recognizer.Result, error) {
			calls++
			if calls < 3 {
				return recognizer.Result{}, assertErr
			}
			return recognizer.Result{Text: "finally a good transcription"}, nil
		},
	}
	s := NewStage(fake, testCfg())

	tc, retries := s.ProcessChunk(context.Background(), chunkOf("c3", 2))
	assert.Equal(t, 2, retries)
	assert.Empty(t, tc.Err)
	assert.Equal(t, 3, calls)
}

func TestProcessChunkReturnsErrAfterExhaustingRetries(t *testing.T) {
	t.Parallel()

	fake := &recognizer.Fake{Err: assertErr}
	cfg := testCfg()
	cfg.MaxRetries = 2
	s := NewStage(fake, cfg)

	tc, retries := s.ProcessChunk(context.Background(), chunkOf("c4", 2))
	assert.Equal(t, 2, retries)
	assert.NotEmpty(t, tc.Err)
	assert.Empty(t, tc.Text)
	assert.Equal(t, 3, fake.CallCount()) // attempts 0,1,2
}

func TestProcessChunkUsesCacheOnSecondCall(t *testing.T) {
	t.Parallel()

	fake := &recognizer.Fake{Result: recognizer.Result{Text: "cached transcription content"}}
	s := NewStage(fake, testCfg())

	c := chunkOf("c5", 2)
	_, _ = s.ProcessChunk(context.Background(), c)
	_, retries := s.ProcessChunk(context.Background(), c)

	assert.Equal(t, 0, retries)
	assert.Equal(t, 1, fake.CallCount(), "second call should be served from cache")
}

func TestProcessChunkRespectsContextCancellationDuringBackoff(t *testing.T) {
	t.Parallel()

	fake := &recognizer.Fake{Err: assertErr}
	s := NewStage(fake, testCfg())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tc, _ := s.ProcessChunk(ctx, chunkOf("c6", 2))
	assert.NotEmpty(t, tc.Err)
}

func TestProcessAllPreservesOrder(t *testing.T) {
	t.Parallel()

	fake := &recognizer.Fake{
		OnCall: func(samples []float32, sampleRate int, opts recognizer.Options) (recognizer.Result, error) {
			return recognizer.Result{Text: "a consistent transcription result"}, nil
		},
	}
	s := NewStage(fake, testCfg())

	chunks := []model.AudioChunk{chunkOf("a", 1), chunkOf("b", 1), chunkOf("c", 1)}
	results, totalRetries := s.ProcessAll(context.Background(), chunks, 2)

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, "b", results[1].ChunkID)
	assert.Equal(t, "c", results[2].ChunkID)
	assert.Equal(t, 0, totalRetries)
}

func TestProcessAllPropagatesCancellation(t *testing.T) {
	t.Parallel()

	fake := &recognizer.Fake{Err: assertErr}
	cfg := testCfg()
	cfg.MaxRetries = 50
	cfg.BaseBackoff = 50 * time.Millisecond
	cfg.MaxBackoff = 50 * time.Millisecond
	s := NewStage(fake, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	chunks := []model.AudioChunk{chunkOf("x", 1), chunkOf("y", 1)}

	done := make(chan []model.TranscribedChunk, 1)
	go func() {
		results, _ := s.ProcessAll(ctx, chunks, 2)
		done <- results
	}()

	select {
	case results := <-done:
		require.Len(t, results, 2)
		for _, tc := range results {
			assert.Contains(t, tc.Err, "context canceled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessAll did not honor context cancellation: a stage-level cancel must reach every in-flight ProcessChunk call")
	}
}

func TestIsValidTranscriptionRejectsShortOutput(t *testing.T) {
	t.Parallel()
	assert.False(t, isValidTranscription("  ", 8))
	assert.False(t, isValidTranscription("ok", 8))
}

func TestIsValidTranscriptionRejectsMetaInstructionLeakage(t *testing.T) {
	t.Parallel()
	assert.False(t, isValidTranscription("As an AI I cannot transcribe this audio", 8))
}

func TestIsValidTranscriptionRejectsExcessiveRepetition(t *testing.T) {
	t.Parallel()
	text := "thanks thanks thanks thanks thanks thanks thanks thanks thanks thanks"
	assert.False(t, isValidTranscription(text, 8))
}

func TestIsValidTranscriptionAcceptsNormalText(t *testing.T) {
	t.Parallel()
	assert.True(t, isValidTranscription("the quick brown fox jumps over the lazy dog", 8))
}

func TestPerAttemptTimeoutClampsToBounds(t *testing.T) {
	t.Parallel()

	cfg := config.TranscriberSettings{TimeoutMode: config.TimeoutModeMultiplier, TimeoutMultiplier: 3.0}
	assert.Equal(t, 30*time.Second, perAttemptTimeout(1, cfg))
	assert.Equal(t, 5*time.Minute, perAttemptTimeout(1000, cfg))
}

func TestPerAttemptTimeoutCustomMode(t *testing.T) {
	t.Parallel()

	cfg := config.TranscriberSettings{TimeoutMode: config.TimeoutModeCustom, CustomTimeout: 45 * time.Second}
	assert.Equal(t, 45*time.Second, perAttemptTimeout(999, cfg))
}

var assertErr = &staticErr{"recognizer unavailable"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }
