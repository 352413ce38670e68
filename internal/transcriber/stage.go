// Package transcriber drives the Recognizer over chunks: retry/backoff,
// per-attempt timeout scaling, an invalid-output heuristic with
// temperature-altered retries, and a process-wide LRU result cache.
package transcriber

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/scribeforge/transcribe-orchestrator/internal/config"
	"github.com/scribeforge/transcribe-orchestrator/internal/logging"
	"github.com/scribeforge/transcribe-orchestrator/internal/model"
	"github.com/scribeforge/transcribe-orchestrator/internal/recognizer"
	"github.com/scribeforge/transcribe-orchestrator/internal/xerrors"
)

var errInvalidOutput = xerrors.Newf("transcription output failed validation heuristic").
	Component("transcriber").
	Category(xerrors.CategoryTranscription).
	Build()

var metaInstructionPhrases = []string{
	"transcribe with maximum precision",
	"audio in portuguese",
	"as an ai",
	"i cannot transcribe",
	"please provide the audio",
}

// Stage drives a Recognizer over chunks with retry, timeout scaling,
// invalid-output detection, and a shared LRU cache.
type Stage struct {
	recognizer recognizer.Recognizer
	cfg        config.TranscriberSettings
	cache      *lruCache
}

// NewStage builds a Stage wrapping the given Recognizer.
func NewStage(r recognizer.Recognizer, cfg config.TranscriberSettings) *Stage {
	return &Stage{
		recognizer: r,
		cfg:        cfg,
		cache:      newLRUCache(cfg.CacheCapacity),
	}
}

// ProcessAll transcribes all chunks with up to workerCount concurrent
// in-flight recognizer calls, preserving chunk order in the result slice.
func (s *Stage) ProcessAll(ctx context.Context, chunks []model.AudioChunk, workerCount int) ([]model.TranscribedChunk, int) {
	if workerCount <= 0 {
		workerCount = 2
	}

	results := make([]model.TranscribedChunk, len(chunks))
	retryCounter := make([]int, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			tc, retries := s.ProcessChunk(gctx, chunk)
			results[i] = tc
			retryCounter[i] = retries
			return nil
		})
	}
	_ = g.Wait()

	totalRetries := 0
	for _, r := range retryCounter {
		totalRetries += r
	}

	return results, totalRetries
}

// ProcessChunk transcribes a single chunk, returning the number of retries
// consumed. On exhausted retries, returns a TranscribedChunk with Err set
// and empty Text — per spec, the job is not aborted.
func (s *Stage) ProcessChunk(ctx context.Context, chunk model.AudioChunk) (model.TranscribedChunk, int) {
	opts := recognizer.Options{Temperature: 0, WordTimestamps: true}

	key := computeCacheKey(chunk.Samples, chunk.SampleRate, opts)
	if cached, ok := s.cache.get(key); ok {
		return toTranscribedChunk(chunk.ID, cached, ""), 0
	}

	maxRetries := s.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	base := s.cfg.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	maxBackoff := s.cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 4 * time.Second
	}

	attemptTimeout := perAttemptTimeout(chunk.Duration(), s.cfg)
	altTemperatures := []float64{0, 0.1, 0.2}

	var lastErr error
	retries := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		opts.Temperature = altTemperatures[min(attempt, len(altTemperatures)-1)]

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		result, err := s.recognizer.Transcribe(attemptCtx, chunk.Samples, chunk.SampleRate, opts)
		cancel()

		if err == nil && isValidTranscription(result.Text, s.cfg.RepetitionThreshold) {
			s.cache.put(key, result)
			return toTranscribedChunk(chunk.ID, result, ""), retries
		}

		if err != nil {
			lastErr = err
			logging.Warn("transcriber attempt failed", "chunk_id", chunk.ID, "attempt", attempt, "error", err)
		} else {
			lastErr = errInvalidOutput
			logging.Warn("transcriber produced invalid output", "chunk_id", chunk.ID, "attempt", attempt, "text", result.Text)
		}

		if attempt == maxRetries {
			break
		}
		retries++

		delay := base * time.Duration(1<<uint(attempt))
		if delay > maxBackoff {
			delay = maxBackoff
		}
		select {
		case <-ctx.Done():
			return model.TranscribedChunk{ChunkID: chunk.ID, Err: ctx.Err().Error()}, retries
		case <-time.After(delay):
		}
	}

	errMsg := ""
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	return model.TranscribedChunk{ChunkID: chunk.ID, Err: errMsg}, retries
}

func toTranscribedChunk(chunkID string, r recognizer.Result, errMsg string) model.TranscribedChunk {
	subs := make([]model.SubSegment, len(r.SubSegments))
	for i, s := range r.SubSegments {
		subs[i] = model.SubSegment{StartSec: s.Start, EndSec: s.End, Text: s.Text}
	}
	return model.TranscribedChunk{
		ChunkID:     chunkID,
		Text:        r.Text,
		Language:    r.Language,
		Confidence:  r.Confidence,
		SubSegments: subs,
		Err:         errMsg,
	}
}

// perAttemptTimeout scales the recognizer call's deadline with chunk
// duration per cfg.TimeoutMode, clamped to [30s, 5min] in multiplier mode.
func perAttemptTimeout(durationSec float64, cfg config.TranscriberSettings) time.Duration {
	switch cfg.TimeoutMode {
	case config.TimeoutModeCustom:
		if cfg.CustomTimeout > 0 {
			return cfg.CustomTimeout
		}
		return 30 * time.Second
	case config.TimeoutModeNone:
		return 5 * time.Minute
	default:
		multiplier := cfg.TimeoutMultiplier
		if multiplier <= 0 {
			multiplier = 3.0
		}
		timeout := time.Duration(durationSec*multiplier*float64(time.Second))
		if timeout < 30*time.Second {
			timeout = 30 * time.Second
		}
		if timeout > 5*time.Minute {
			timeout = 5 * time.Minute
		}
		return timeout
	}
}

var repeatedWordPattern = regexp.MustCompile(`\S+`)

// isValidTranscription implements the invalid-transcription heuristic:
// meta-instruction leakage, near-empty output, or a word repeated beyond
// repetitionThreshold within a 5-word-or-longer result.
func isValidTranscription(text string, repetitionThreshold int) bool {
	if repetitionThreshold <= 0 {
		repetitionThreshold = 8
	}

	visible := strings.TrimSpace(text)
	if countVisibleRunes(visible) < 3 {
		return false
	}

	lower := strings.ToLower(visible)
	for _, phrase := range metaInstructionPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}

	words := repeatedWordPattern.FindAllString(visible, -1)
	if len(words) >= 5 {
		counts := make(map[string]int, len(words))
		for _, w := range words {
			counts[strings.ToLower(w)]++
		}
		for _, c := range counts {
			if c > repetitionThreshold {
				return false
			}
		}
	}

	return true
}

func countVisibleRunes(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
