package diarizer

import (
	"context"
	"sort"
	"time"

	"github.com/scribeforge/transcribe-orchestrator/internal/config"
	"github.com/scribeforge/transcribe-orchestrator/internal/diarizer/speaker"
	"github.com/scribeforge/transcribe-orchestrator/internal/logging"
	"github.com/scribeforge/transcribe-orchestrator/internal/model"
)

// Stage drives a Diarizer over chunks, filtering low-confidence and
// short-duration turns, capping local speakers per chunk, and mapping
// local labels to stable global speaker ids via a per-job speaker.Arena.
type Stage struct {
	diarizer Diarizer
	cfg      config.DiarizerSettings
}

// NewStage builds a Stage wrapping the given Diarizer.
func NewStage(d Diarizer, cfg config.DiarizerSettings) *Stage {
	return &Stage{diarizer: d, cfg: cfg}
}

// ProcessChunk diarizes one chunk, applies the drop/top-K filters, and maps
// local labels onto global speaker ids using arena (owned by the caller,
// scoped to one job). Retries on transport/timeout error with exponential
// backoff; never returns an error for an empty chunk — downstream merger
// tolerates missing turns.
func (s *Stage) ProcessChunk(ctx context.Context, arena *speaker.Arena, chunk model.AudioChunk) (model.DiarizedChunk, []model.SpeakerTurn, error) {
	maxRetries := s.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	base := s.cfg.BaseBackoff
	if base <= 0 {
		base = 2 * time.Second
	}

	var rawTurns []Turn
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		var err error
		rawTurns, err = s.diarizer.Diarize(ctx, chunk.Samples, chunk.SampleRate)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		logging.Warn("diarizer attempt failed", "chunk_id", chunk.ID, "attempt", attempt, "error", err)

		if attempt == maxRetries {
			break
		}
		delay := base * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return model.DiarizedChunk{ChunkID: chunk.ID, Err: ctx.Err().Error()}, nil, nil
		case <-time.After(delay):
		}
	}

	if lastErr != nil {
		return model.DiarizedChunk{ChunkID: chunk.ID, Err: lastErr.Error()}, nil, nil
	}

	filtered := filterTurns(rawTurns, s.cfg)

	dc := model.DiarizedChunk{
		ChunkID:     chunk.ID,
		LocalLabels: map[string]struct{}{},
	}

	byLabel := map[string][]Turn{}
	for _, t := range filtered {
		byLabel[t.LocalLabel] = append(byLabel[t.LocalLabel], t)
		dc.LocalLabels[t.LocalLabel] = struct{}{}
		dc.Turns = append(dc.Turns, model.DiarizedTurn{
			LocalLabel: t.LocalLabel,
			StartSec:   chunk.StartSec + t.Start,
			EndSec:     chunk.StartSec + t.End,
			Confidence: t.Confidence,
			Embedding:  t.Embedding,
		})
	}

	labelGlobalID := make(map[string]string, len(byLabel))
	claimed := map[string]struct{}{}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		turns := byLabel[label]
		embedding := averageEmbedding(turns)
		if embedding == nil {
			embedding = fallbackFeatureVector(chunk.Samples)
		}
		labelGlobalID[label] = arena.Match(embedding, claimed)
	}

	speakerTurns := make([]model.SpeakerTurn, 0, len(dc.Turns))
	for _, t := range dc.Turns {
		speakerTurns = append(speakerTurns, model.SpeakerTurn{
			GlobalSpeakerID: labelGlobalID[t.LocalLabel],
			StartSec:        t.StartSec,
			EndSec:          t.EndSec,
			Confidence:      t.Confidence,
		})
	}

	return dc, speakerTurns, nil
}

// filterTurns drops turns below duration/confidence thresholds, then caps
// the remaining local speakers at MaxSpeakers by total speaking time.
func filterTurns(turns []Turn, cfg config.DiarizerSettings) []Turn {
	minDuration := cfg.MinSpeakerDurationSec
	if minDuration <= 0 {
		minDuration = 1.0
	}
	minConfidence := cfg.ConfidenceThreshold
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	maxSpeakers := cfg.MaxSpeakers
	if maxSpeakers <= 0 {
		maxSpeakers = 8
	}

	kept := make([]Turn, 0, len(turns))
	speakingTime := map[string]float64{}
	for _, t := range turns {
		if t.End-t.Start < minDuration || t.Confidence < minConfidence {
			continue
		}
		kept = append(kept, t)
		speakingTime[t.LocalLabel] += t.End - t.Start
	}

	if len(speakingTime) <= maxSpeakers {
		return kept
	}

	labels := make([]string, 0, len(speakingTime))
	for l := range speakingTime {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return speakingTime[labels[i]] > speakingTime[labels[j]] })
	allowed := map[string]struct{}{}
	for _, l := range labels[:maxSpeakers] {
		allowed[l] = struct{}{}
	}

	final := make([]Turn, 0, len(kept))
	for _, t := range kept {
		if _, ok := allowed[t.LocalLabel]; ok {
			final = append(final, t)
		}
	}
	return final
}

func averageEmbedding(turns []Turn) []float32 {
	var dims int
	for _, t := range turns {
		if len(t.Embedding) > 0 {
			dims = len(t.Embedding)
			break
		}
	}
	if dims == 0 {
		return nil
	}

	sum := make([]float64, dims)
	count := 0
	for _, t := range turns {
		if len(t.Embedding) != dims {
			continue
		}
		for i, v := range t.Embedding {
			sum[i] += float64(v)
		}
		count++
	}
	if count == 0 {
		return nil
	}

	out := make([]float32, dims)
	for i, v := range sum {
		out[i] = float32(v / float64(count))
	}
	return out
}

// fallbackFeatureVector computes a coarse feature vector from raw samples
// when the diarizer omits embeddings, per the Diarizer contract (§6).
func fallbackFeatureVector(samples []float32) []float32 {
	const buckets = 16
	if len(samples) == 0 {
		return make([]float32, buckets)
	}

	out := make([]float32, buckets)
	bucketSize := len(samples) / buckets
	if bucketSize == 0 {
		bucketSize = 1
	}
	for b := 0; b < buckets; b++ {
		start := b * bucketSize
		end := start + bucketSize
		if start >= len(samples) {
			break
		}
		if end > len(samples) {
			end = len(samples)
		}
		var sumSq float64
		for _, s := range samples[start:end] {
			sumSq += float64(s) * float64(s)
		}
		out[b] = float32(sumSq / float64(end-start))
	}
	return out
}
