package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsMatchSpecValues(t *testing.T) {
	t.Parallel()

	d := Defaults()

	assert.InDelta(t, 56.0, d.Governor.MaxMemoryGB, 0)
	assert.InDelta(t, 0.3, d.Governor.LongFormMemCoefficient, 0)
	assert.InDelta(t, 10.0, d.Governor.LongFormMemBase, 0)
	assert.InDelta(t, 0.15, d.Governor.ShortFormMemCoefficient, 0)
	assert.InDelta(t, 6.0, d.Governor.ShortFormMemBase, 0)
	assert.InDelta(t, 0.7, d.Diarizer.SimilarityThreshold, 0)
	assert.Equal(t, 8, d.Diarizer.MaxSpeakers)
	assert.InDelta(t, 1.0, d.Diarizer.MinSpeakerDurationSec, 0)
	assert.InDelta(t, 0.5, d.Diarizer.ConfidenceThreshold, 0)
	assert.Equal(t, 8, d.Transcriber.RepetitionThreshold)
	assert.Equal(t, TimeoutModeMultiplier, d.Transcriber.TimeoutMode)
	assert.InDelta(t, 0.5, d.Merger.MinSegmentDurationSec, 0)
	assert.InDelta(t, 2.0, d.Merger.AdjacentMergeGapSec, 0)
	assert.InDelta(t, 0.5, d.Merger.OverlapThresholdSec, 0)
	assert.InDelta(t, 0.3, d.Merger.SpeakerOverlapRatio, 0)
}

func TestDefaultsDerivesStageConcurrencyFromCPUSpec(t *testing.T) {
	t.Parallel()

	d := Defaults()

	assert.GreaterOrEqual(t, d.Transcriber.Concurrency, 2)
	assert.LessOrEqual(t, d.Transcriber.Concurrency, 8)
	assert.Equal(t, d.Transcriber.Concurrency, d.Diarizer.Concurrency)
}

func TestGetDefaultConfigPathsNonEmpty(t *testing.T) {
	t.Parallel()

	paths, err := getDefaultConfigPaths()
	assert.NoError(t, err)
	assert.NotEmpty(t, paths)
}
