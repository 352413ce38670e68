// Package media decodes audio files into mono float32 PCM at a caller-chosen
// sample rate, the shape every downstream stage consumes.
package media

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/scribeforge/transcribe-orchestrator/internal/xerrors"
)

// Loader decodes an audio file into mono PCM samples at targetSampleRate.
type Loader interface {
	Load(ctx context.Context, path string, targetSampleRate int) (samples []float32, sampleRate int, err error)
}

// AutoLoader dispatches to WAVLoader or FLACLoader based on file extension.
type AutoLoader struct {
	wav  *WAVLoader
	flac *FLACLoader
}

// NewAutoLoader builds an AutoLoader with default WAV/FLAC decoders wired in.
func NewAutoLoader() *AutoLoader {
	return &AutoLoader{wav: &WAVLoader{}, flac: &FLACLoader{}}
}

// Load decodes path using the loader matching its extension.
func (a *AutoLoader) Load(ctx context.Context, path string, targetSampleRate int) ([]float32, int, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav", ".wave":
		return a.wav.Load(ctx, path, targetSampleRate)
	case ".flac":
		return a.flac.Load(ctx, path, targetSampleRate)
	default:
		return nil, 0, xerrors.Newf("unsupported audio format %q", ext).
			Component("media").
			Category(xerrors.CategoryMedia).
			Context("path", path).
			Build()
	}
}

// downmixToMono averages interleaved multi-channel int samples into mono
// float32 in [-1, 1], given the source bit depth.
func downmixToMono(data []int, channels, bitDepth int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(data))
		scale := fullScale(bitDepth)
		for i, v := range data {
			out[i] = float32(v) / scale
		}
		return out
	}

	frames := len(data) / channels
	out := make([]float32, frames)
	scale := fullScale(bitDepth)
	for f := 0; f < frames; f++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += data[f*channels+c]
		}
		out[f] = float32(sum) / float32(channels) / scale
	}
	return out
}

func fullScale(bitDepth int) float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	return float32(int(1) << (bitDepth - 1))
}
