package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestWAV(t *testing.T, sampleRate, numChans, bitDepth int, frames int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, numChans, 1)

	data := make([]int, frames*numChans)
	for i := range data {
		data[i] = i % 100
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{SampleRate: sampleRate, NumChannels: numChans},
		Data:   data,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())

	return path
}

func TestAutoLoaderDispatchesByExtension(t *testing.T) {
	t.Parallel()

	a := NewAutoLoader()
	path := writeTestWAV(t, 44100, 1, 16, 1000)

	samples, rate, err := a.Load(context.Background(), path, 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.NotEmpty(t, samples)
}

func TestAutoLoaderRejectsUnsupportedExtension(t *testing.T) {
	t.Parallel()

	a := NewAutoLoader()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	require.NoError(t, os.WriteFile(path, []byte("not audio"), 0o644))

	_, _, err := a.Load(context.Background(), path, 16000)
	assert.Error(t, err)
}

func TestWAVLoaderDownmixesStereoToMono(t *testing.T) {
	t.Parallel()

	path := writeTestWAV(t, 16000, 2, 16, 500)
	loader := &WAVLoader{}

	samples, rate, err := loader.Load(context.Background(), path, 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Len(t, samples, 500)
}

func TestWAVLoaderResamplesWhenRatesDiffer(t *testing.T) {
	t.Parallel()

	path := writeTestWAV(t, 44100, 1, 16, 4410)
	loader := &WAVLoader{}

	samples, rate, err := loader.Load(context.Background(), path, 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.InDelta(t, 1600, len(samples), 5)
}

func TestWAVLoaderRejectsMissingFile(t *testing.T) {
	t.Parallel()

	loader := &WAVLoader{}
	_, _, err := loader.Load(context.Background(), "/no/such/file.wav", 16000)
	assert.Error(t, err)
}

func TestWAVLoaderRejectsInvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file at all"), 0o644))

	loader := &WAVLoader{}
	_, _, err := loader.Load(context.Background(), path, 16000)
	assert.Error(t, err)
}

func TestDownmixToMonoAveragesChannels(t *testing.T) {
	t.Parallel()

	data := []int{100, 200, 300, 400}
	mono := downmixToMono(data, 2, 16)
	require.Len(t, mono, 2)
	assert.InDelta(t, float64(150)/float64(fullScale(16)), mono[0], 1e-6)
	assert.InDelta(t, float64(350)/float64(fullScale(16)), mono[1], 1e-6)
}

func TestDownmixToMonoPassesThroughSingleChannel(t *testing.T) {
	t.Parallel()

	data := []int{1000, -1000, 0}
	mono := downmixToMono(data, 1, 16)
	require.Len(t, mono, 3)
	assert.InDelta(t, float64(1000)/float64(fullScale(16)), mono[0], 1e-6)
}

func TestResampleLinearUpsamplesAndDownsamples(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = float32(i)
	}

	down := resampleLinear(samples, 44100, 16000)
	assert.InDelta(t, 363, len(down), 5)

	up := resampleLinear(samples, 16000, 44100)
	assert.InDelta(t, 2756, len(up), 10)
}

func TestResampleLinearNoOpWhenRatesMatch(t *testing.T) {
	t.Parallel()

	samples := []float32{0.1, 0.2, 0.3}
	out := resampleLinear(samples, 16000, 16000)
	assert.Equal(t, samples, out)
}
