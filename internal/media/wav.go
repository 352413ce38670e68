package media

import (
	"context"
	"os"

	"github.com/go-audio/wav"

	"github.com/scribeforge/transcribe-orchestrator/internal/xerrors"
)

// WAVLoader decodes PCM WAV files via go-audio/wav.
type WAVLoader struct{}

// Load decodes a WAV file to mono float32 PCM at targetSampleRate.
func (l *WAVLoader) Load(ctx context.Context, path string, targetSampleRate int) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, xerrors.FileError(err, path, 0)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, xerrors.Newf("not a valid WAV file").
			Component("media").
			Category(xerrors.CategoryMedia).
			Context("path", path).
			Build()
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, xerrors.Wrap(err).Component("media").Category(xerrors.CategoryMedia).FileContext(path, 0).Build()
	}

	if ctx.Err() != nil {
		return nil, 0, ctx.Err()
	}

	sourceRate := int(decoder.SampleRate)
	channels := int(decoder.NumChans)
	bitDepth := int(decoder.BitDepth)

	mono := downmixToMono(buf.Data, channels, bitDepth)

	if targetSampleRate > 0 && targetSampleRate != sourceRate {
		mono = resampleLinear(mono, sourceRate, targetSampleRate)
		sourceRate = targetSampleRate
	}

	return mono, sourceRate, nil
}
