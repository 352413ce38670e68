package media

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/tphakala/flac"

	"github.com/scribeforge/transcribe-orchestrator/internal/xerrors"
)

// FLACLoader decodes FLAC files via tphakala/flac.
type FLACLoader struct{}

// Load decodes a FLAC file to mono float32 PCM at targetSampleRate.
func (l *FLACLoader) Load(ctx context.Context, path string, targetSampleRate int) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, xerrors.FileError(err, path, 0)
	}
	defer f.Close()

	stream, err := flac.Parse(f)
	if err != nil {
		return nil, 0, xerrors.Wrap(err).Component("media").Category(xerrors.CategoryMedia).FileContext(path, 0).Build()
	}

	sourceRate := int(stream.Info.SampleRate)
	channels := int(stream.Info.NChannels)
	bitDepth := int(stream.Info.BitsPerSample)

	var data []int

	for {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}

		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, xerrors.Wrap(err).Component("media").Category(xerrors.CategoryMedia).FileContext(path, 0).Build()
		}

		blockSize := len(frame.Subframes[0].Samples)
		for i := 0; i < blockSize; i++ {
			for c := 0; c < channels; c++ {
				data = append(data, int(frame.Subframes[c].Samples[i]))
			}
		}
	}

	if len(data) == 0 {
		return nil, 0, xerrors.Newf("flac file contains no audio frames").
			Component("media").
			Category(xerrors.CategoryMedia).
			Context("path", path).
			Build()
	}

	mono := downmixToMono(data, channels, bitDepth)

	if targetSampleRate > 0 && targetSampleRate != sourceRate {
		mono = resampleLinear(mono, sourceRate, targetSampleRate)
		sourceRate = targetSampleRate
	}

	return mono, sourceRate, nil
}
