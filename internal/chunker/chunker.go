// Package chunker splits decoded audio into overlapping fixed-length
// windows, snapping cut points to natural silences where possible.
package chunker

import (
	"fmt"
	"math"

	"github.com/scribeforge/transcribe-orchestrator/internal/config"
	"github.com/scribeforge/transcribe-orchestrator/internal/model"
	"github.com/scribeforge/transcribe-orchestrator/internal/xerrors"
)

const frameSeconds = 0.03

type silentInterval struct {
	startSec, endSec float64
}

// Chunk splits samples (mono float32 PCM at sampleRate) into overlapping
// windows per cfg, snapping cut points to silent intervals where one falls
// within the configured tolerance.
func Chunk(jobID string, samples []float32, sampleRate int, cfg config.ChunkerSettings) ([]model.AudioChunk, error) {
	if err := validate(samples, sampleRate); err != nil {
		return nil, err
	}

	window := cfg.WindowSeconds
	if window <= 0 {
		window = 30
	}
	overlap := cfg.OverlapSeconds
	if overlap <= 0 {
		overlap = 5
	}
	silenceThresholdDB := cfg.SilenceRMSThreshold
	if silenceThresholdDB == 0 {
		silenceThresholdDB = -40
	}
	minSilenceDurationSec := float64(cfg.SilenceMinDurationMs) / 1000
	if minSilenceDurationSec <= 0 {
		minSilenceDurationSec = 0.5
	}
	snapTolerance := cfg.CutSnapToleranceSec
	if snapTolerance <= 0 {
		snapTolerance = 2.0
	}

	duration := float64(len(samples)) / float64(sampleRate)
	frameLen := int(frameSeconds * float64(sampleRate))
	if frameLen < 1 {
		frameLen = 1
	}

	frameSilent := classifyFrames(samples, frameLen, silenceThresholdDB)
	intervals := coalesceSilentIntervals(frameSilent, frameLen, sampleRate, minSilenceDurationSec)

	step := window - overlap
	if step <= 0 {
		step = window
	}

	cuts := []float64{0}
	for c := step; c < duration; c += step {
		cuts = append(cuts, snapCut(c, intervals, snapTolerance))
	}
	if cuts[len(cuts)-1] < duration {
		cuts = append(cuts, duration)
	}

	chunks := make([]model.AudioChunk, 0, len(cuts)-1)
	for i := 0; i < len(cuts)-1; i++ {
		start := cuts[i]
		end := cuts[i+1]
		if i < len(cuts)-2 {
			end = math.Min(duration, cuts[i+1]+overlap)
		}
		if end <= start {
			continue
		}

		startIdx := int(start * float64(sampleRate))
		endIdx := int(end * float64(sampleRate))
		if endIdx > len(samples) {
			endIdx = len(samples)
		}
		if startIdx >= endIdx {
			continue
		}

		chunkSamples := samples[startIdx:endIdx]
		score := silenceScore(frameSilent, frameLen, startIdx, endIdx)

		chunks = append(chunks, model.AudioChunk{
			Index:        len(chunks),
			ID:           fmt.Sprintf("%s-chunk-%04d", jobID, len(chunks)),
			JobID:        jobID,
			StartSec:     start,
			EndSec:       end,
			SampleRate:   sampleRate,
			Samples:      chunkSamples,
			SilenceScore: score,
			IsSilent:     score > 0.8,
		})
	}

	return chunks, nil
}

func validate(samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return xerrors.Newf("unusable audio: no samples").Component("chunker").Category(xerrors.CategoryValidation).Build()
	}
	if sampleRate <= 0 {
		return xerrors.Newf("unusable audio: invalid sample rate %d", sampleRate).Component("chunker").Category(xerrors.CategoryValidation).Build()
	}
	if float64(len(samples))/float64(sampleRate) < 1.0 {
		return xerrors.Newf("unusable audio: duration below 1 second").Component("chunker").Category(xerrors.CategoryValidation).Build()
	}

	allZero := true
	for _, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return xerrors.Newf("unusable audio: NaN or Inf sample detected").Component("chunker").Category(xerrors.CategoryValidation).Build()
		}
		if s != 0 {
			allZero = false
		}
	}
	if allZero {
		return xerrors.Newf("unusable audio: all-zero signal").Component("chunker").Category(xerrors.CategoryValidation).Build()
	}

	return nil
}

// classifyFrames returns, for each frame of frameLen samples, whether its
// RMS in dB falls below thresholdDB.
func classifyFrames(samples []float32, frameLen int, thresholdDB float64) []bool {
	numFrames := (len(samples) + frameLen - 1) / frameLen
	silent := make([]bool, numFrames)

	for i := 0; i < numFrames; i++ {
		start := i * frameLen
		end := start + frameLen
		if end > len(samples) {
			end = len(samples)
		}
		silent[i] = rmsDB(samples[start:end]) < thresholdDB
	}

	return silent
}

func rmsDB(frame []float32) float64 {
	if len(frame) == 0 {
		return -math.MaxFloat64
	}
	var sumSq float64
	for _, s := range frame {
		sumSq += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSq / float64(len(frame)))
	if rms <= 0 {
		return -300 // effectively silent; avoid log(0)
	}
	return 20 * math.Log10(rms)
}

// coalesceSilentIntervals merges consecutive silent frames into intervals,
// discarding ones shorter than minDurationSec.
func coalesceSilentIntervals(frameSilent []bool, frameLen, sampleRate int, minDurationSec float64) []silentInterval {
	var intervals []silentInterval
	frameDur := float64(frameLen) / float64(sampleRate)

	inRun := false
	runStart := 0
	for i, silent := range frameSilent {
		switch {
		case silent && !inRun:
			inRun = true
			runStart = i
		case !silent && inRun:
			inRun = false
			startSec := float64(runStart) * frameDur
			endSec := float64(i) * frameDur
			if endSec-startSec >= minDurationSec {
				intervals = append(intervals, silentInterval{startSec: startSec, endSec: endSec})
			}
		}
	}
	if inRun {
		startSec := float64(runStart) * frameDur
		endSec := float64(len(frameSilent)) * frameDur
		if endSec-startSec >= minDurationSec {
			intervals = append(intervals, silentInterval{startSec: startSec, endSec: endSec})
		}
	}

	return intervals
}

// snapCut searches ±tolerance seconds around nominal for the midpoint of a
// silent interval, preferring the closest one; falls back to nominal.
func snapCut(nominal float64, intervals []silentInterval, tolerance float64) float64 {
	best := nominal
	bestDist := math.MaxFloat64
	found := false

	for _, iv := range intervals {
		mid := (iv.startSec + iv.endSec) / 2
		dist := math.Abs(mid - nominal)
		if dist <= tolerance && dist < bestDist {
			bestDist = dist
			best = mid
			found = true
		}
	}

	if !found {
		return nominal
	}
	return best
}

func silenceScore(frameSilent []bool, frameLen, startIdx, endIdx int) float64 {
	firstFrame := startIdx / frameLen
	lastFrame := (endIdx - 1) / frameLen
	if lastFrame >= len(frameSilent) {
		lastFrame = len(frameSilent) - 1
	}
	if firstFrame > lastFrame || firstFrame < 0 {
		return 0
	}

	total := 0
	silent := 0
	for i := firstFrame; i <= lastFrame; i++ {
		total++
		if frameSilent[i] {
			silent++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(silent) / float64(total)
}
