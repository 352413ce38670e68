// Package diarizer wraps the external speaker-diarization model behind a
// small interface, with an HTTP default adapter and an in-memory fake for
// tests. Cross-chunk speaker identity tracking lives in the speaker
// subpackage.
package diarizer

import "context"

// Turn is one speaker turn as reported by the external diarizer, scoped to
// a single chunk's samples. LocalLabel is only meaningful within the chunk
// it came from — the speaker package is responsible for stitching local
// labels into stable global speaker identities across chunks.
type Turn struct {
	LocalLabel string    `json:"local_label"`
	Start      float64   `json:"start"`
	End        float64   `json:"end"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// Diarizer partitions mono 16kHz PCM float32 samples into speaker turns.
type Diarizer interface {
	Diarize(ctx context.Context, samples []float32, sampleRate int) ([]Turn, error)
}
