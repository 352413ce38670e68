// Package recognizer wraps the external transcription model behind a small
// interface, with an HTTP default adapter and an in-memory fake for tests.
package recognizer

import "context"

// SubSegment is a word- or phrase-level timestamped span within a
// transcription result.
type SubSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Options configures a single transcribe call.
type Options struct {
	LanguageHint   string  `json:"language_hint,omitempty"`
	Temperature    float64 `json:"temperature"`
	WordTimestamps bool    `json:"word_timestamps"`
}

// Result is the recognizer's transcription output for one chunk.
type Result struct {
	Text        string       `json:"text"`
	Language    string       `json:"language"`
	Confidence  float64      `json:"confidence"`
	SubSegments []SubSegment `json:"sub_segments"`
}

// Recognizer transcribes mono 16kHz PCM float32 samples.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (Result, error)
}
