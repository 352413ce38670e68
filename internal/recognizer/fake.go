package recognizer

import (
	"context"
	"sync"
)

// Fake is an in-memory Recognizer for tests: returns a canned Result, or a
// canned error, and records every call it received.
type Fake struct {
	mu      sync.Mutex
	Result  Result
	Err     error
	Calls   int
	OnCall  func(samples []float32, sampleRate int, opts Options) (Result, error)
}

// Transcribe returns the Fake's canned Result/Err, or delegates to OnCall if set.
func (f *Fake) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (Result, error) {
	f.mu.Lock()
	f.Calls++
	f.mu.Unlock()

	if f.OnCall != nil {
		return f.OnCall(samples, sampleRate, opts)
	}
	if f.Err != nil {
		return Result{}, f.Err
	}
	return f.Result, nil
}

// CallCount returns how many times Transcribe has been called.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls
}
