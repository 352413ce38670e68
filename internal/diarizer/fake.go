package diarizer

import (
	"context"
	"sync"
)

// Fake is an in-memory Diarizer for tests: returns canned Turns or a canned
// error, and records every call it received.
type Fake struct {
	mu     sync.Mutex
	Turns  []Turn
	Err    error
	Calls  int
	OnCall func(samples []float32, sampleRate int) ([]Turn, error)
}

// Diarize returns the Fake's canned Turns/Err, or delegates to OnCall if set.
func (f *Fake) Diarize(ctx context.Context, samples []float32, sampleRate int) ([]Turn, error) {
	f.mu.Lock()
	f.Calls++
	f.mu.Unlock()

	if f.OnCall != nil {
		return f.OnCall(samples, sampleRate)
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Turns, nil
}

// CallCount returns how many times Diarize has been called.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls
}
