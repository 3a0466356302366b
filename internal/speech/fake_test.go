package speech

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeSynth records requests and returns /audio/gen-N.mp3
type fakeSynth struct {
	mu       sync.Mutex
	requests []Request
	err      error
	delay    time.Duration
	gate     chan struct{}
}

func (f *fakeSynth) Synthesize(ctx context.Context, req Request) (Result, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return Result{}, f.err
	}
	return Result{
		AudioURL: fmt.Sprintf("/audio/gen-%d.mp3", len(f.requests)),
		Duration: 3 * time.Second,
		Text:     req.Text,
	}, nil
}

func (f *fakeSynth) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
