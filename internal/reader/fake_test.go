package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lexiqai/reader-voice/internal/document"
	"github.com/lexiqai/reader-voice/internal/playback"
	"github.com/lexiqai/reader-voice/internal/speech"
)

type fakeResolver struct {
	mu    sync.Mutex
	gates map[document.SegmentID]chan struct{}
	errs  map[document.SegmentID]error
	calls int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		gates: make(map[document.SegmentID]chan struct{}),
		errs:  make(map[document.SegmentID]error),
	}
}

// hold makes resolving id block until the returned func is called
func (r *fakeResolver) hold(id document.SegmentID) func() {
	gate := make(chan struct{})
	r.mu.Lock()
	r.gates[id] = gate
	r.mu.Unlock()
	return func() { close(gate) }
}

func (r *fakeResolver) Resolve(ctx context.Context, seg document.Segment) (string, error) {
	r.mu.Lock()
	r.calls++
	gate := r.gates[seg.ID]
	err := r.errs[seg.ID]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", &speech.ResolutionError{SegmentID: seg.ID.String(), Err: err}
	}
	return urlFor(seg.ID), nil
}

func (r *fakeResolver) NeedsSynthesis(seg document.Segment) bool {
	return !seg.HasAudio() && seg.Content != ""
}

func (r *fakeResolver) SynthesisRequest(seg document.Segment) speech.Request {
	return speech.Request{Text: seg.Content}.WithDefaults()
}

func urlFor(id document.SegmentID) string {
	return fmt.Sprintf("http://media.test/audio/%s.mp3", id)
}

type fakeStream struct {
	url    string
	events chan playback.Event

	mu      sync.Mutex
	stopped bool
}

func (s *fakeStream) Play() error   { return nil }
func (s *fakeStream) Pause() error  { return nil }
func (s *fakeStream) Resume() error { return nil }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *fakeStream) Events() <-chan playback.Event { return s.events }

type fakeMedia struct {
	opened chan *fakeStream
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{opened: make(chan *fakeStream, 32)}
}

func (m *fakeMedia) Open(ctx context.Context, url string) (playback.Stream, error) {
	s := &fakeStream{url: url, events: make(chan playback.Event, 16)}
	m.opened <- s
	return s, nil
}

func (m *fakeMedia) next() (*fakeStream, error) {
	select {
	case s := <-m.opened:
		return s, nil
	case <-time.After(time.Second):
		return nil, errors.New("no stream opened")
	}
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) record(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *recordingListener) OnState(id document.SegmentID, st SegmentState) {
	l.record("state %s active=%t loading=%t", id, st.Active, st.Loading)
}

func (l *recordingListener) OnProgress(id document.SegmentID, position, duration time.Duration) {
	l.record("progress %s %v/%v", id, position, duration)
}

func (l *recordingListener) OnEnd(id document.SegmentID) {
	l.record("end %s", id)
}

func (l *recordingListener) OnError(id document.SegmentID, message string) {
	l.record("error %s %s", id, message)
}

func (l *recordingListener) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func (l *recordingListener) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
