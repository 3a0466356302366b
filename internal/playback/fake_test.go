package playback

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeStream struct {
	url    string
	events chan Event

	mu      sync.Mutex
	played  bool
	paused  int
	resumed int
	stopped int
}

func newFakeStream(url string) *fakeStream {
	return &fakeStream{url: url, events: make(chan Event, 16)}
}

func (s *fakeStream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = true
	return nil
}

func (s *fakeStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused++
	return nil
}

func (s *fakeStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumed++
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeStream) Events() <-chan Event { return s.events }

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// fakeMedia hands every opened stream to the test through opened
type fakeMedia struct {
	opened  chan *fakeStream
	openErr error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{opened: make(chan *fakeStream, 16)}
}

func (m *fakeMedia) Open(ctx context.Context, url string) (Stream, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	s := newFakeStream(url)
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

// waitFor polls cond until it holds or a second passes
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
