package session

import (
	"context"
	"errors"
	"sync"

	"github.com/lexiqai/reader-voice/internal/playback"
	"github.com/rs/zerolog"
)

// RemoteMedia plays audio in the browser on the other end of the session.
// Each opened stream gets a handle number the browser echoes in its reports.
type RemoteMedia struct {
	send   func(v any) error
	logger zerolog.Logger

	mu         sync.Mutex
	nextHandle uint64
	streams    map[uint64]*remoteStream
}

// NewRemoteMedia creates a media backend that delivers commands through send
func NewRemoteMedia(send func(v any) error, logger zerolog.Logger) *RemoteMedia {
	return &RemoteMedia{
		send:    send,
		logger:  logger,
		streams: make(map[uint64]*remoteStream),
	}
}

// Open asks the browser to load url
func (m *RemoteMedia) Open(ctx context.Context, url string) (playback.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.nextHandle++
	s := &remoteStream{
		media:  m,
		handle: m.nextHandle,
		events: make(chan playback.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	m.streams[s.handle] = s
	m.mu.Unlock()

	if err := m.send(MediaCommand{Type: TypeMediaLoad, Handle: s.handle, URL: url}); err != nil {
		m.release(s.handle)
		return nil, err
	}
	return s, nil
}

// Dispatch routes a browser report to its stream. Reports for unknown or
// released handles are dropped. Progress reports are dropped when the stream is
// not keeping up; every other report waits until it is read or the stream stops.
func (m *RemoteMedia) Dispatch(handle uint64, ev playback.Event) {
	m.mu.Lock()
	s, ok := m.streams[handle]
	if ok && (ev.Kind == playback.EventEnded || ev.Kind == playback.EventFailed) {
		delete(m.streams, handle)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug().Uint64("handle", handle).Msg("Dropping report for released media handle")
		return
	}

	if ev.Kind == playback.EventProgress {
		select {
		case s.events <- ev:
		default:
			m.logger.Debug().Uint64("handle", handle).Msg("Media event buffer full, dropping progress")
		}
		return
	}

	select {
	case s.events <- ev:
	case <-s.done:
		m.logger.Debug().Uint64("handle", handle).Msg("Media stream stopped before report was read")
	}
}

// Close releases every stream
func (m *RemoteMedia) Close() {
	m.mu.Lock()
	streams := m.streams
	m.streams = make(map[uint64]*remoteStream)
	m.mu.Unlock()

	for _, s := range streams {
		s.shutdown()
	}
}

// Live reports how many handles are open
func (m *RemoteMedia) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

func (m *RemoteMedia) release(handle uint64) {
	m.mu.Lock()
	delete(m.streams, handle)
	m.mu.Unlock()
}

var errMediaFailed = errors.New("browser reported a media error")

const eventBuffer = 32

type remoteStream struct {
	media  *RemoteMedia
	handle uint64
	events chan playback.Event

	// done is closed once the stream is stopped and nobody reads events
	done     chan struct{}
	doneOnce sync.Once
}

func (s *remoteStream) shutdown() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *remoteStream) command(typ string) error {
	return s.media.send(MediaCommand{Type: typ, Handle: s.handle})
}

func (s *remoteStream) Play() error   { return s.command(TypeMediaPlay) }
func (s *remoteStream) Pause() error  { return s.command(TypeMediaPause) }
func (s *remoteStream) Resume() error { return s.command(TypeMediaResume) }

func (s *remoteStream) Stop() error {
	s.media.release(s.handle)
	s.shutdown()
	return s.command(TypeMediaStop)
}

func (s *remoteStream) Events() <-chan playback.Event { return s.events }
