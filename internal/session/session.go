package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/reader-voice/internal/document"
	"github.com/lexiqai/reader-voice/internal/observability"
	"github.com/lexiqai/reader-voice/internal/playback"
	"github.com/lexiqai/reader-voice/internal/reader"
	"github.com/rs/zerolog"
)

const (
	writeTimeout = 10 * time.Second

	// outboxSize bounds the messages queued for a slow client
	outboxSize = 256
)

var (
	errSessionClosed = errors.New("session closed")
	errOutboxFull    = errors.New("session outbox full")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The reader UI may be served from a different origin than the API
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Deps are the process-wide services shared by every session
type Deps struct {
	Resolver            reader.Resolver
	Prefetcher          reader.Prefetcher
	PrefetchAhead       int
	PrefetchConcurrency int
	MediaOpenTimeout    time.Duration
}

// Session is one connected reader UI. It owns its own playback controller and
// coordinator.
type Session struct {
	conn *websocket.Conn

	// Every outgoing message goes through outbox so they reach the client in order
	outbox     chan any
	closing    chan struct{}
	closeOnce  sync.Once
	writerDone chan struct{}

	id     string
	media  *RemoteMedia
	player *playback.Controller
	coord  *reader.Coordinator
	logger zerolog.Logger

	wg sync.WaitGroup
}

// NewSession wires a controller and coordinator to conn
func NewSession(conn *websocket.Conn, deps Deps) *Session {
	id := observability.NewCorrelationID()
	logger := observability.WithCorrelationID(id).
		With().
		Str("component", "session").
		Logger()

	s := &Session{
		conn:       conn,
		outbox:     make(chan any, outboxSize),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		id:         id,
		logger:     logger,
	}
	s.media = NewRemoteMedia(s.send, logger)
	s.player = playback.NewController(s.media, deps.MediaOpenTimeout, logger)
	s.coord = reader.NewCoordinator(deps.Resolver, s.player, &listener{s: s}, reader.Options{
		Prefetcher:          deps.Prefetcher,
		PrefetchAhead:       deps.PrefetchAhead,
		PrefetchConcurrency: deps.PrefetchConcurrency,
	}, logger)
	return s
}

// HandleReaderWS is the entry point for reader UI WebSocket connections
func HandleReaderWS(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied with an HTTP error
			logger := observability.Component("session")
			logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		session := NewSession(conn, deps)
		observability.RecordSessionStart()
		defer observability.RecordSessionEnd()

		if err := session.Run(context.Background()); err != nil {
			session.logger.Warn().Err(err).Msg("Reader session ended with error")
		}
	}
}

// ID returns the session's correlation ID
func (s *Session) ID() string {
	return s.id
}

// Run reads client messages until the connection closes or ctx is done.
// Playback is stopped before it returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.coord.Stop()
		s.media.Close()
		s.wg.Wait()
		s.shutdown()
		<-s.writerDone
		s.logger.Info().Msg("Reader session closed")
	}()

	go s.writeLoop()

	s.logger.Info().Msg("Reader session started")
	if err := s.send(ReadyMessage{Type: TypeReady, SessionID: s.id}); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		// Unblock ReadMessage
		s.conn.Close()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
				return err
			}
			return nil
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse client message")
			observability.RecordError("bad_message", "session")
			continue
		}
		s.handle(ctx, msg)
	}
}

func (s *Session) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case TypeActivate:
		if msg.Segment == nil {
			s.logger.Warn().Msg("Activate without segment")
			return
		}
		seg := *msg.Segment
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			err := s.coord.Activate(ctx, seg)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Debug().Err(err).Str("segment_id", seg.ID.String()).Msg("Activation failed")
			}
		}()

	case TypeDocument:
		if msg.Document != nil {
			s.coord.SetDocument(msg.Document)
			s.logger.Debug().Str("document_id", msg.Document.ID.String()).Int("segments", len(msg.Document.Segments)).Msg("Document opened")
		}

	case TypeStop:
		s.coord.Stop()

	case TypePause:
		if err := s.coord.Pause(); err != nil {
			s.logger.Warn().Err(err).Msg("Pause failed")
		}

	case TypeResume:
		if err := s.coord.Resume(); err != nil {
			s.logger.Warn().Err(err).Msg("Resume failed")
		}

	case TypeMediaStarted:
		s.media.Dispatch(msg.Handle, playback.Event{Kind: playback.EventStarted})

	case TypeMediaProgress:
		s.media.Dispatch(msg.Handle, playback.Event{
			Kind:     playback.EventProgress,
			Position: seconds(msg.Position),
			Duration: seconds(msg.Duration),
		})

	case TypeMediaEnded:
		s.media.Dispatch(msg.Handle, playback.Event{Kind: playback.EventEnded})

	case TypeMediaError:
		err := errMediaFailed
		if msg.Message != "" {
			err = errors.New(msg.Message)
		}
		s.media.Dispatch(msg.Handle, playback.Event{Kind: playback.EventFailed, Err: err})

	default:
		s.logger.Warn().Str("type", msg.Type).Msg("Unknown client message")
	}
}

// send queues one JSON message for the writer. Progress updates are dropped
// when the client is not keeping up; other messages wait for room.
func (s *Session) send(v any) error {
	select {
	case <-s.closing:
		return errSessionClosed
	default:
	}

	if _, ok := v.(SegmentProgressMessage); ok {
		select {
		case s.outbox <- v:
			return nil
		default:
			observability.RecordError("ws_backpressure", "session")
			return errOutboxFull
		}
	}

	select {
	case s.outbox <- v:
		return nil
	case <-s.closing:
		return errSessionClosed
	}
}

// writeLoop is the only goroutine writing to the connection
func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case v := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(v); err != nil {
				observability.RecordError("ws_write", "session")
				s.logger.Warn().Err(err).Msg("WebSocket write failed")
				s.shutdown()
				// Unblock ReadMessage so Run returns
				s.conn.Close()
				return
			}
		case <-s.closing:
			return
		}
	}
}

// shutdown stops accepting outgoing messages
func (s *Session) shutdown() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// listener forwards coordinator events to the browser
type listener struct {
	s *Session
}

func (l *listener) OnState(id document.SegmentID, st reader.SegmentState) {
	l.emit(SegmentStateMessage{Type: TypeSegmentState, SegmentID: id, Active: st.Active, Loading: st.Loading})
}

func (l *listener) OnProgress(id document.SegmentID, position, duration time.Duration) {
	l.emit(SegmentProgressMessage{
		Type:      TypeSegmentProgress,
		SegmentID: id,
		Position:  position.Seconds(),
		Duration:  duration.Seconds(),
	})
}

func (l *listener) OnEnd(id document.SegmentID) {
	l.emit(SegmentEventMessage{Type: TypeSegmentEnded, SegmentID: id})
}

func (l *listener) OnError(id document.SegmentID, message string) {
	l.emit(SegmentEventMessage{Type: TypeSegmentError, SegmentID: id, Message: message})
}

func (l *listener) emit(v any) {
	if err := l.s.send(v); err != nil {
		l.s.logger.Debug().Err(err).Msg("Failed to deliver segment event")
	}
}
