package playback

import (
	"context"
	"sync"
	"time"

	"github.com/lexiqai/reader-voice/internal/observability"
	"github.com/rs/zerolog"
)

// Callbacks receive playback notifications. Any of them may be nil.
// They are invoked from the playback goroutine without locks held.
type Callbacks struct {
	OnStart    func()
	OnProgress func(position, duration time.Duration)
	OnEnd      func()
}

// Controller owns at most one live playback handle. Starting a new playback
// always stops the previous one first.
type Controller struct {
	media       Media
	openTimeout time.Duration
	logger      zerolog.Logger

	mu      sync.Mutex
	current *Playback
	nextID  uint64
}

// NewController creates a controller. openTimeout bounds how long a handle may
// stay loading; zero disables the bound.
func NewController(media Media, openTimeout time.Duration, logger zerolog.Logger) *Controller {
	return &Controller{
		media:       media,
		openTimeout: openTimeout,
		logger:      logger,
	}
}

// Playback is a single handle returned by Start
type Playback struct {
	id   uint64
	url  string
	ctrl *Controller
	cb   Callbacks

	mu     sync.Mutex
	state  State
	stream Stream
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// Start stops the current handle, if any, and begins loading url. It does not
// wait for the audio to start; use Wait or Play for that.
func (c *Controller) Start(ctx context.Context, url string, cb Callbacks) *Playback {
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if prev := c.current; prev != nil {
		c.current = nil
		prev.terminate(StateStopped, ErrStopped)
	}
	c.nextID++
	p := &Playback{
		id:     c.nextID,
		url:    url,
		ctrl:   c,
		cb:     cb,
		state:  StateLoading,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	c.current = p
	c.mu.Unlock()

	observability.HandleAcquired()
	observability.RecordPlaybackTransition(StateLoading.String())
	c.logger.Debug().Uint64("handle", p.id).Str("url", url).Msg("Playback loading")

	go p.run(runCtx)
	return p
}

// Play starts url and blocks until it ends, fails or is stopped
func (c *Controller) Play(ctx context.Context, url string, cb Callbacks) error {
	return c.Start(ctx, url, cb).Wait(ctx)
}

// Stop stops the current handle. It is a no-op when nothing is playing.
func (c *Controller) Stop() {
	c.mu.Lock()
	p := c.current
	c.current = nil
	c.mu.Unlock()

	if p != nil {
		p.terminate(StateStopped, ErrStopped)
	}
}

// Pause pauses the current handle if it is playing
func (c *Controller) Pause() error {
	if p := c.Current(); p != nil {
		return p.pause()
	}
	return nil
}

// Resume resumes the current handle if it is paused
func (c *Controller) Resume() error {
	if p := c.Current(); p != nil {
		return p.resume()
	}
	return nil
}

// IsPlaying reports whether the current handle is audibly playing
func (c *Controller) IsPlaying() bool {
	return c.State() == StatePlaying
}

// State returns the current handle's state, or StateIdle
func (c *Controller) State() State {
	if p := c.Current(); p != nil {
		return p.State()
	}
	return StateIdle
}

// Current returns the live handle, or nil
func (c *Controller) Current() *Playback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) release(p *Playback) {
	c.mu.Lock()
	if c.current == p {
		c.current = nil
	}
	c.mu.Unlock()
}

// ID identifies the handle within its controller
func (p *Playback) ID() uint64 { return p.id }

// URL is the audio being played
func (p *Playback) URL() string { return p.url }

// State returns the handle's state
func (p *Playback) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed once the handle reaches a terminal state
func (p *Playback) Done() <-chan struct{} { return p.done }

// Wait blocks until the handle finishes. It returns nil when the audio ended
// naturally, ErrStopped when it was stopped or superseded, and a
// *PlaybackError when loading or playing failed.
func (p *Playback) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops this handle if it is still live
func (p *Playback) Stop() {
	p.ctrl.release(p)
	p.terminate(StateStopped, ErrStopped)
}

func (p *Playback) run(ctx context.Context) {
	defer p.cancel()
	log := p.ctrl.logger.With().Uint64("handle", p.id).Logger()

	openCtx := ctx
	if p.ctrl.openTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, p.ctrl.openTimeout)
		defer cancel()
	}

	stream, err := p.ctrl.media.Open(openCtx, p.url)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			p.finish(StateStopped, ErrStopped)
		case openCtx.Err() != nil:
			p.fail(ErrOpenTimeout)
		default:
			p.fail(err)
		}
		return
	}

	p.mu.Lock()
	if p.state.Terminal() {
		p.mu.Unlock()
		_ = stream.Stop()
		return
	}
	p.stream = stream
	p.mu.Unlock()

	if err := stream.Play(); err != nil {
		p.fail(err)
		return
	}

	var openTimer <-chan time.Time
	if p.ctrl.openTimeout > 0 {
		timer := time.NewTimer(p.ctrl.openTimeout)
		defer timer.Stop()
		openTimer = timer.C
	}

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			p.finish(StateStopped, ErrStopped)
			return

		case <-openTimer:
			openTimer = nil
			if p.State() == StateLoading {
				log.Warn().Dur("timeout", p.ctrl.openTimeout).Msg("Media did not start")
				p.fail(ErrOpenTimeout)
				return
			}

		case ev, ok := <-events:
			if !ok {
				p.fail(ErrStreamClosed)
				return
			}
			switch ev.Kind {
			case EventStarted:
				openTimer = nil
				if p.transition(StateLoading, StatePlaying) {
					log.Debug().Msg("Playback started")
					if p.cb.OnStart != nil {
						p.cb.OnStart()
					}
				}
			case EventProgress:
				if !p.State().Terminal() && p.cb.OnProgress != nil {
					p.cb.OnProgress(ev.Position, ev.Duration)
				}
			case EventEnded:
				if p.finish(StateEnded, nil) {
					log.Debug().Msg("Playback ended")
					if p.cb.OnEnd != nil {
						p.cb.OnEnd()
					}
					close(p.done)
				}
				return
			case EventFailed:
				p.fail(ev.Err)
				return
			}
		}
	}
}

func (p *Playback) fail(err error) {
	if err == nil {
		err = ErrStreamClosed
	}
	if p.finish(StateErrored, &PlaybackError{URL: p.url, Err: err}) {
		observability.RecordError("playback", "playback")
		p.ctrl.logger.Warn().Err(err).Uint64("handle", p.id).Str("url", p.url).Msg("Playback failed")
	}
}

// finish moves the handle to a terminal state and gives up the controller slot
func (p *Playback) finish(state State, err error) bool {
	p.ctrl.release(p)
	return p.terminate(state, err)
}

// terminate records the terminal state exactly once and stops the stream.
// It must not take the controller lock. For StateEnded the caller closes done
// after OnEnd has run.
func (p *Playback) terminate(state State, err error) bool {
	p.mu.Lock()
	if p.state.Terminal() {
		p.mu.Unlock()
		return false
	}
	p.state = state
	p.err = err
	stream := p.stream
	p.mu.Unlock()

	p.cancel()
	if stream != nil && state != StateEnded {
		if stopErr := stream.Stop(); stopErr != nil {
			p.ctrl.logger.Debug().Err(stopErr).Uint64("handle", p.id).Msg("Stream stop failed")
		}
	}

	observability.RecordPlaybackTransition(state.String())
	observability.HandleReleased()
	if state != StateEnded {
		close(p.done)
	}
	return true
}

func (p *Playback) transition(from, to State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		return false
	}
	p.state = to
	observability.RecordPlaybackTransition(to.String())
	return true
}

func (p *Playback) pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying || p.stream == nil {
		return nil
	}
	if err := p.stream.Pause(); err != nil {
		return &PlaybackError{URL: p.url, Err: err}
	}
	p.state = StatePaused
	observability.RecordPlaybackTransition(StatePaused.String())
	return nil
}

func (p *Playback) resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePaused || p.stream == nil {
		return nil
	}
	if err := p.stream.Resume(); err != nil {
		return &PlaybackError{URL: p.url, Err: err}
	}
	p.state = StatePlaying
	observability.RecordPlaybackTransition(StatePlaying.String())
	return nil
}
