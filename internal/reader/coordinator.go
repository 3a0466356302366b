package reader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lexiqai/reader-voice/internal/document"
	"github.com/lexiqai/reader-voice/internal/observability"
	"github.com/lexiqai/reader-voice/internal/playback"
	"github.com/lexiqai/reader-voice/internal/speech"
	"github.com/rs/zerolog"
)

// Resolver finds the audio for a segment
type Resolver interface {
	Resolve(ctx context.Context, seg document.Segment) (string, error)
	NeedsSynthesis(seg document.Segment) bool
	SynthesisRequest(seg document.Segment) speech.Request
}

// Player plays one URL at a time
type Player interface {
	Start(ctx context.Context, url string, cb playback.Callbacks) *playback.Playback
	Stop()
	Pause() error
	Resume() error
}

// Prefetcher warms synthesis results ahead of playback
type Prefetcher interface {
	Prefetch(ctx context.Context, reqs []speech.Request, concurrency int) error
}

// SegmentState is the UI state of one segment
type SegmentState struct {
	Active  bool
	Loading bool
}

// Listener receives UI events. Methods are called with the coordinator lock
// held. They must not block on I/O or call back into the Coordinator.
type Listener interface {
	OnState(id document.SegmentID, state SegmentState)
	OnProgress(id document.SegmentID, position, duration time.Duration)
	OnEnd(id document.SegmentID)
	OnError(id document.SegmentID, message string)
}

// NopListener discards all events
type NopListener struct{}

func (NopListener) OnState(document.SegmentID, SegmentState)                    {}
func (NopListener) OnProgress(document.SegmentID, time.Duration, time.Duration) {}
func (NopListener) OnEnd(document.SegmentID)                                    {}
func (NopListener) OnError(document.SegmentID, string)                          {}

// Options tune optional coordinator behaviour
type Options struct {
	Prefetcher          Prefetcher
	PrefetchAhead       int
	PrefetchConcurrency int
}

type activation struct {
	seq uint64
	seg document.Segment
}

// Coordinator maps segment activations onto a single Player. Activating the
// active segment stops it; activating another segment replaces it.
type Coordinator struct {
	resolver Resolver
	player   Player
	listener Listener
	opts     Options
	logger   zerolog.Logger

	mu     sync.Mutex
	seq    uint64
	active *activation
	states map[document.SegmentID]SegmentState
	doc    *document.Document
}

// NewCoordinator creates a coordinator. listener may be nil.
func NewCoordinator(resolver Resolver, player Player, listener Listener, opts Options, logger zerolog.Logger) *Coordinator {
	if listener == nil {
		listener = NopListener{}
	}
	if opts.PrefetchConcurrency < 1 {
		opts.PrefetchConcurrency = 1
	}
	return &Coordinator{
		resolver: resolver,
		player:   player,
		listener: listener,
		opts:     opts,
		logger:   logger,
		states:   make(map[document.SegmentID]SegmentState),
	}
}

// SetDocument sets the document being read, used to prefetch following segments
func (c *Coordinator) SetDocument(doc *document.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = doc
}

// Activate toggles playback of seg. It blocks until the audio ends, fails or
// is superseded. Superseded and toggled-off activations return nil.
func (c *Coordinator) Activate(ctx context.Context, seg document.Segment) error {
	c.mu.Lock()
	if c.active != nil && c.active.seg.ID == seg.ID {
		c.logger.Debug().Str("segment_id", seg.ID.String()).Msg("Toggling segment off")
		c.stopLocked()
		c.mu.Unlock()
		return nil
	}

	c.stopLocked()
	c.seq++
	seq := c.seq
	c.active = &activation{seq: seq, seg: seg}
	c.setStateLocked(seg.ID, SegmentState{Active: true, Loading: true})
	c.mu.Unlock()

	defer c.clearLoading(seq)

	log := c.logger.With().Str("segment_id", seg.ID.String()).Uint64("activation", seq).Logger()

	url, err := c.resolver.Resolve(ctx, seg)

	c.mu.Lock()
	if !c.currentLocked(seq) {
		c.mu.Unlock()
		observability.RecordStaleActivation()
		log.Debug().Msg("Discarding superseded activation")
		return nil
	}
	if err != nil {
		actErr := c.failLocked(err)
		c.mu.Unlock()
		log.Warn().Err(err).Msg("Audio resolution failed")
		return actErr
	}

	// Start under the coordinator lock so a newer activation cannot interleave
	handle := c.player.Start(ctx, url, c.callbacks(seq, seg.ID))
	c.mu.Unlock()

	log.Info().Str("url", url).Msg("Segment playback started")
	c.prefetch(ctx, seg)

	err = handle.Wait(ctx)
	if err == nil {
		return nil
	}

	c.mu.Lock()
	if !c.currentLocked(seq) {
		// Toggled off, stopped or superseded by a newer activation
		c.mu.Unlock()
		return nil
	}
	if errors.Is(err, playback.ErrStopped) || ctx.Err() != nil {
		c.stopLocked()
		c.mu.Unlock()
		return ctx.Err()
	}
	actErr := c.failLocked(err)
	c.mu.Unlock()
	log.Warn().Err(err).Msg("Segment playback failed")
	return actErr
}

// Stop stops whatever is playing. It is a no-op when idle.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Pause pauses the active segment
func (c *Coordinator) Pause() error {
	return c.player.Pause()
}

// Resume resumes the active segment
func (c *Coordinator) Resume() error {
	return c.player.Resume()
}

// State returns the UI state of segment id
func (c *Coordinator) State(id document.SegmentID) SegmentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[id]
}

// ActiveSegment returns the segment currently selected for playback
func (c *Coordinator) ActiveSegment() (document.SegmentID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	return c.active.seg.ID, true
}

func (c *Coordinator) callbacks(seq uint64, id document.SegmentID) playback.Callbacks {
	return playback.Callbacks{
		OnStart: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.currentLocked(seq) {
				c.setStateLocked(id, SegmentState{Active: true})
			}
		},
		OnProgress: func(position, duration time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.currentLocked(seq) {
				c.listener.OnProgress(id, position, duration)
			}
		},
		OnEnd: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.currentLocked(seq) {
				c.active = nil
				c.setStateLocked(id, SegmentState{})
				c.listener.OnEnd(id)
			}
		},
	}
}

func (c *Coordinator) clearLoading(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(seq) {
		return
	}
	id := c.active.seg.ID
	if st := c.states[id]; st.Loading {
		st.Loading = false
		c.setStateLocked(id, st)
	}
}

func (c *Coordinator) currentLocked(seq uint64) bool {
	return c.active != nil && c.active.seq == seq
}

// stopLocked stops the active segment and invalidates its activation
func (c *Coordinator) stopLocked() {
	c.player.Stop()
	if c.active == nil {
		return
	}
	id := c.active.seg.ID
	c.active = nil
	c.seq++
	c.setStateLocked(id, SegmentState{})
}

func (c *Coordinator) failLocked(err error) error {
	id := c.active.seg.ID
	c.active = nil
	c.player.Stop()
	c.setStateLocked(id, SegmentState{})

	msg := FailureMessage(err)
	c.listener.OnError(id, msg)
	observability.RecordError("activation", "reader")
	return &ActivationError{SegmentID: id, Message: msg, Err: err}
}

func (c *Coordinator) setStateLocked(id document.SegmentID, st SegmentState) {
	if st == (SegmentState{}) {
		delete(c.states, id)
	} else {
		c.states[id] = st
	}
	c.listener.OnState(id, st)
}

// prefetch synthesizes the segments after seg in the background
func (c *Coordinator) prefetch(ctx context.Context, seg document.Segment) {
	if c.opts.Prefetcher == nil || c.opts.PrefetchAhead <= 0 {
		return
	}

	c.mu.Lock()
	doc := c.doc
	c.mu.Unlock()
	if doc == nil {
		return
	}

	var reqs []speech.Request
	for _, next := range doc.Following(seg.ID, c.opts.PrefetchAhead) {
		if c.resolver.NeedsSynthesis(next) {
			reqs = append(reqs, c.resolver.SynthesisRequest(next))
		}
	}
	if len(reqs) == 0 {
		return
	}

	go func() {
		if err := c.opts.Prefetcher.Prefetch(ctx, reqs, c.opts.PrefetchConcurrency); err != nil {
			c.logger.Debug().Err(err).Int("segments", len(reqs)).Msg("Prefetch incomplete")
		}
	}()
}
