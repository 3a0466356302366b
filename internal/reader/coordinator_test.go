package reader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/reader-voice/internal/document"
	"github.com/lexiqai/reader-voice/internal/playback"
	"github.com/lexiqai/reader-voice/internal/speech"
	"github.com/rs/zerolog"
)

type harness struct {
	resolver *fakeResolver
	media    *fakeMedia
	player   *playback.Controller
	listener *recordingListener
	coord    *Coordinator
}

func newHarness(opts Options) *harness {
	h := &harness{
		resolver: newFakeResolver(),
		media:    newFakeMedia(),
		listener: &recordingListener{},
	}
	h.player = playback.NewController(h.media, 0, zerolog.Nop())
	h.coord = NewCoordinator(h.resolver, h.player, h.listener, opts, zerolog.Nop())
	return h
}

// activate runs Activate in the background and returns its result channel
func (h *harness) activate(seg document.Segment) <-chan error {
	done := make(chan error, 1)
	go func() { done <- h.coord.Activate(context.Background(), seg) }()
	return done
}

func result(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("Activate did not return")
		return nil
	}
}

func seg(id string) document.Segment {
	return document.Segment{ID: document.SegmentID(id), Content: "text " + id}
}

func TestCoordinator_PlaysToEnd(t *testing.T) {
	h := newHarness(Options{})
	done := h.activate(seg("1"))

	stream, err := h.media.next()
	if err != nil {
		t.Fatal(err)
	}
	if stream.url != urlFor("1") {
		t.Errorf("Expected %s, got %s", urlFor("1"), stream.url)
	}
	if st := h.coord.State("1"); !st.Active || !st.Loading {
		t.Errorf("Expected active and loading before start, got %+v", st)
	}

	stream.events <- playback.Event{Kind: playback.EventStarted}
	if !waitFor(func() bool { return h.coord.State("1") == SegmentState{Active: true} }) {
		t.Errorf("Expected loading cleared once playing, got %+v", h.coord.State("1"))
	}

	stream.events <- playback.Event{Kind: playback.EventProgress, Position: time.Second, Duration: 2 * time.Second}
	stream.events <- playback.Event{Kind: playback.EventEnded}

	if err := result(t, done); err != nil {
		t.Errorf("Expected nil after natural end, got %v", err)
	}
	if st := h.coord.State("1"); st.Active || st.Loading {
		t.Errorf("Expected segment cleared after end, got %+v", st)
	}
	if _, ok := h.coord.ActiveSegment(); ok {
		t.Error("Expected no active segment after end")
	}

	want := []string{
		"state 1 active=true loading=true",
		"state 1 active=true loading=false",
		"progress 1 1s/2s",
		"state 1 active=false loading=false",
		"end 1",
	}
	got := h.listener.snapshot()
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestCoordinator_Toggle(t *testing.T) {
	h := newHarness(Options{})
	first := h.activate(seg("1"))

	stream, err := h.media.next()
	if err != nil {
		t.Fatal(err)
	}
	stream.events <- playback.Event{Kind: playback.EventStarted}
	waitFor(h.player.IsPlaying)

	if err := h.coord.Activate(context.Background(), seg("1")); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}

	if h.player.IsPlaying() {
		t.Error("Expected playback stopped after toggling the active segment")
	}
	if st := h.coord.State("1"); st.Active || st.Loading {
		t.Errorf("Expected segment inactive, got %+v", st)
	}
	if !stream.isStopped() {
		t.Error("Expected the stream to be stopped")
	}
	if err := result(t, first); err != nil {
		t.Errorf("Toggled-off activation should return nil, got %v", err)
	}
	if h.listener.has("end 1") {
		t.Error("OnEnd must not fire for a toggled-off segment")
	}
}

func TestCoordinator_ToggleWhileLoading(t *testing.T) {
	h := newHarness(Options{})
	release := h.resolver.hold("1")
	first := h.activate(seg("1"))

	waitFor(func() bool { return h.coord.State("1").Loading })
	if err := h.coord.Activate(context.Background(), seg("1")); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	release()

	if err := result(t, first); err != nil {
		t.Errorf("Expected nil for cancelled activation, got %v", err)
	}
	if st := h.coord.State("1"); st.Active || st.Loading {
		t.Errorf("Expected segment cleared, got %+v", st)
	}
	select {
	case s := <-h.media.opened:
		t.Errorf("No stream should open for a toggled-off segment, got %s", s.url)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCoordinator_SwitchSegments(t *testing.T) {
	h := newHarness(Options{})
	first := h.activate(seg("1"))
	firstStream, _ := h.media.next()
	firstStream.events <- playback.Event{Kind: playback.EventStarted}

	second := h.activate(seg("2"))
	secondStream, err := h.media.next()
	if err != nil {
		t.Fatal(err)
	}

	if err := result(t, first); err != nil {
		t.Errorf("Superseded activation should return nil, got %v", err)
	}
	if !firstStream.isStopped() {
		t.Error("Expected first stream stopped before the second started")
	}
	if st := h.coord.State("1"); st.Active {
		t.Errorf("Expected segment 1 inactive, got %+v", st)
	}
	if st := h.coord.State("2"); !st.Active {
		t.Errorf("Expected segment 2 active, got %+v", st)
	}

	// A late end from the old stream changes nothing
	firstStream.events <- playback.Event{Kind: playback.EventEnded}
	time.Sleep(20 * time.Millisecond)
	if h.listener.has("end 1") {
		t.Error("Stale completion leaked to the listener")
	}

	h.coord.Stop()
	if err := result(t, second); err != nil {
		t.Errorf("Stopped activation should return nil, got %v", err)
	}
	if !secondStream.isStopped() {
		t.Error("Expected second stream stopped")
	}
}

func TestCoordinator_StaleResolutionDiscarded(t *testing.T) {
	h := newHarness(Options{})
	releaseA := h.resolver.hold("A")

	a := h.activate(seg("A"))
	waitFor(func() bool { return h.coord.State("A").Loading })

	b := h.activate(seg("B"))
	streamB, err := h.media.next()
	if err != nil {
		t.Fatal(err)
	}
	if streamB.url != urlFor("B") {
		t.Fatalf("Expected B to play, got %s", streamB.url)
	}

	// A resolves late and must not play
	releaseA()
	if err := result(t, a); err != nil {
		t.Errorf("Stale activation should return nil, got %v", err)
	}
	select {
	case s := <-h.media.opened:
		t.Errorf("Stale resolution opened a stream for %s", s.url)
	case <-time.After(20 * time.Millisecond):
	}

	if id, _ := h.coord.ActiveSegment(); id != "B" {
		t.Errorf("Expected B active, got %q", id)
	}
	if st := h.coord.State("A"); st.Active || st.Loading {
		t.Errorf("Expected A cleared, got %+v", st)
	}

	streamB.events <- playback.Event{Kind: playback.EventEnded}
	if err := result(t, b); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestCoordinator_RapidActivation(t *testing.T) {
	h := newHarness(Options{})
	ids := []document.SegmentID{"1", "2", "3", "4", "5"}

	var dones []<-chan error
	for _, id := range ids {
		dones = append(dones, h.activate(seg(string(id))))
		id := id
		waitFor(func() bool {
			active, _ := h.coord.ActiveSegment()
			return active == id
		})
	}

	last := urlFor("5")
	if !waitFor(func() bool {
		live := h.player.Current()
		return live != nil && live.URL() == last
	}) {
		t.Fatal("Expected the last segment to own the live handle")
	}

	for i, done := range dones[:4] {
		if err := result(t, done); err != nil {
			t.Errorf("activation %s: expected nil, got %v", ids[i], err)
		}
	}

	active := 0
	for _, id := range ids {
		if h.coord.State(id).Active {
			active++
		}
	}
	if active != 1 {
		t.Errorf("Expected exactly 1 active segment, got %d", active)
	}

	for len(h.media.opened) > 0 {
		s := <-h.media.opened
		if s.url != last && !waitFor(s.isStopped) {
			t.Errorf("Superseded stream %s left running", s.url)
		}
	}

	h.coord.Stop()
	result(t, dones[4])
}

func TestCoordinator_ResolutionError(t *testing.T) {
	h := newHarness(Options{})
	h.resolver.errs["1"] = &speech.SynthesisError{Op: "status", StatusCode: 500}

	err := h.coord.Activate(context.Background(), seg("1"))

	var actErr *ActivationError
	if !errors.As(err, &actErr) {
		t.Fatalf("Expected ActivationError, got %v", err)
	}
	if actErr.Message != "internal server error" {
		t.Errorf("Unexpected message %q", actErr.Message)
	}
	var synthErr *speech.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Error("Expected the synthesis error to stay reachable")
	}
	if st := h.coord.State("1"); st.Active || st.Loading {
		t.Errorf("Expected flags cleared after failure, got %+v", st)
	}
	if !h.listener.has("error 1 internal server error") {
		t.Errorf("Expected error event, got %v", h.listener.snapshot())
	}
}

func TestCoordinator_PlaybackError(t *testing.T) {
	h := newHarness(Options{})
	done := h.activate(seg("1"))

	stream, _ := h.media.next()
	stream.events <- playback.Event{Kind: playback.EventFailed, Err: errors.New("decode error")}

	err := result(t, done)
	var actErr *ActivationError
	if !errors.As(err, &actErr) {
		t.Fatalf("Expected ActivationError, got %v", err)
	}
	if actErr.Message != MsgPlaybackFailed {
		t.Errorf("Unexpected message %q", actErr.Message)
	}
	if st := h.coord.State("1"); st.Active || st.Loading {
		t.Errorf("Expected flags cleared, got %+v", st)
	}
	if h.player.Current() != nil {
		t.Error("Failed playback left a live handle")
	}
}

func TestCoordinator_ErrorDoesNotTouchOtherSegments(t *testing.T) {
	h := newHarness(Options{})
	h.resolver.errs["bad"] = speech.ErrNoAudioSource

	h.coord.Activate(context.Background(), seg("bad"))

	good := h.activate(seg("good"))
	stream, err := h.media.next()
	if err != nil {
		t.Fatal(err)
	}
	stream.events <- playback.Event{Kind: playback.EventStarted}
	waitFor(h.player.IsPlaying)

	if st := h.coord.State("good"); !st.Active {
		t.Errorf("Expected good segment active, got %+v", st)
	}
	if !h.listener.has("error bad " + MsgNoAudioSource) {
		t.Errorf("Expected error for bad segment, got %v", h.listener.snapshot())
	}

	h.coord.Stop()
	result(t, good)
}

func TestCoordinator_StopWhenIdle(t *testing.T) {
	h := newHarness(Options{})

	h.coord.Stop()
	h.coord.Stop()

	if len(h.listener.snapshot()) != 0 {
		t.Errorf("Stop while idle should emit nothing, got %v", h.listener.snapshot())
	}
	if err := h.coord.Pause(); err != nil {
		t.Errorf("Pause while idle should be a no-op, got %v", err)
	}
}

func TestCoordinator_ContextCancelled(t *testing.T) {
	h := newHarness(Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.coord.Activate(ctx, seg("1")) }()
	h.media.next()
	cancel()

	if err := result(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if _, ok := h.coord.ActiveSegment(); ok {
		t.Error("Expected no active segment after cancellation")
	}
	if st := h.coord.State("1"); st.Active || st.Loading {
		t.Errorf("Expected flags cleared, got %+v", st)
	}
}

type recordingPrefetcher struct {
	mu   sync.Mutex
	reqs []speech.Request
	done chan struct{}
}

func (p *recordingPrefetcher) Prefetch(ctx context.Context, reqs []speech.Request, concurrency int) error {
	p.mu.Lock()
	p.reqs = append(p.reqs, reqs...)
	p.mu.Unlock()
	close(p.done)
	return nil
}

func TestCoordinator_PrefetchesFollowingSegments(t *testing.T) {
	prefetcher := &recordingPrefetcher{done: make(chan struct{})}
	h := newHarness(Options{Prefetcher: prefetcher, PrefetchAhead: 2})

	doc := &document.Document{ID: "d", Segments: []document.Segment{
		seg("1"),
		{ID: "2", Content: "has audio", AudioURL: "/audio/2.mp3"},
		seg("3"),
		seg("4"),
	}}
	h.coord.SetDocument(doc)

	done := h.activate(doc.Segments[0])
	h.media.next()

	select {
	case <-prefetcher.done:
	case <-time.After(time.Second):
		t.Fatal("Prefetch was not triggered")
	}

	prefetcher.mu.Lock()
	defer prefetcher.mu.Unlock()
	if len(prefetcher.reqs) != 1 || prefetcher.reqs[0].Text != "text 3" {
		t.Errorf("Expected only segment 3 prefetched, got %+v", prefetcher.reqs)
	}

	h.coord.Stop()
	result(t, done)
}
