package playback

import (
	"context"
	"time"
)

// EventKind identifies what a stream is reporting
type EventKind int

const (
	EventStarted EventKind = iota + 1
	EventProgress
	EventEnded
	EventFailed
)

// Event is a report from a media stream
type Event struct {
	Kind     EventKind
	Position time.Duration
	Duration time.Duration
	Err      error // set for EventFailed
}

// Stream is one opened audio source. It reports EventEnded or EventFailed when
// the audio finishes; a closed Events channel counts as a failure.
type Stream interface {
	Play() error
	Pause() error
	Resume() error
	Stop() error
	Events() <-chan Event
}

// Media opens audio streams by URL
type Media interface {
	Open(ctx context.Context, url string) (Stream, error)
}
