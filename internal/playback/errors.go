package playback

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped is returned by Wait when a handle was stopped or superseded
	ErrStopped = errors.New("playback stopped")

	// ErrOpenTimeout means the stream never reported that it started
	ErrOpenTimeout = errors.New("media did not start in time")

	// ErrStreamClosed means the stream went away without ending or failing
	ErrStreamClosed = errors.New("media stream closed unexpectedly")
)

// PlaybackError reports that audio at URL could not be loaded or played
type PlaybackError struct {
	URL string
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback failed for %s: %v", e.URL, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}
