package speech

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAudioURL is returned when a successful synthesis response carries no audio URL
	ErrNoAudioURL = errors.New("synthesis response has no audio URL")

	// ErrNoAudioSource is returned when a segment has no audio and no text to synthesize
	ErrNoAudioSource = errors.New("segment has no audio source")
)

// SynthesisError describes a failed call to the synthesis endpoint
type SynthesisError struct {
	Op         string // "transport", "status", "decode", "response" or "circuit"
	StatusCode int    // HTTP status for Op "status"
	Message    string // Server supplied message, if any
	Err        error
}

func (e *SynthesisError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("speech synthesis failed: status %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("speech synthesis failed: status %d", e.StatusCode)
	case e.Message != "":
		return "speech synthesis failed: " + e.Message
	case e.Err != nil:
		return fmt.Sprintf("speech synthesis failed (%s): %v", e.Op, e.Err)
	default:
		return "speech synthesis failed (" + e.Op + ")"
	}
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// ResolutionError is returned when no playable audio URL could be determined for a segment
type ResolutionError struct {
	SegmentID string
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve audio for segment %s: %v", e.SegmentID, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
