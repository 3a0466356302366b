package reader

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexiqai/reader-voice/internal/document"
	"github.com/lexiqai/reader-voice/internal/playback"
	"github.com/lexiqai/reader-voice/internal/resilience"
	"github.com/lexiqai/reader-voice/internal/speech"
)

// User-facing failure messages
const (
	MsgNetwork         = "network connection failed, please check your network settings"
	MsgTimeout         = "request timed out, please try again"
	MsgUnavailable     = "speech service is temporarily unavailable, please try again later"
	MsgSynthesisFailed = "speech generation failed, please try again"
	MsgPlaybackFailed  = "audio playback failed, please check the audio file"
	MsgNoAudioSource   = "this segment has no text to read"
	MsgRequestFailed   = "request failed"
)

// ActivationError is returned by Activate when a segment could not be played
type ActivationError struct {
	SegmentID document.SegmentID
	Message   string
	Err       error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("segment %s: %s: %v", e.SegmentID, e.Message, e.Err)
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}

// FailureMessage converts a resolution or playback error into text for the reader
func FailureMessage(err error) string {
	var synthErr *speech.SynthesisError
	var playErr *playback.PlaybackError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, speech.ErrNoAudioSource):
		return MsgNoAudioSource
	case errors.Is(err, resilience.ErrCircuitOpen):
		return MsgUnavailable
	case errors.As(err, &synthErr):
		switch synthErr.Op {
		case "transport":
			if errors.Is(synthErr.Err, context.DeadlineExceeded) {
				return MsgTimeout
			}
			return MsgNetwork
		case "status":
			return StatusMessage(synthErr.StatusCode)
		case "circuit":
			return MsgUnavailable
		case "response":
			if synthErr.Message != "" {
				return synthErr.Message
			}
		}
		return MsgSynthesisFailed
	case errors.As(err, &playErr):
		if errors.Is(playErr, playback.ErrOpenTimeout) {
			return MsgTimeout
		}
		return MsgPlaybackFailed
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimeout
	default:
		return MsgRequestFailed
	}
}

// StatusMessage describes a non-2xx HTTP status
func StatusMessage(code int) string {
	switch code {
	case 400:
		return "invalid request parameters"
	case 401:
		return "unauthorized"
	case 403:
		return "access forbidden"
	case 404:
		return "requested resource not found"
	case 500:
		return "internal server error"
	case 502:
		return "bad gateway"
	case 503:
		return "service unavailable"
	default:
		return fmt.Sprintf("request failed (%d)", code)
	}
}
