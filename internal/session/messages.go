package session

import (
	"time"

	"github.com/lexiqai/reader-voice/internal/document"
)

// Client to server message types
const (
	TypeActivate      = "activate"
	TypeDocument      = "document"
	TypeStop          = "stop"
	TypePause         = "pause"
	TypeResume        = "resume"
	TypeMediaStarted  = "media.started"
	TypeMediaProgress = "media.progress"
	TypeMediaEnded    = "media.ended"
	TypeMediaError    = "media.error"
)

// Server to client message types
const (
	TypeReady           = "session.ready"
	TypeMediaLoad       = "media.load"
	TypeMediaPlay       = "media.play"
	TypeMediaPause      = "media.pause"
	TypeMediaResume     = "media.resume"
	TypeMediaStop       = "media.stop"
	TypeSegmentState    = "segment.state"
	TypeSegmentProgress = "segment.progress"
	TypeSegmentEnded    = "segment.ended"
	TypeSegmentError    = "segment.error"
)

// ClientMessage is any message sent by the reader UI.
// Positions and durations are in seconds, as reported by the browser.
type ClientMessage struct {
	Type     string             `json:"type"`
	Segment  *document.Segment  `json:"segment,omitempty"`
	Document *document.Document `json:"document,omitempty"`
	Handle   uint64             `json:"handle,omitempty"`
	Position float64            `json:"position,omitempty"`
	Duration float64            `json:"duration,omitempty"`
	Message  string             `json:"message,omitempty"`
}

// ReadyMessage is sent once when the session starts
type ReadyMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// MediaCommand tells the browser what to do with an audio element
type MediaCommand struct {
	Type   string `json:"type"`
	Handle uint64 `json:"handle"`
	URL    string `json:"url,omitempty"`
}

// SegmentStateMessage carries a segment's active and loading flags
type SegmentStateMessage struct {
	Type      string             `json:"type"`
	SegmentID document.SegmentID `json:"segmentId"`
	Active    bool               `json:"active"`
	Loading   bool               `json:"loading"`
}

// SegmentProgressMessage reports playback position in seconds
type SegmentProgressMessage struct {
	Type      string             `json:"type"`
	SegmentID document.SegmentID `json:"segmentId"`
	Position  float64            `json:"position"`
	Duration  float64            `json:"duration"`
}

// SegmentEventMessage is used for segment.ended and segment.error
type SegmentEventMessage struct {
	Type      string             `json:"type"`
	SegmentID document.SegmentID `json:"segmentId"`
	Message   string             `json:"message,omitempty"`
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
