package speech

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Defaults substituted for omitted request fields
const (
	DefaultLanguage = "en"
	DefaultVoice    = "default"
	DefaultSpeed    = 1.0
)

// Request is a speech synthesis request. Zero values mean "use the default".
type Request struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Voice    string  `json:"voice"`
	Speed    float64 `json:"speed"`
}

// WithDefaults returns a copy with omitted fields filled in
func (r Request) WithDefaults() Request {
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	if r.Voice == "" {
		r.Voice = DefaultVoice
	}
	if r.Speed == 0 {
		r.Speed = DefaultSpeed
	}
	return r
}

// Key returns the normalized cache key. Requests that differ only by omitted fields
// share the key of their default-filled equivalent.
func (r Request) Key() string {
	r = r.WithDefaults()
	return strings.Join([]string{
		r.Text,
		r.Language,
		r.Voice,
		strconv.FormatFloat(r.Speed, 'f', -1, 64),
	}, "_")
}

// Result is the outcome of a synthesis
type Result struct {
	AudioURL string
	// Duration is only known for a fresh synthesis; it is zero on cache hits.
	Duration time.Duration
	Text     string
	Cached   bool
}

// Synthesizer turns text into a playable audio URL
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
}

// SynthesizerFunc adapts a function to Synthesizer
type SynthesizerFunc func(ctx context.Context, req Request) (Result, error)

// Synthesize calls f
func (f SynthesizerFunc) Synthesize(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
