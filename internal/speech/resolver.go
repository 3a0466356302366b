package speech

import (
	"context"
	"net/url"
	"strings"

	"github.com/lexiqai/reader-voice/internal/document"
	"github.com/lexiqai/reader-voice/internal/observability"
	"github.com/rs/zerolog"
)

// Resolution tiers, in order of preference
const (
	TierURL       = "url"
	TierFilename  = "filename"
	TierSynthesis = "synthesis"
)

// Resolver determines where a segment's audio comes from
type Resolver struct {
	mediaBase string
	synth     Synthesizer
	voice     Request // language, voice and speed used for synthesis
	logger    zerolog.Logger
}

// NewResolver creates a resolver. mediaBase must not end with a slash. synth is normally
// a *Cache so that synthesized segments are memoized.
func NewResolver(mediaBase string, synth Synthesizer, voice Request, logger zerolog.Logger) *Resolver {
	voice.Text = ""
	return &Resolver{
		mediaBase: strings.TrimRight(mediaBase, "/"),
		synth:     synth,
		voice:     voice.WithDefaults(),
		logger:    logger,
	}
}

// Resolve returns a playable URL for seg. The first tier that applies is used and no
// later tier is tried:
//  1. seg.AudioURL, prefixed with the media base
//  2. seg.AudioFilename, under {base}/audio/
//  3. on-demand synthesis of seg.Content
func (r *Resolver) Resolve(ctx context.Context, seg document.Segment) (string, error) {
	log := r.logger.With().Str("segment_id", seg.ID.String()).Logger()

	if audioURL := strings.TrimSpace(seg.AudioURL); audioURL != "" {
		resolved := r.mediaURL(audioURL)
		observability.RecordResolution(TierURL)
		log.Debug().Str("url", resolved).Msg("Using existing audio URL")
		return resolved, nil
	}

	if filename := strings.TrimSpace(seg.AudioFilename); filename != "" {
		resolved := r.mediaBase + "/audio/" + url.PathEscape(filename)
		observability.RecordResolution(TierFilename)
		log.Debug().Str("url", resolved).Msg("Using audio file from media host")
		return resolved, nil
	}

	if strings.TrimSpace(seg.Content) == "" {
		return "", &ResolutionError{SegmentID: seg.ID.String(), Err: ErrNoAudioSource}
	}

	observability.RecordResolution(TierSynthesis)
	log.Debug().Int("text_length", len(seg.Content)).Msg("Generating speech")

	res, err := r.synth.Synthesize(ctx, r.SynthesisRequest(seg))
	if err != nil {
		return "", &ResolutionError{SegmentID: seg.ID.String(), Err: err}
	}
	if res.AudioURL == "" {
		return "", &ResolutionError{
			SegmentID: seg.ID.String(),
			Err:       &SynthesisError{Op: "response", Err: ErrNoAudioURL},
		}
	}

	resolved := r.mediaURL(res.AudioURL)
	log.Debug().Str("url", resolved).Bool("cached", res.Cached).Msg("Speech ready")
	return resolved, nil
}

// SynthesisRequest is the request tier 3 issues for seg
func (r *Resolver) SynthesisRequest(seg document.Segment) Request {
	req := r.voice
	req.Text = seg.Content
	return req
}

// NeedsSynthesis reports whether resolving seg would reach tier 3
func (r *Resolver) NeedsSynthesis(seg document.Segment) bool {
	return !seg.HasAudio() && strings.TrimSpace(seg.Content) != ""
}

// mediaURL joins a media-host relative path onto the base. Absolute URLs pass through.
func (r *Resolver) mediaURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return r.mediaBase + path
}
