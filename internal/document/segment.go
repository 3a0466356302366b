package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// SegmentID identifies a segment within a document. The backend sends it either as a
// JSON string or as a JSON number; both decode to the same canonical string form.
type SegmentID string

// UnmarshalJSON accepts a string or a number
func (id *SegmentID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid segment id: %w", err)
		}
		*id = SegmentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid segment id %s: %w", data, err)
	}
	*id = SegmentID(n.String())
	return nil
}

// String returns the canonical form
func (id SegmentID) String() string {
	return string(id)
}

// Segment is one readable unit of a document
type Segment struct {
	ID            SegmentID `json:"id"`
	Content       string    `json:"content"`
	Translation   string    `json:"translation,omitempty"`
	Order         int       `json:"order,omitempty"`
	AudioURL      string    `json:"audioUrl,omitempty"`
	AudioFilename string    `json:"audioFilename,omitempty"`
}

// HasAudio reports whether the segment carries precomputed audio
func (s Segment) HasAudio() bool {
	return strings.TrimSpace(s.AudioURL) != "" || strings.TrimSpace(s.AudioFilename) != ""
}

// Document is an article split into segments
type Document struct {
	ID            SegmentID `json:"id"`
	Title         string    `json:"title"`
	Content       string    `json:"content,omitempty"`
	Segments      []Segment `json:"segments"`
	TotalSegments int       `json:"totalSegments,omitempty"`
}

// UnmarshalJSON accepts segments under either "paragraphs" or "segments"
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID            SegmentID `json:"id"`
		Title         string    `json:"title"`
		Content       string    `json:"content"`
		Paragraphs    []Segment `json:"paragraphs"`
		Segments      []Segment `json:"segments"`
		TotalSegments int       `json:"totalSegments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.ID = raw.ID
	d.Title = raw.Title
	d.Content = raw.Content
	d.Segments = raw.Paragraphs
	if len(d.Segments) == 0 {
		d.Segments = raw.Segments
	}
	d.TotalSegments = raw.TotalSegments
	if d.TotalSegments == 0 {
		d.TotalSegments = len(d.Segments)
	}
	return nil
}

// Following returns up to n segments after the one with the given id
func (d *Document) Following(id SegmentID, n int) []Segment {
	if n <= 0 {
		return nil
	}
	for i, seg := range d.Segments {
		if seg.ID != id {
			continue
		}
		end := i + 1 + n
		if end > len(d.Segments) {
			end = len(d.Segments)
		}
		return d.Segments[i+1 : end]
	}
	return nil
}
