package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
)

// Page is one page of the document listing
type Page struct {
	Documents  []Document `json:"documents"`
	Page       int        `json:"page"`
	Total      int        `json:"total"`
	TotalPages int        `json:"totalPages"`
}

// Source lists documents from the backend API
type Source struct {
	baseURL    string
	pageSize   int
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewSource creates a document source for GET {baseURL}/document
func NewSource(baseURL string, pageSize int, httpClient *http.Client, logger zerolog.Logger) *Source {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return &Source{
		baseURL:    baseURL,
		pageSize:   pageSize,
		httpClient: httpClient,
		logger:     logger,
	}
}

// List fetches one page of documents. page starts at 1.
func (s *Source) List(ctx context.Context, page int) (*Page, error) {
	if page < 1 {
		page = 1
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(s.pageSize))
	endpoint := s.baseURL + "/document?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("document API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document list: %w", err)
	}

	docs, total, err := decodeListing(body)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Int("page", page).
		Int("documents", len(docs)).
		Int("total", total).
		Msg("Listed documents")

	result := &Page{Documents: docs, Page: page, Total: total}
	if total > 0 {
		result.TotalPages = (total + s.pageSize - 1) / s.pageSize
	} else if len(docs) > 0 {
		result.TotalPages = 1
	}
	return result, nil
}

// decodeListing accepts {documents, total}, a bare array, or {data: [...]}
func decodeListing(body []byte) ([]Document, int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var docs []Document
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, 0, fmt.Errorf("failed to decode document list: %w", err)
		}
		return docs, 0, nil
	}

	var envelope struct {
		Documents []Document `json:"documents"`
		Total     int        `json:"total"`
		Data      []Document `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, 0, fmt.Errorf("failed to decode document list: %w", err)
	}

	switch {
	case envelope.Documents != nil:
		return envelope.Documents, envelope.Total, nil
	case envelope.Data != nil:
		return envelope.Data, envelope.Total, nil
	default:
		return []Document{}, envelope.Total, nil
	}
}
