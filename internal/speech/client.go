package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexiqai/reader-voice/internal/config"
	"github.com/lexiqai/reader-voice/internal/observability"
	"github.com/lexiqai/reader-voice/internal/resilience"
	"github.com/rs/zerolog"
)

// Client calls the backend speech generation endpoint
type Client struct {
	url        string
	timeout    time.Duration
	retry      *resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
	httpClient *http.Client
	logger     zerolog.Logger
}

// generateResponse covers both the bare and the {success, data} envelope shapes
type generateResponse struct {
	Success  *bool        `json:"success"`
	Message  string       `json:"message"`
	Error    string       `json:"error"`
	AudioURL string       `json:"audioUrl"`
	Duration float64      `json:"duration"`
	Text     string       `json:"text"`
	Data     *audioResult `json:"data"`
}

type audioResult struct {
	AudioURL string  `json:"audioUrl"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
}

// NewClient creates a synthesis client for cfg.SynthesisURL()
func NewClient(cfg *config.Config, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	breaker := resilience.NewCircuitBreaker("synthesis",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	})

	return &Client{
		url:     cfg.SynthesisURL(),
		timeout: cfg.SynthesisTimeoutDuration(),
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		},
		breaker:    breaker,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Synthesize requests speech for req. Transport errors and 5xx responses are retried;
// every failure is returned as a *SynthesisError.
func (c *Client) Synthesize(ctx context.Context, req Request) (Result, error) {
	req = req.WithDefaults()

	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, &SynthesisError{Op: "encode", Err: err}
	}

	start := time.Now()
	var result Result

	err = c.breaker.Call(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
			if attempt > 0 {
				c.logger.Debug().Int("attempt", attempt+1).Msg("Retrying speech synthesis")
			}
			res, err := c.post(ctx, payload)
			if err != nil {
				return err
			}
			result = res
			return nil
		}, c.retry, resilience.IsRetryable)
	}, countsAgainstEndpoint)

	var retryable *resilience.RetryableError
	if errors.As(err, &retryable) {
		err = retryable.Err
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = &SynthesisError{Op: "circuit", Err: err}
	}

	observability.RecordSynthesis(err == nil, time.Since(start).Seconds())
	if err != nil {
		observability.RecordError("synthesis", "speech")
		c.logger.Error().Err(err).Int("text_length", len(req.Text)).Msg("Speech synthesis failed")
		return Result{}, err
	}

	if result.Text == "" {
		result.Text = req.Text
	}
	c.logger.Debug().
		Str("audio_url", result.AudioURL).
		Dur("duration", result.Duration).
		Dur("latency", time.Since(start)).
		Msg("Speech synthesized")
	return result, nil
}

// post performs a single attempt
func (c *Client) post(ctx context.Context, payload []byte) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, &SynthesisError{Op: "transport", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		synthErr := &SynthesisError{Op: "transport", Err: err}
		if resilience.IsRetryableNetworkError(err) {
			return Result{}, resilience.NewRetryableError(synthErr)
		}
		return Result{}, synthErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, resilience.NewRetryableError(&SynthesisError{Op: "transport", Err: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		synthErr := &SynthesisError{Op: "status", StatusCode: resp.StatusCode, Message: serverMessage(body)}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return Result{}, resilience.NewRetryableError(synthErr)
		}
		return Result{}, synthErr
	}

	return parseGenerateResponse(body)
}

// parseGenerateResponse extracts the audio URL from either a top-level field or the
// nested data object
func parseGenerateResponse(body []byte) (Result, error) {
	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, &SynthesisError{Op: "decode", Err: err}
	}

	if parsed.Success != nil && !*parsed.Success {
		msg := parsed.Message
		if msg == "" {
			msg = parsed.Error
		}
		if msg == "" {
			msg = "request was not successful"
		}
		return Result{}, &SynthesisError{Op: "response", Message: msg}
	}

	result := Result{
		AudioURL: strings.TrimSpace(parsed.AudioURL),
		Duration: seconds(parsed.Duration),
		Text:     parsed.Text,
	}
	if result.AudioURL == "" && parsed.Data != nil {
		result = Result{
			AudioURL: strings.TrimSpace(parsed.Data.AudioURL),
			Duration: seconds(parsed.Data.Duration),
			Text:     parsed.Data.Text,
		}
	}
	if result.AudioURL == "" {
		return Result{}, &SynthesisError{Op: "response", Err: ErrNoAudioURL}
	}
	return result, nil
}

// serverMessage pulls a message out of an error body, if it is JSON
func serverMessage(body []byte) string {
	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return parsed.Error
}

// countsAgainstEndpoint reports whether err indicates an unhealthy endpoint, as opposed
// to a request the endpoint rejected
func countsAgainstEndpoint(err error) bool {
	if resilience.IsRetryable(err) {
		return true
	}
	var synthErr *SynthesisError
	if errors.As(err, &synthErr) {
		return synthErr.Op == "transport"
	}
	return true
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
