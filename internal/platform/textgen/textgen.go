// Package textgen is the client side of the external text-generation
// service used to draft clinical prose. Calls are bounded by a timeout and,
// when configured, fall back to deterministic canned output so the
// documentation pipeline keeps working without the service.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Kind names the prompt family. The canned fallback depends on it.
type Kind string

const (
	KindTranslation  Kind = "translation"
	KindNote         Kind = "note"
	KindDifferential Kind = "differential"
)

var (
	ErrEmptyResponse = errors.New("text generation returned no content")
	ErrNotConfigured = errors.New("text generation endpoint not configured")
)

// Request is one generation call.
type Request struct {
	Kind      Kind
	Prompt    string
	MaxTokens int
	// Source is the raw text the prompt was built from. The translation
	// fallback echoes it.
	Source string
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config configures the HTTP client.
type Config struct {
	URL         string
	APIKey      string
	Model       string
	Temperature float64
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	client *http.Client
	cfg    Config
}

// NewHTTPClient builds a client. A nil http.Client uses http.DefaultClient.
func NewHTTPClient(client *http.Client, cfg Config) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	return &HTTPClient{client: client, cfg: cfg}
}

// Generate sends the prompt as a single user message.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.cfg.URL == "" {
		return "", ErrNotConfigured
	}
	payload := map[string]interface{}{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("text generation request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("text generation status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var wrapper struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return "", fmt.Errorf("decode text generation response: %w", err)
	}
	if len(wrapper.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(wrapper.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// Bounded wraps a Generator with a per-call timeout and an optional canned
// fallback.
type Bounded struct {
	next     Generator
	timeout  time.Duration
	fallback bool
	logger   zerolog.Logger
}

// NewBounded wraps next. With fallback enabled, any failure of next (or a
// nil next) yields Canned output instead of an error.
func NewBounded(next Generator, timeout time.Duration, fallback bool, logger zerolog.Logger) *Bounded {
	return &Bounded{
		next:     next,
		timeout:  timeout,
		fallback: fallback,
		logger:   logger.With().Str("component", "textgen").Logger(),
	}
}

func (b *Bounded) Generate(ctx context.Context, req Request) (string, error) {
	if b.next == nil {
		if b.fallback {
			return Canned(req), nil
		}
		return "", ErrNotConfigured
	}

	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	out, err := b.next.Generate(callCtx, req)
	if err == nil {
		return out, nil
	}
	if !b.fallback {
		return "", err
	}
	b.logger.Warn().Err(err).Str("kind", string(req.Kind)).Msg("text generation unavailable, using canned output")
	return Canned(req), nil
}

// PendingNote is the canned structured note.
const PendingNote = `SUBJECTIVE:
Patient-reported history as transcribed. Clinician review pending.

OBJECTIVE:
Vital Signs: To be recorded
Physical Examination: Pending

ASSESSMENT:
Automated assessment unavailable. Refer to the severity classification.

PLAN:
Clinician to review transcript and complete documentation.`

// Canned returns the deterministic fallback for a request.
func Canned(req Request) string {
	switch req.Kind {
	case KindTranslation:
		return strings.TrimSpace(req.Source)
	case KindNote:
		return PendingNote
	case KindDifferential:
		return "[]"
	}
	return ""
}
