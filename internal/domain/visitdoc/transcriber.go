package visitdoc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrEmptyTranscript = errors.New("transcription returned no text")

// Transcriber turns a recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType, language string) (string, error)
}

// SpeechConfig configures the HTTP speech recognition client.
type SpeechConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// SpeechClient posts the raw recording to a speech recognition endpoint and
// reads {"transcript": "..."} back.
type SpeechClient struct {
	client *http.Client
	cfg    SpeechConfig
}

func NewSpeechClient(client *http.Client, cfg SpeechConfig) *SpeechClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &SpeechClient{client: client, cfg: cfg}
}

func (s *SpeechClient) Transcribe(ctx context.Context, audio []byte, contentType, language string) (string, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	endpoint := s.cfg.URL
	if language != "" {
		endpoint += "?" + url.Values{"language": {language}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("speech service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode speech response: %w", err)
	}
	text := strings.TrimSpace(out.Transcript)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// CannedTranscript is returned when no speech service is configured.
const CannedTranscript = "Patient reports symptoms as discussed during the consultation. Recording pending clinician transcription."

// Fallback uses next when it is set and works. Otherwise it answers with
// CannedTranscript. With Strict set, failures of next are returned instead.
type Fallback struct {
	next   Transcriber
	strict bool
	logger zerolog.Logger
}

func NewFallback(next Transcriber, strict bool, logger zerolog.Logger) *Fallback {
	return &Fallback{next: next, strict: strict, logger: logger.With().Str("component", "transcriber").Logger()}
}

func (f *Fallback) Transcribe(ctx context.Context, audio []byte, contentType, language string) (string, error) {
	if f.next == nil {
		return CannedTranscript, nil
	}
	text, err := f.next.Transcribe(ctx, audio, contentType, language)
	if err == nil || f.strict {
		return text, err
	}
	f.logger.Warn().Err(err).Msg("speech service unavailable, using canned transcript")
	return CannedTranscript, nil
}
