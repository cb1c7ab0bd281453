package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TranscriptClient fetches transcripts for video sources from a
// transcription HTTP service.
type TranscriptClient struct {
	host   string
	model  string
	http   *http.Client
	logger *zap.Logger
}

// TranscriptConfig configures a TranscriptClient.
type TranscriptConfig struct {
	Host    string
	Model   string
	Timeout time.Duration
}

// NewTranscriptClient creates a transcript provider backed by the
// transcription service at cfg.Host.
func NewTranscriptClient(cfg TranscriptConfig, logger *zap.Logger) *TranscriptClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptClient{
		host:   cfg.Host,
		model:  cfg.Model,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("transcript"),
	}
}

type transcribeRequest struct {
	URL   string `json:"url"`
	Model string `json:"model,omitempty"`
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
}

// Transcript returns the spoken-word text of the video at videoURL.
func (c *TranscriptClient) Transcript(ctx context.Context, videoURL string) (string, error) {
	payload, err := json.Marshal(transcribeRequest{URL: videoURL, Model: c.model})
	if err != nil {
		return "", fmt.Errorf("marshal transcribe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/transcribe", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call transcription service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read transcribe response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out transcribeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode transcribe response: %w", err)
	}
	text := out.Transcript
	if text == "" {
		text = out.Text
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty transcript for %s", videoURL)
	}

	c.logger.Debug("transcript complete",
		zap.String("url", videoURL),
		zap.Int("chars", len(text)),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}
