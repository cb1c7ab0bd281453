// Package extract mediates all calls to the external model-inference
// service: prompt construction, response decoding, validation, and
// result caching keyed by content hash.
package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ClientConfig configures the inference HTTP client.
type ClientConfig struct {
	Host        string
	Timeout     time.Duration
	Temperature float64
}

// Client speaks the inference service's JSON generate contract.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates an inference Client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("inference"),
	}
}

type generateRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Temperature float64  `json:"temperature"`
	Format      string   `json:"format,omitempty"`
	Stream      bool     `json:"stream"`
	Images      []string `json:"images,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate sends a prompt to the named model and returns the raw
// response text. images, when present, are attached base64-encoded.
func (c *Client) Generate(ctx context.Context, model, prompt string, images [][]byte) (string, error) {
	reqBody := generateRequest{
		Model:       model,
		Prompt:      prompt,
		Temperature: c.cfg.Temperature,
		Format:      "json",
		Stream:      false,
	}
	for _, img := range images {
		reqBody.Images = append(reqBody.Images, base64.StdEncoding.EncodeToString(img))
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call inference service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inference service returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode inference envelope: %w", err)
	}

	c.logger.Debug("generate complete",
		zap.String("model", model),
		zap.Int("prompt_chars", len(prompt)),
		zap.Duration("duration", time.Since(start)))
	return out.Response, nil
}

// Healthy reports whether the inference service answers its root
// endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
