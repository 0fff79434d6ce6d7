// Package ai implements the embedding provider port against the Ollama
// REST API.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/carematch/matchengine/internal/port"
)

// Compile-time check to ensure OllamaProvider satisfies the port.
var _ port.EmbeddingProvider = (*OllamaProvider)(nil)

// Config holds the configuration for the Ollama embed endpoint.
type Config struct {
	BaseURL string // e.g. http://localhost:11434 or https://api.ollama.com
	Model   string // e.g. bge-m3
	Token   string // Bearer token for Ollama Cloud (empty = no auth)

	// Dimension is the expected output dimensionality D. Responses with
	// any other length fail as malformed at the adapter boundary.
	Dimension int

	// MaxInputChars is the provider input limit; longer texts are
	// rejected client-side without a remote call. Zero disables the check.
	MaxInputChars int

	// RequestsPerSecond rate-limits remote calls. Zero means unlimited.
	RequestsPerSecond float64

	// Timeout bounds each remote call.
	Timeout time.Duration
}

// OllamaProvider implements port.EmbeddingProvider using the Ollama
// REST API.
type OllamaProvider struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOllamaProvider creates a new Ollama-backed embedding provider.
func NewOllamaProvider(cfg Config) *OllamaProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &OllamaProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

// ModelName returns the embedding model identifier.
func (o *OllamaProvider) ModelName() string {
	return o.cfg.Model
}

// Dimension returns the fixed output dimensionality.
func (o *OllamaProvider) Dimension() int {
	return o.cfg.Dimension
}

// Generate produces a vector embedding for the given text.
func (o *OllamaProvider) Generate(ctx context.Context, text string) ([]float32, error) {
	if err := o.validateInput(text); err != nil {
		return nil, err
	}

	vectors, err := o.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", port.ErrProviderMalformed)
	}
	return o.checkDimension(vectors[0])
}

// GenerateBatch produces embeddings for multiple texts in one call.
func (o *OllamaProvider) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if err := o.validateInput(text); err != nil {
			return nil, err
		}
	}

	vectors, err := o.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", port.ErrProviderMalformed, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if _, err := o.checkDimension(v); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}
	return vectors, nil
}

func (o *OllamaProvider) validateInput(text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty text", port.ErrProviderRejected)
	}
	if o.cfg.MaxInputChars > 0 && len(text) > o.cfg.MaxInputChars {
		return fmt.Errorf("%w: text length %d exceeds limit %d", port.ErrProviderRejected, len(text), o.cfg.MaxInputChars)
	}
	return nil
}

func (o *OllamaProvider) checkDimension(v []float32) ([]float32, error) {
	if len(v) != o.cfg.Dimension {
		return nil, fmt.Errorf("%w: %s", port.ErrProviderMalformed,
			(&port.DimensionMismatchError{Expected: o.cfg.Dimension, Actual: len(v)}).Error())
	}
	return v, nil
}

// embed posts to /api/embed; input may be a string or a string slice.
func (o *OllamaProvider) embed(ctx context.Context, input any) ([][]float32, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrProviderUnavailable, err)
	}

	payload := map[string]any{
		"model": o.cfg.Model,
		"input": input,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/api/embed", bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.Token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", port.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: ollama API error (%d): %s", port.ErrProviderRejected, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("%w: ollama API error (%d): %s", port.ErrProviderUnavailable, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", port.ErrProviderUnavailable, err)
	}

	var decoded struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", port.ErrProviderMalformed, err)
	}
	return decoded.Embeddings, nil
}
