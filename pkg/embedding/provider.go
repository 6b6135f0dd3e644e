// Package embedding provides the embedding providers used by the retrieval pipeline.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"secure-rag-go/internal/config"
	"secure-rag-go/pkg/errs"
)

const (
	ProviderHosted = "hosted"
	ProviderLocal  = "local"

	DefaultTimeout = 30 * time.Second
)

// Embedding is the plaintext vector of one text. It must stay on the stack of
// the call that produced it and never be persisted or logged.
type Embedding struct {
	Values []float32
	Model  string
	// Usage is the token count reported by the provider; 0 when unavailable.
	Usage int
}

// Provider turns text into a fixed-dimension vector.
type Provider interface {
	Embed(ctx context.Context, text string) (*Embedding, error)
	// Dimension is the configured vector length D.
	Dimension() int
	Model() string
	Name() string
}

// NewProvider builds the provider selected by cfg.Provider. It is called once at startup.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case ProviderHosted:
		return NewHostedProvider(cfg)
	case ProviderLocal:
		return NewLocalProvider(cfg)
	default:
		return nil, errs.Newf(errs.ErrConfiguration, "embedding.NewProvider", "unknown embedding provider: %q", cfg.Provider)
	}
}

func timeoutOf(cfg config.EmbeddingConfig) time.Duration {
	if cfg.TimeoutSeconds > 0 {
		return time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

// postJSON sends body to url and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, url, bearer string, body, out interface{}) error {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("embedding api returned non-200 status: %s, body: %s", resp.Status, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode embedding response: %w", err)
	}
	return nil
}
