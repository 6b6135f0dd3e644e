package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"secure-rag-go/internal/config"
	"secure-rag-go/pkg/errs"
	"secure-rag-go/pkg/log"
)

const DefaultLocalBaseURL = "http://localhost:11434"

// LocalProvider calls a locally served Ollama-compatible /api/embeddings endpoint.
// The local API does not report usage.
type LocalProvider struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

var _ Provider = (*LocalProvider)(nil)

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewLocalProvider validates cfg and returns a local provider.
func NewLocalProvider(cfg config.EmbeddingConfig) (*LocalProvider, error) {
	const op = "embedding.NewLocalProvider"
	if cfg.Model == "" {
		return nil, errs.Newf(errs.ErrConfiguration, op, "local embedding requires model")
	}
	if cfg.Dimensions <= 0 {
		return nil, errs.Newf(errs.ErrConfiguration, op, "local embedding requires positive dimensions")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultLocalBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &LocalProvider{cfg: cfg, client: &http.Client{Timeout: timeoutOf(cfg)}}, nil
}

func (p *LocalProvider) Dimension() int { return p.cfg.Dimensions }
func (p *LocalProvider) Model() string  { return p.cfg.Model }
func (p *LocalProvider) Name() string   { return ProviderLocal }

// Embed calls the local service to get the vector for a given text.
func (p *LocalProvider) Embed(ctx context.Context, text string) (*Embedding, error) {
	const op = "embedding.LocalProvider.Embed"
	log.Debugf("[EmbeddingClient] 调用 local Embedding API, model: %s, input_len: %d", p.cfg.Model, len(text))

	var resp localResponse
	err := postJSON(ctx, p.client, p.cfg.BaseURL+"/api/embeddings", "", localRequest{
		Model:  p.cfg.Model,
		Prompt: text,
	}, &resp)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 local Embedding API 失败, error: %v", err)
		return nil, errs.Provider(op, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errs.Provider(op, fmt.Errorf("received empty embedding from local service"))
	}

	values := make([]float32, len(resp.Embedding))
	for i, f := range resp.Embedding {
		values[i] = float32(f)
	}
	return &Embedding{Values: values, Model: p.cfg.Model}, nil
}
