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

const DefaultHostedBaseURL = "https://api.openai.com/v1"

// HostedProvider calls an OpenAI-compatible /embeddings endpoint.
type HostedProvider struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

var _ Provider = (*HostedProvider)(nil)

type hostedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type hostedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewHostedProvider validates cfg and returns a hosted provider.
func NewHostedProvider(cfg config.EmbeddingConfig) (*HostedProvider, error) {
	const op = "embedding.NewHostedProvider"
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errs.Newf(errs.ErrConfiguration, op, "hosted embedding requires api_key")
	}
	if cfg.Model == "" {
		return nil, errs.Newf(errs.ErrConfiguration, op, "hosted embedding requires model")
	}
	if cfg.Dimensions <= 0 {
		return nil, errs.Newf(errs.ErrConfiguration, op, "hosted embedding requires positive dimensions")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHostedBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HostedProvider{cfg: cfg, client: &http.Client{Timeout: timeoutOf(cfg)}}, nil
}

func (p *HostedProvider) Dimension() int { return p.cfg.Dimensions }
func (p *HostedProvider) Model() string  { return p.cfg.Model }
func (p *HostedProvider) Name() string   { return ProviderHosted }

// Embed calls the hosted API to get the vector for a given text.
func (p *HostedProvider) Embed(ctx context.Context, text string) (*Embedding, error) {
	const op = "embedding.HostedProvider.Embed"
	log.Debugf("[EmbeddingClient] 调用 hosted Embedding API, model: %s, input_len: %d", p.cfg.Model, len(text))

	var resp hostedResponse
	err := postJSON(ctx, p.client, p.cfg.BaseURL+"/embeddings", p.cfg.APIKey, hostedRequest{
		Model:      p.cfg.Model,
		Input:      []string{text},
		Dimensions: p.cfg.Dimensions,
	}, &resp)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 hosted Embedding API 失败, error: %v", err)
		return nil, errs.Provider(op, err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		log.Warnf("[EmbeddingClient] hosted Embedding API 返回了空的向量数据")
		return nil, errs.Provider(op, fmt.Errorf("received empty embedding from api"))
	}
	return &Embedding{
		Values: resp.Data[0].Embedding,
		Model:  p.cfg.Model,
		Usage:  resp.Usage.TotalTokens,
	}, nil
}
