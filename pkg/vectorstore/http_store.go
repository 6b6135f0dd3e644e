package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"secure-rag-go/internal/config"
	"secure-rag-go/pkg/errs"
	"secure-rag-go/pkg/log"
)

// HTTPStore talks to a hosted vector index over its REST API. All calls are
// bearer authenticated and target one named index.
type HTTPStore struct {
	baseURL string
	apiKey  string
	index   string
	timeout time.Duration
	client  *http.Client
}

var _ Store = (*HTTPStore)(nil)

type upsertRequest struct {
	Vectors []Record `json:"vectors"`
}

type queryRequest struct {
	Vector          []float32              `json:"vector"`
	TopK            int                    `json:"topK"`
	Filter          map[string]interface{} `json:"filter,omitempty"`
	IncludeMetadata bool                   `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

// NewHTTPStore validates cfg and returns an HTTP backend.
func NewHTTPStore(cfg config.VectorStoreConfig) (*HTTPStore, error) {
	const op = "vectorstore.NewHTTPStore"
	if cfg.BaseURL == "" {
		return nil, errs.Newf(errs.ErrConfiguration, op, "vector_store.base_url is required")
	}
	if cfg.IndexName == "" {
		return nil, errs.Newf(errs.ErrConfiguration, op, "vector_store.index_name is required")
	}
	timeout := timeoutOf(cfg)
	return &HTTPStore{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		index:   cfg.IndexName,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPStore) endpoint(path string) string {
	return fmt.Sprintf("%s/indexes/%s/%s", s.baseURL, url.PathEscape(s.index), path)
}

// Upsert writes all records in one call.
func (s *HTTPStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.do(ctx, "vectorstore.HTTPStore.Upsert", http.MethodPost, "vectors/upsert", upsertRequest{Vectors: records}, nil); err != nil {
		return err
	}
	log.Infof("[VectorStore] upsert 成功, index: %s, records: %d", s.index, len(records))
	return nil
}

// Query returns at most topK matches in the store's order.
func (s *HTTPStore) Query(ctx context.Context, vector []float32, topK int, filter map[string]interface{}) ([]Match, error) {
	const op = "vectorstore.HTTPStore.Query"
	if err := validateQuery(op, vector, topK); err != nil {
		return nil, err
	}
	var resp queryResponse
	err := s.do(ctx, op, http.MethodPost, "query", queryRequest{
		Vector:          vector,
		TopK:            topK,
		Filter:          filter,
		IncludeMetadata: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Matches) > topK {
		resp.Matches = resp.Matches[:topK]
	}
	return resp.Matches, nil
}

// Delete removes records by ID.
func (s *HTTPStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.do(ctx, "vectorstore.HTTPStore.Delete", http.MethodPost, "vectors/delete", deleteRequest{IDs: ids}, nil)
}

// HealthCheck probes the index stats endpoint.
func (s *HTTPStore) HealthCheck(ctx context.Context) bool {
	if err := s.do(ctx, "vectorstore.HTTPStore.HealthCheck", http.MethodGet, "describe_index_stats", nil, nil); err != nil {
		log.Warnf("[VectorStore] 健康检查失败: %v", err)
		return false
	}
	return true
}

func (s *HTTPStore) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errs.Newf(errs.ErrValidation, op, "marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint(path), reader)
	if err != nil {
		return errs.Store(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errs.Store(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return statusError(op, method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Store(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
