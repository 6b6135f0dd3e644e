// Package vectorstore defines the contract against the external similarity
// search service and its backends.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"secure-rag-go/internal/config"
	"secure-rag-go/pkg/errs"

	"github.com/elastic/go-elasticsearch/v8"
)

const (
	BackendHTTP          = "http"
	BackendElasticsearch = "elasticsearch"

	DefaultTimeout = 30 * time.Second
)

// Record is one stored unit. ID is unique within the index.
type Record struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Match is one similarity search hit. Matches arrive ordered by descending
// relevance as defined by the store.
type Match struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Store is implemented by every vector store backend.
//
// Upsert is idempotent per record ID and all-or-nothing per call. Delete of a
// missing ID is not an error. Transport failures and timeouts are returned as
// errs.ErrStore, never as an empty result. HealthCheck never fails; it reports
// false instead.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, topK int, filter map[string]interface{}) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
	HealthCheck(ctx context.Context) bool
}

// New builds the backend selected by cfg.Backend. esClient is only used by
// the elasticsearch backend and may be nil otherwise.
func New(cfg config.VectorStoreConfig, dimension int, esClient *elasticsearch.Client) (Store, error) {
	switch cfg.Backend {
	case BackendHTTP:
		return NewHTTPStore(cfg)
	case BackendElasticsearch:
		if esClient == nil {
			return nil, errs.Newf(errs.ErrConfiguration, "vectorstore.New", "elasticsearch backend requires an initialized client")
		}
		return NewElasticsearchStore(esClient, cfg, dimension), nil
	default:
		return nil, errs.Newf(errs.ErrConfiguration, "vectorstore.New", "unsupported vector store backend %q", cfg.Backend)
	}
}

func timeoutOf(cfg config.VectorStoreConfig) time.Duration {
	if cfg.TimeoutSeconds > 0 {
		return time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

func validateQuery(op string, vector []float32, topK int) error {
	if len(vector) == 0 {
		return errs.Newf(errs.ErrValidation, op, "empty query vector")
	}
	if topK <= 0 {
		return errs.Newf(errs.ErrValidation, op, "topK must be positive, got %d", topK)
	}
	return nil
}

func statusError(op, method, path, status string) error {
	return errs.Store(op, fmt.Errorf("%s %s returned %s", method, path, status))
}
