package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"secure-rag-go/internal/config"
	"secure-rag-go/pkg/errs"
	"secure-rag-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchStore keeps records in one dense_vector index and ranks them
// with the kNN search API. Scores follow Elasticsearch's similarity
// normalisation, e.g. (1+cosine)/2 for the cosine metric.
type ElasticsearchStore struct {
	client    *elasticsearch.Client
	index     string
	dimension int
	timeout   time.Duration
}

var _ Store = (*ElasticsearchStore)(nil)

type esDocument struct {
	VectorID string                 `json:"vector_id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source struct {
				Metadata map[string]interface{} `json:"metadata"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// NewElasticsearchStore wraps an initialized client. The index is expected to
// exist; see es.EnsureIndex.
func NewElasticsearchStore(client *elasticsearch.Client, cfg config.VectorStoreConfig, dimension int) *ElasticsearchStore {
	return &ElasticsearchStore{
		client:    client,
		index:     cfg.IndexName,
		dimension: dimension,
		timeout:   timeoutOf(cfg),
	}
}

// Upsert indexes all records with one bulk request, using the record ID as _id.
func (s *ElasticsearchStore) Upsert(ctx context.Context, records []Record) error {
	const op = "vectorstore.ElasticsearchStore.Upsert"
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if s.dimension > 0 && len(r.Values) != s.dimension {
			return errs.Newf(errs.ErrValidation, op, "record %s has %d dims, index expects %d", r.ID, len(r.Values), s.dimension)
		}
		if err := enc.Encode(map[string]interface{}{"index": map[string]string{"_index": s.index, "_id": r.ID}}); err != nil {
			return errs.Newf(errs.ErrValidation, op, "encode action: %v", err)
		}
		if err := enc.Encode(esDocument{VectorID: r.ID, Values: r.Values, Metadata: r.Metadata}); err != nil {
			return errs.Newf(errs.ErrValidation, op, "encode document: %v", err)
		}
	}

	if err := s.bulk(ctx, op, &buf, false); err != nil {
		return err
	}
	log.Infof("[VectorStore] 批量索引到 Elasticsearch 成功, index: %s, records: %d", s.index, len(records))
	return nil
}

// Query runs a kNN search. Filter entries become term filters on metadata fields.
func (s *ElasticsearchStore) Query(ctx context.Context, vector []float32, topK int, filter map[string]interface{}) ([]Match, error) {
	const op = "vectorstore.ElasticsearchStore.Query"
	if err := validateQuery(op, vector, topK); err != nil {
		return nil, err
	}

	numCandidates := topK * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	knn := map[string]interface{}{
		"field":          "values",
		"query_vector":   vector,
		"k":              topK,
		"num_candidates": numCandidates,
	}
	if len(filter) > 0 {
		terms := make([]map[string]interface{}, 0, len(filter))
		for k, v := range filter {
			terms = append(terms, map[string]interface{}{
				"term": map[string]interface{}{"metadata." + k: v},
			})
		}
		knn["filter"] = map[string]interface{}{"bool": map[string]interface{}{"filter": terms}}
	}
	query := map[string]interface{}{
		"knn":     knn,
		"size":    topK,
		"_source": []string{"vector_id", "metadata"},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, errs.Newf(errs.ErrValidation, op, "encode query: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, errs.Store(op, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, statusError(op, http.MethodPost, s.index+"/_search", res.Status())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, errs.Store(op, fmt.Errorf("decode search response: %w", err))
	}
	matches := make([]Match, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		matches = append(matches, Match{ID: h.ID, Score: h.Score, Metadata: h.Source.Metadata})
		if len(matches) == topK {
			break
		}
	}
	return matches, nil
}

// Delete removes records with one bulk request. Missing IDs are ignored.
func (s *ElasticsearchStore) Delete(ctx context.Context, ids []string) error {
	const op = "vectorstore.ElasticsearchStore.Delete"
	if len(ids) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ids {
		if err := enc.Encode(map[string]interface{}{"delete": map[string]string{"_index": s.index, "_id": id}}); err != nil {
			return errs.Newf(errs.ErrValidation, op, "encode action: %v", err)
		}
	}
	return s.bulk(ctx, op, &buf, true)
}

// HealthCheck pings the cluster.
func (s *ElasticsearchStore) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		log.Warnf("[VectorStore] Elasticsearch ping 失败: %v", err)
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

func (s *ElasticsearchStore) bulk(ctx context.Context, op string, body *bytes.Buffer, ignoreNotFound bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := esapi.BulkRequest{
		Index:   s.index,
		Body:    body,
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return errs.Store(op, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return statusError(op, http.MethodPost, s.index+"/_bulk", res.Status())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return errs.Store(op, fmt.Errorf("decode bulk response: %w", err))
	}
	if !br.Errors {
		return nil
	}
	for _, item := range br.Items {
		for action, result := range item {
			if result.Status < 300 {
				continue
			}
			if ignoreNotFound && result.Status == http.StatusNotFound {
				continue
			}
			reason := ""
			if result.Error != nil {
				reason = result.Error.Type + ": " + result.Error.Reason
			}
			return errs.Store(op, fmt.Errorf("bulk %s %s failed with status %d %s", action, result.ID, result.Status, reason))
		}
	}
	return nil
}
