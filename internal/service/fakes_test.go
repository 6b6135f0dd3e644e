package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"secure-rag-go/internal/config"
	"secure-rag-go/internal/model"
	"secure-rag-go/pkg/cipher"
	"secure-rag-go/pkg/embedding"
	"secure-rag-go/pkg/vectorstore"

	"github.com/stretchr/testify/require"
)

const testKey = "0000000000000000000000000000000000000000000000000000000000000000"

// stubProvider returns a deterministic vector derived from the text.
type stubProvider struct {
	dim    int
	failOn string
	badDim bool

	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Embed(ctx context.Context, text string) (*embedding.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.failOn != "" && strings.Contains(text, p.failOn) {
		return nil, errors.New("upstream 500")
	}
	n := p.dim
	if p.badDim {
		n++
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(len(text)+i) / 100
	}
	return &embedding.Embedding{Values: v, Model: "stub-embed"}, nil
}

func (p *stubProvider) Dimension() int { return p.dim }
func (p *stubProvider) Model() string  { return "stub-embed" }
func (p *stubProvider) Name() string   { return "stub" }

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// memStore keeps records in memory. When matches is set, Query returns it
// verbatim; otherwise it returns every stored record with score 1.
type memStore struct {
	mu        sync.Mutex
	records   map[string]vectorstore.Record
	order     []string
	matches   []vectorstore.Match
	upserts   int
	lastTopK  int
	deleted   []string
	queryErr  error
	upsertErr error
	healthy   bool
}

func newMemStore() *memStore {
	return &memStore{records: map[string]vectorstore.Record{}, healthy: true}
}

func (s *memStore) Upsert(_ context.Context, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, r := range records {
		if _, ok := s.records[r.ID]; !ok {
			s.order = append(s.order, r.ID)
		}
		s.records[r.ID] = r
	}
	return nil
}

func (s *memStore) Query(_ context.Context, _ []float32, topK int, _ map[string]interface{}) ([]vectorstore.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTopK = topK
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if s.matches != nil {
		return s.matches, nil
	}
	var out []vectorstore.Match
	for _, id := range s.order {
		r, ok := s.records[id]
		if !ok {
			continue
		}
		out = append(out, vectorstore.Match{ID: id, Score: 1, Metadata: r.Metadata})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.records, id)
	}
	s.deleted = append(s.deleted, ids...)
	return nil
}

func (s *memStore) HealthCheck(context.Context) bool { return s.healthy }

// recordingAuditor captures audit events.
type recordingAuditor struct {
	mu         sync.Mutex
	retrievals [][]model.RetrievalResult
	tampered   []string
}

func (a *recordingAuditor) RecordRetrieval(_ context.Context, _ string, results []model.RetrievalResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retrievals = append(a.retrievals, results)
}

func (a *recordingAuditor) RecordTamper(_ context.Context, vectorID string, _ error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tampered = append(a.tampered, vectorID)
}

func testCipher(t *testing.T) *cipher.Cipher {
	t.Helper()
	c, err := cipher.New(config.EncryptionConfig{KeyHex: testKey})
	require.NoError(t, err)
	return c
}

type fixture struct {
	svc      RetrievalService
	provider *stubProvider
	store    *memStore
	cipher   *cipher.Cipher
	auditor  *recordingAuditor
}

func newFixture(t *testing.T, encryptText bool) *fixture {
	t.Helper()
	f := &fixture{
		provider: &stubProvider{dim: 3},
		store:    newMemStore(),
		cipher:   testCipher(t),
		auditor:  &recordingAuditor{},
	}
	f.svc = NewRetrievalService(
		config.RetrievalConfig{ChunkSize: 20, ChunkOverlap: 5, MaxContextChunks: 4, SimilarityThreshold: 0.7},
		config.EmbeddingConfig{MaxConcurrent: 2},
		config.EncryptionConfig{KeyHex: testKey, EncryptText: encryptText},
		f.provider, f.cipher, f.store, f.auditor,
	)
	return f
}

// sealedMatch builds a match whose metadata carries valid payloads.
func (f *fixture) sealedMatch(t *testing.T, id string, score float64, text string) vectorstore.Match {
	t.Helper()
	encVector, err := f.cipher.EncryptVector([]float32{0.1, -0.2, 0.3})
	require.NoError(t, err)
	encText, err := f.cipher.EncryptText(text)
	require.NoError(t, err)
	return vectorstore.Match{ID: id, Score: score, Metadata: map[string]interface{}{
		model.MetaDocumentID:      "doc-1",
		model.MetaEncryptedVector: encVector,
		model.MetaEncryptedText:   encText,
	}}
}
