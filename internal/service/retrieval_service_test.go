package service

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"secure-rag-go/internal/model"
	"secure-rag-go/pkg/errs"
	"secure-rag-go/pkg/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestDocument_RecordsAndIDs(t *testing.T) {
	f := newFixture(t, true)
	doc := model.Document{
		ID:       "doc-1",
		Content:  "Patient has fever. Patient has cough.",
		Metadata: map[string]interface{}{"department": "cardiology"},
	}

	ids, err := f.svc.IngestDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1_chunk_0", "doc-1_chunk_1"}, ids)
	assert.Equal(t, 1, f.store.upserts, "all records go in one upsert")

	for i, id := range ids {
		r := f.store.records[id]
		assert.Len(t, r.Values, 3)
		assert.Equal(t, "doc-1", r.Metadata[model.MetaDocumentID])
		assert.Equal(t, i, r.Metadata[model.MetaChunkIndex])
		assert.Equal(t, "cardiology", r.Metadata["department"])
		assert.Equal(t, "stub-embed", r.Metadata[model.MetaModel])
		assert.NotContains(t, r.Metadata, model.MetaText)

		vec, err := f.cipher.DecryptVector(r.Metadata[model.MetaEncryptedVector].(string))
		require.NoError(t, err)
		assert.Equal(t, r.Values, vec)
	}

	text, err := f.cipher.DecryptText(f.store.records["doc-1_chunk_0"].Metadata[model.MetaEncryptedText].(string))
	require.NoError(t, err)
	assert.Equal(t, "Patient has fever.", text)
}

func TestIngest_ReportDigests(t *testing.T) {
	f := newFixture(t, true)
	report, err := f.svc.Ingest(context.Background(), model.Document{ID: "d", Content: "One. Two."})
	require.NoError(t, err)
	assert.Equal(t, "stub-embed", report.Model)
	require.Len(t, report.Chunks, 1)
	assert.Len(t, report.Chunks[0].PayloadDigest, 64)
	assert.Equal(t, []string{"d_chunk_0"}, report.IDs())
}

func TestIngestDocument_PlainTextMode(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.IngestDocument(context.Background(), model.Document{ID: "d", Content: "Short note."})
	require.NoError(t, err)
	meta := f.store.records["d_chunk_0"].Metadata
	assert.Equal(t, "Short note.", meta[model.MetaText])
	assert.NotContains(t, meta, model.MetaEncryptedText)
}

func TestIngestDocument_ValidationBeforeAnyCall(t *testing.T) {
	f := newFixture(t, true)
	for _, doc := range []model.Document{{ID: "d", Content: "  "}, {Content: "text."}} {
		_, err := f.svc.IngestDocument(context.Background(), doc)
		assert.True(t, errors.Is(err, errs.ErrValidation))
	}
	assert.Zero(t, f.provider.callCount())
	assert.Zero(t, f.store.upserts)
}

func TestIngestDocument_EmbeddingFailureStoresNothing(t *testing.T) {
	f := newFixture(t, true)
	f.provider.failOn = "cough"

	ids, err := f.svc.IngestDocument(context.Background(), model.Document{ID: "d", Content: "Patient has fever. Patient has cough."})
	require.Error(t, err)
	assert.Nil(t, ids)
	assert.True(t, errors.Is(err, errs.ErrProvider))
	assert.Zero(t, f.store.upserts)
}

func TestIngestDocument_DimensionMismatchStoresNothing(t *testing.T) {
	f := newFixture(t, true)
	f.provider.badDim = true

	_, err := f.svc.IngestDocument(context.Background(), model.Document{ID: "d", Content: "A sentence."})
	assert.True(t, errors.Is(err, errs.ErrValidation))
	assert.False(t, errors.Is(err, errs.ErrProvider))
	assert.Zero(t, f.store.upserts)
}

func TestRetrieve_QueryDimensionMismatchIsValidation(t *testing.T) {
	f := newFixture(t, true)
	f.provider.badDim = true

	results, err := f.svc.Retrieve(context.Background(), "q", 3)
	assert.Nil(t, results)
	assert.True(t, errors.Is(err, errs.ErrValidation))
	assert.Zero(t, f.store.lastTopK, "store must not be queried")
}

func TestIngestDocument_StoreFailure(t *testing.T) {
	f := newFixture(t, true)
	f.store.upsertErr = errs.Store("test", errors.New("503"))

	ids, err := f.svc.IngestDocument(context.Background(), model.Document{ID: "d", Content: "A sentence."})
	assert.Nil(t, ids)
	assert.True(t, errors.Is(err, errs.ErrStore))
}

func TestRetrieve_ThresholdScenario(t *testing.T) {
	f := newFixture(t, true)
	f.store.matches = []vectorstore.Match{
		f.sealedMatch(t, "a", 0.9, "first"),
		f.sealedMatch(t, "b", 0.75, "second"),
		f.sealedMatch(t, "c", 0.5, "third"),
	}

	results, err := f.svc.Retrieve(context.Background(), "fever?", 3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "first", results[0].Content)
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)
	assert.Equal(t, "b", results[1].ID)
	assert.InDelta(t, 0.75, results[1].Score, 1e-9)

	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.7)
		assert.Equal(t, "doc-1", r.Metadata[model.MetaDocumentID])
		assert.NotContains(t, r.Metadata, model.MetaEncryptedVector)
		assert.NotContains(t, r.Metadata, model.MetaEncryptedText)
		assert.NotContains(t, r.Metadata, model.MetaText)
	}
	require.Len(t, f.auditor.retrievals, 1)
	assert.Len(t, f.auditor.retrievals[0], 2)
}

func TestRetrieve_PreservesStoreOrder(t *testing.T) {
	f := newFixture(t, true)
	f.store.matches = []vectorstore.Match{
		f.sealedMatch(t, "low-first", 0.71, "x"),
		f.sealedMatch(t, "high-second", 0.99, "y"),
	}
	results, err := f.svc.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "low-first", results[0].ID)
}

func TestRetrieve_TamperedRecordIsSkippedAndReported(t *testing.T) {
	f := newFixture(t, true)
	good := f.sealedMatch(t, "good", 0.9, "kept")
	bad := f.sealedMatch(t, "bad", 0.95, "dropped")

	raw, err := base64.StdEncoding.DecodeString(bad.Metadata[model.MetaEncryptedVector].(string))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	bad.Metadata[model.MetaEncryptedVector] = base64.StdEncoding.EncodeToString(raw)

	missing := f.sealedMatch(t, "missing", 0.8, "no payload")
	delete(missing.Metadata, model.MetaEncryptedVector)

	f.store.matches = []vectorstore.Match{bad, good, missing}
	results, err := f.svc.Retrieve(context.Background(), "q", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].ID)
	assert.Equal(t, []string{"bad", "missing"}, f.auditor.tampered)
}

func TestRetrieve_DefaultTopK(t *testing.T) {
	f := newFixture(t, true)
	f.store.matches = []vectorstore.Match{}
	_, err := f.svc.Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, f.store.lastTopK)
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.Retrieve(context.Background(), " \n", 3)
	assert.True(t, errors.Is(err, errs.ErrValidation))
	assert.Zero(t, f.provider.callCount())
}

func TestRetrieve_StoreFailureIsNotEmptyResult(t *testing.T) {
	f := newFixture(t, true)
	f.store.queryErr = errs.Store("test", context.DeadlineExceeded)

	results, err := f.svc.Retrieve(context.Background(), "q", 3)
	assert.Nil(t, results)
	assert.True(t, errors.Is(err, errs.ErrStore))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRetrieve_ProviderFailure(t *testing.T) {
	f := newFixture(t, true)
	f.provider.failOn = "q"
	_, err := f.svc.Retrieve(context.Background(), "q", 3)
	assert.True(t, errors.Is(err, errs.ErrProvider))
}

func TestRetrieve_CancelledContext(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Retrieve(ctx, "q", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIngestThenRetrieve_RoundTrip(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.IngestDocument(context.Background(), model.Document{ID: "doc-9", Content: "Patient has fever. Patient has cough."})
	require.NoError(t, err)

	results, err := f.svc.Retrieve(context.Background(), "symptoms", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Patient has fever.", results[0].Content)
	assert.Contains(t, results[1].Content, "Patient has cough.")
}

func TestAssembleContext(t *testing.T) {
	f := newFixture(t, true)
	assert.Equal(t, NoRelevantContext, f.svc.AssembleContext(nil))
	assert.Equal(t, "[1] alpha\n\n[2] beta", f.svc.AssembleContext([]model.RetrievalResult{
		{ID: "x", Content: "alpha", Score: 0.9},
		{ID: "y", Content: "beta", Score: 0.8},
	}))
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.svc.DeleteDocument(context.Background(), nil))
	assert.Empty(t, f.store.deleted)

	require.NoError(t, f.svc.DeleteDocument(context.Background(), []string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, f.store.deleted)
}

func TestHealthy(t *testing.T) {
	f := newFixture(t, true)
	assert.True(t, f.svc.Healthy(context.Background()))
	f.store.healthy = false
	assert.False(t, f.svc.Healthy(context.Background()))
}
