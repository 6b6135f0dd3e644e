// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"

	"secure-rag-go/internal/audit"
	"secure-rag-go/internal/config"
	"secure-rag-go/internal/model"
	"secure-rag-go/internal/pipeline"
	"secure-rag-go/pkg/cipher"
	"secure-rag-go/pkg/embedding"
	"secure-rag-go/pkg/errs"
	"secure-rag-go/pkg/log"
	"secure-rag-go/pkg/vectorstore"
)

// NoRelevantContext 是检索结果为空时交给生成方的固定上下文。
const NoRelevantContext = "No relevant context found."

// IngestedChunk 描述一个已写入向量库的分块。
type IngestedChunk struct {
	VectorID   string
	ChunkIndex int
	// PayloadDigest 是加密向量载荷的 SHA-256。
	PayloadDigest string
}

// IngestReport 是一次入库的结果，供调用方持久化引用。
type IngestReport struct {
	DocumentID string
	Model      string
	Chunks     []IngestedChunk
}

// IDs 按分块顺序返回记录 ID。
func (r *IngestReport) IDs() []string {
	ids := make([]string, len(r.Chunks))
	for i, c := range r.Chunks {
		ids[i] = c.VectorID
	}
	return ids
}

// RetrievalService 编排分块、向量化、加密与向量库读写。
type RetrievalService interface {
	// IngestDocument 入库一个文档并返回记录 ID。任一步失败都不会写入任何记录。
	IngestDocument(ctx context.Context, doc model.Document) ([]string, error)
	// Ingest 与 IngestDocument 相同，但返回完整的入库报告。
	Ingest(ctx context.Context, doc model.Document) (*IngestReport, error)
	// Retrieve 返回分数不低于阈值且通过完整性校验的结果，保持向量库给出的顺序。
	// topK <= 0 时使用 max_context_chunks。
	Retrieve(ctx context.Context, query string, topK int) ([]model.RetrievalResult, error)
	AssembleContext(results []model.RetrievalResult) string
	DeleteDocument(ctx context.Context, ids []string) error
	Healthy(ctx context.Context) bool
}

type retrievalService struct {
	segmenter     *pipeline.Segmenter
	provider      embedding.Provider
	cipher        *cipher.Cipher
	store         vectorstore.Store
	auditor       audit.Recorder
	cfg           config.RetrievalConfig
	maxConcurrent int
	encryptText   bool
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(
	cfg config.RetrievalConfig,
	embeddingCfg config.EmbeddingConfig,
	encryptionCfg config.EncryptionConfig,
	provider embedding.Provider,
	vectorCipher *cipher.Cipher,
	store vectorstore.Store,
	auditor audit.Recorder,
) RetrievalService {
	if auditor == nil {
		auditor = audit.Nop()
	}
	return &retrievalService{
		segmenter:     pipeline.NewSegmenter(cfg.ChunkSize, cfg.ChunkOverlap),
		provider:      provider,
		cipher:        vectorCipher,
		store:         store,
		auditor:       auditor,
		cfg:           cfg,
		maxConcurrent: embeddingCfg.MaxConcurrent,
		encryptText:   encryptionCfg.EncryptText,
	}
}

func (s *retrievalService) IngestDocument(ctx context.Context, doc model.Document) ([]string, error) {
	report, err := s.Ingest(ctx, doc)
	if err != nil {
		return nil, err
	}
	return report.IDs(), nil
}

func (s *retrievalService) Ingest(ctx context.Context, doc model.Document) (*IngestReport, error) {
	const op = "service.RetrievalService.Ingest"
	if doc.ID == "" {
		return nil, errs.Newf(errs.ErrValidation, op, "document id is required")
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, errs.Newf(errs.ErrValidation, op, "document %s has empty content", doc.ID)
	}

	// 1. 分块
	chunks := s.segmenter.Segment(doc.Content, doc.Metadata)
	log.Infof("[RetrievalService] 文本分块完成, documentId: %s, chunks: %d", doc.ID, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	// 2. 批量向量化
	embeddings, err := embedding.EmbedBatch(ctx, s.provider, texts, s.maxConcurrent)
	if err != nil {
		log.Errorf("[RetrievalService] 向量化失败, documentId: %s, error: %v", doc.ID, err)
		return nil, err
	}

	// 3. 加密并构造记录
	report := &IngestReport{DocumentID: doc.ID, Model: s.provider.Model(), Chunks: make([]IngestedChunk, 0, len(chunks))}
	records := make([]vectorstore.Record, 0, len(chunks))
	for i, c := range chunks {
		e := embeddings[i]
		if err := s.checkDimension(op, e); err != nil {
			return nil, err
		}
		encVector, err := s.cipher.EncryptVector(e.Values)
		if err != nil {
			return nil, err
		}

		meta := model.CopyMetadata(c.Metadata)
		meta[model.MetaDocumentID] = doc.ID
		meta[model.MetaChunkIndex] = c.Index
		meta[model.MetaModel] = modelName(e, s.provider)
		meta[model.MetaEncryptedVector] = encVector
		if s.encryptText {
			encText, err := s.cipher.EncryptText(c.Text)
			if err != nil {
				return nil, err
			}
			delete(meta, model.MetaText)
			meta[model.MetaEncryptedText] = encText
		} else {
			delete(meta, model.MetaEncryptedText)
			meta[model.MetaText] = c.Text
		}

		id := model.ChunkID(doc.ID, c.Index)
		records = append(records, vectorstore.Record{ID: id, Values: e.Values, Metadata: meta})
		report.Chunks = append(report.Chunks, IngestedChunk{
			VectorID:      id,
			ChunkIndex:    c.Index,
			PayloadDigest: cipher.Hash([]byte(encVector)),
		})
	}

	// 4. 一次性写入
	if err := s.store.Upsert(ctx, records); err != nil {
		log.Errorf("[RetrievalService] 写入向量库失败, documentId: %s, error: %v", doc.ID, err)
		return nil, err
	}
	log.Infof("[RetrievalService] 文档入库成功, documentId: %s, records: %d", doc.ID, len(records))
	return report, nil
}

func (s *retrievalService) Retrieve(ctx context.Context, query string, topK int) ([]model.RetrievalResult, error) {
	const op = "service.RetrievalService.Retrieve"
	if strings.TrimSpace(query) == "" {
		return nil, errs.Newf(errs.ErrValidation, op, "query is empty")
	}
	if topK <= 0 {
		topK = s.cfg.MaxContextChunks
	}

	e, err := s.provider.Embed(ctx, query)
	if err != nil {
		if errs.KindOf(err) == nil {
			err = errs.Provider(op, err)
		}
		return nil, err
	}
	if err := s.checkDimension(op, e); err != nil {
		return nil, err
	}

	matches, err := s.store.Query(ctx, e.Values, topK, nil)
	if err != nil {
		log.Errorf("[RetrievalService] 向量检索失败: %v", err)
		return nil, err
	}

	results := make([]model.RetrievalResult, 0, len(matches))
	for _, m := range matches {
		if m.Score < s.cfg.SimilarityThreshold {
			continue
		}
		r, err := s.open(m)
		if err != nil {
			log.Errorw("[RetrievalService] 记录完整性校验失败, 已跳过", "vectorId", m.ID, "error", err)
			s.auditor.RecordTamper(ctx, m.ID, err)
			continue
		}
		results = append(results, r)
	}
	log.Infof("[RetrievalService] 检索完成, matches: %d, results: %d, threshold: %.2f", len(matches), len(results), s.cfg.SimilarityThreshold)
	s.auditor.RecordRetrieval(ctx, query, results)
	return results, nil
}

// open 校验并解密一条命中记录。解密出的向量只用于校验，随后即被丢弃。
func (s *retrievalService) open(m vectorstore.Match) (model.RetrievalResult, error) {
	const op = "service.RetrievalService.open"
	encVector, ok := m.Metadata[model.MetaEncryptedVector].(string)
	if !ok || encVector == "" {
		return model.RetrievalResult{}, errs.Newf(errs.ErrIntegrity, op, "record %s has no encrypted vector", m.ID)
	}
	vec, err := s.cipher.DecryptVector(encVector)
	if err != nil {
		return model.RetrievalResult{}, err
	}
	if len(vec) != s.provider.Dimension() {
		return model.RetrievalResult{}, errs.Newf(errs.ErrIntegrity, op, "record %s decrypts to %d dims, want %d", m.ID, len(vec), s.provider.Dimension())
	}

	var content string
	if encText, ok := m.Metadata[model.MetaEncryptedText].(string); ok {
		if content, err = s.cipher.DecryptText(encText); err != nil {
			return model.RetrievalResult{}, err
		}
	} else {
		content, _ = m.Metadata[model.MetaText].(string)
	}

	return model.RetrievalResult{
		ID:       m.ID,
		Content:  content,
		Score:    m.Score,
		Metadata: sanitize(m.Metadata),
	}, nil
}

func (s *retrievalService) AssembleContext(results []model.RetrievalResult) string {
	if len(results) == 0 {
		return NoRelevantContext
	}
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s", i+1, r.Content)
	}
	return sb.String()
}

func (s *retrievalService) DeleteDocument(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.store.Delete(ctx, ids); err != nil {
		return err
	}
	log.Infof("[RetrievalService] 已删除向量记录: %d", len(ids))
	return nil
}

func (s *retrievalService) Healthy(ctx context.Context) bool {
	return s.store.HealthCheck(ctx)
}

func (s *retrievalService) checkDimension(op string, e *embedding.Embedding) error {
	if e == nil || len(e.Values) != s.provider.Dimension() {
		got := 0
		if e != nil {
			got = len(e.Values)
		}
		return errs.Newf(errs.ErrValidation, op, "embedding has %d dims, want %d", got, s.provider.Dimension())
	}
	return nil
}

func modelName(e *embedding.Embedding, p embedding.Provider) string {
	if e.Model != "" {
		return e.Model
	}
	return p.Model()
}

// sanitize 去掉分块原文和所有加密载荷字段。
func sanitize(meta map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		switch k {
		case model.MetaText, model.MetaEncryptedText, model.MetaEncryptedVector:
			continue
		}
		out[k] = v
	}
	return out
}
