// Package audit 记录检索与完整性事件。
// 审计事件中只包含查询指纹、记录 ID 和分数，不包含查询原文、分块文本或任何向量。
package audit

import (
	"context"

	"secure-rag-go/internal/model"
	"secure-rag-go/pkg/cipher"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventRetrieval = "retrieval"
	EventTamper    = "tamper"
)

// Recorder 是审计协作方。实现不得阻塞调用方，也不得返回错误。
type Recorder interface {
	RecordRetrieval(ctx context.Context, query string, results []model.RetrievalResult)
	RecordTamper(ctx context.Context, vectorID string, cause error)
}

// ZapRecorder 将审计事件写入一个独立命名的 zap logger。
type ZapRecorder struct {
	logger *zap.Logger
}

// NewZapRecorder 使用 base 派生出名为 "audit" 的 logger。
func NewZapRecorder(base *zap.Logger) *ZapRecorder {
	return &ZapRecorder{logger: base.Named("audit")}
}

func (r *ZapRecorder) RecordRetrieval(_ context.Context, query string, results []model.RetrievalResult) {
	ids := make([]string, len(results))
	scores := make([]float64, len(results))
	for i, res := range results {
		ids[i] = res.ID
		scores[i] = res.Score
	}
	r.logger.Info("retrieval",
		zap.String("event_id", uuid.NewString()),
		zap.String("event", EventRetrieval),
		zap.String("query_sha256", cipher.Hash([]byte(query))),
		zap.Strings("result_ids", ids),
		zap.Float64s("scores", scores),
		zap.Int("count", len(results)),
	)
}

func (r *ZapRecorder) RecordTamper(_ context.Context, vectorID string, cause error) {
	r.logger.Warn("integrity check failed",
		zap.String("event_id", uuid.NewString()),
		zap.String("event", EventTamper),
		zap.String("vector_id", vectorID),
		zap.Error(cause),
	)
}

type nopRecorder struct{}

// Nop 返回一个丢弃所有事件的 Recorder。
func Nop() Recorder { return nopRecorder{} }

func (nopRecorder) RecordRetrieval(context.Context, string, []model.RetrievalResult) {}
func (nopRecorder) RecordTamper(context.Context, string, error)                      {}
