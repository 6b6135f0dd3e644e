package repository

import (
	"context"
	"errors"
	"time"

	"secure-rag-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// statusTTL 入库状态在 Redis 中的保留时间。
const statusTTL = 7 * 24 * time.Hour

// IngestStatusRepository 在 Redis 中保存文档的入库状态。
type IngestStatusRepository interface {
	Set(ctx context.Context, documentID string, status model.IngestStatus) error
	Get(ctx context.Context, documentID string) (model.IngestStatus, bool, error)
	Delete(ctx context.Context, documentID string) error
}

type ingestStatusRepository struct {
	redisClient *redis.Client
}

// NewIngestStatusRepository 创建一个新的 IngestStatusRepository 实例。
func NewIngestStatusRepository(redisClient *redis.Client) IngestStatusRepository {
	return &ingestStatusRepository{redisClient: redisClient}
}

func (r *ingestStatusRepository) key(documentID string) string {
	return "ingest:status:" + documentID
}

func (r *ingestStatusRepository) Set(ctx context.Context, documentID string, status model.IngestStatus) error {
	return r.redisClient.Set(ctx, r.key(documentID), string(status), statusTTL).Err()
}

// Get 返回状态以及是否存在。
func (r *ingestStatusRepository) Get(ctx context.Context, documentID string) (model.IngestStatus, bool, error) {
	val, err := r.redisClient.Get(ctx, r.key(documentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return model.IngestStatus(val), true, nil
}

func (r *ingestStatusRepository) Delete(ctx context.Context, documentID string) error {
	return r.redisClient.Del(ctx, r.key(documentID)).Err()
}
