// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"

	"secure-rag-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VectorRefRepository 定义了对 vector_refs 表的数据操作接口。
type VectorRefRepository interface {
	ReplaceForDocument(ctx context.Context, documentID string, refs []*model.VectorRef) error
	FindByDocumentID(ctx context.Context, documentID string) ([]*model.VectorRef, error)
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

type vectorRefRepository struct {
	db *gorm.DB
}

// NewVectorRefRepository 创建一个新的 VectorRefRepository 实例。
func NewVectorRefRepository(db *gorm.DB) VectorRefRepository {
	return &vectorRefRepository{db: db}
}

// ReplaceForDocument 在一个事务里删除文档的旧记录并写入新记录（幂等重入库）。
func (r *vectorRefRepository) ReplaceForDocument(ctx context.Context, documentID string, refs []*model.VectorRef) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.VectorRef{}).Error; err != nil {
			return err
		}
		if len(refs) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(refs, 100).Error // 每100条记录一批
	})
}

// FindByDocumentID 按 chunk_index 顺序返回文档的所有记录。
func (r *vectorRefRepository) FindByDocumentID(ctx context.Context, documentID string) ([]*model.VectorRef, error) {
	var refs []*model.VectorRef
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Order("chunk_index").Find(&refs).Error
	return refs, err
}

// DeleteByDocumentID 删除文档的所有记录。
func (r *vectorRefRepository) DeleteByDocumentID(ctx context.Context, documentID string) error {
	return r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.VectorRef{}).Error
}
