package repository

import (
	"context"
	"errors"

	"secure-rag-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SourceFileRepository 记录上传文件在对象存储中的位置。
type SourceFileRepository interface {
	Save(ctx context.Context, record *model.SourceFile) error
	FindByDocumentID(ctx context.Context, documentID string) (*model.SourceFile, error)
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

type sourceFileRepository struct {
	db *gorm.DB
}

// NewSourceFileRepository 创建一个新的 SourceFileRepository 实例。
func NewSourceFileRepository(db *gorm.DB) SourceFileRepository {
	return &sourceFileRepository{db: db}
}

// Save 创建记录，document_id 已存在时覆盖。
func (r *sourceFileRepository) Save(ctx context.Context, record *model.SourceFile) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_name", "object_name", "total_size"}),
	}).Create(record).Error
}

// FindByDocumentID 未找到时返回 (nil, nil)。
func (r *sourceFileRepository) FindByDocumentID(ctx context.Context, documentID string) (*model.SourceFile, error) {
	var record model.SourceFile
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *sourceFileRepository) DeleteByDocumentID(ctx context.Context, documentID string) error {
	return r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.SourceFile{}).Error
}
