package model

import "time"

// SourceFile 定义了 source_files 表的 ORM 模型。
// 它记录通过上传接口入库的原始文件在 MinIO 中的位置。
type SourceFile struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"documentId"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	ObjectName string    `gorm:"type:varchar(255);not null" json:"objectName"`
	TotalSize  int64     `gorm:"not null" json:"totalSize"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SourceFile) TableName() string {
	return "source_files"
}
