package model

import "time"

// VectorRef 对应于数据库中的 vector_refs 表。
// 只保存向量库中记录的标识和加密载荷的摘要，不保存分块原文或向量。
type VectorRef struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID    string    `gorm:"type:varchar(128);not null;index;column:document_id" json:"documentId"`
	VectorID      string    `gorm:"type:varchar(160);not null;uniqueIndex;column:vector_id" json:"vectorId"`
	ChunkIndex    int       `gorm:"not null;column:chunk_index" json:"chunkIndex"`
	PayloadDigest string    `gorm:"type:char(64);column:payload_digest" json:"payloadDigest"`
	Model         string    `gorm:"type:varchar(100);column:model" json:"model"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (VectorRef) TableName() string {
	return "vector_refs"
}
