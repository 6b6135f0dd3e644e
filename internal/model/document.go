// Package model 定义了检索管道的数据结构以及与数据库表对应的 Go 结构体。
package model

import "fmt"

// Metadata 中由检索管道自身写入的键。
const (
	MetaDocumentID      = "document_id"
	MetaChunkIndex      = "chunk_index"
	MetaText            = "text"
	MetaEncryptedText   = "encrypted_text"
	MetaEncryptedVector = "encrypted_vector"
	MetaModel           = "model"
)

// Document 是入库的输入。
type Document struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TextChunk 是分块器的输出，Index 从 0 开始并在文档内连续。
type TextChunk struct {
	Index    int
	Text     string
	Metadata map[string]interface{}
}

// RetrievalResult 是通过阈值和完整性校验后的检索结果。
// Metadata 中不包含分块原文和任何加密载荷。
type RetrievalResult struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ChunkID 返回分块在向量库中的记录 ID。
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// CopyMetadata 返回 m 的浅拷贝，nil 返回空 map。
func CopyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
