package model

// CreateDocumentRequest 是 POST /api/v1/documents 的请求体。
type CreateDocumentRequest struct {
	ID       string                 `json:"id" binding:"required"`
	Content  string                 `json:"content" binding:"required"`
	Metadata map[string]interface{} `json:"metadata"`
}

// IngestStatus 文档入库状态。
type IngestStatus string

const (
	StatusPending IngestStatus = "pending"
	StatusIndexed IngestStatus = "indexed"
	StatusFailed  IngestStatus = "failed"
)

// DocumentStatusResponse 是 GET /api/v1/documents/:id/status 的响应。
type DocumentStatusResponse struct {
	DocumentID string       `json:"documentId"`
	Status     IngestStatus `json:"status"`
}

// SearchResponse 是 GET /api/v1/search 的响应。
type SearchResponse struct {
	Query   string            `json:"query"`
	Results []RetrievalResult `json:"results"`
}
