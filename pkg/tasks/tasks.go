// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask represents a document waiting to be extracted, embedded and indexed.
// The content is either inline (in-process dispatch) or an object in MinIO.
type IngestTask struct {
	DocumentID  string                 `json:"document_id"`
	ObjectName  string                 `json:"object_name,omitempty"`
	FileName    string                 `json:"file_name,omitempty"`
	ContentType string                 `json:"content_type,omitempty"`
	Content     string                 `json:"-"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}
