// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask represents the data structure for a document ingestion job.
type IngestTask struct {
	DocumentID string `json:"document_id"`
	StorageKey string `json:"storage_key"`
	FileName   string `json:"file_name"`
	UserID     string `json:"user_id"`
}
