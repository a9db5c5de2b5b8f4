package models

// AssetReference is the back-filled link between a stored blob and the record it belongs to.
type AssetReference struct {
	ID          string   `json:"_id,omitempty"`
	RecordID    string   `json:"recordId"`
	RecordKind  string   `json:"recordKind"`
	AssetID     string   `json:"assetId"`
	Category    Category `json:"category"`
	URL         string   `json:"url"`
	BlobKey     string   `json:"blobKey"`
	Description string   `json:"description,omitempty"`
	ContentType string   `json:"contentType"`
	Size        int64    `json:"size"`
	Checksum    string   `json:"checksum,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

// DocumentJob is a queued request for the rendering service.
type DocumentJob struct {
	ID         string `json:"_id,omitempty"`
	JobID      string `json:"jobId"`
	RecordID   string `json:"recordId"`
	RecordKind string `json:"recordKind"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
}

const (
	RecordKindCompletion = "completion"
	RecordKindWorkOrder  = "work_order"

	DocumentJobPending = "pending"
)
