package model

const DocumentStatusActive = "ACTIVE"

type DocumentMetadata struct {
	S3Key            string `json:"s3Key"`
	S3Bucket         string `json:"s3Bucket"`
	ETag             string `json:"etag,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`
}

// DocumentDescriptor is synthesized from an object in the data source bucket.
// The object key is the document id.
type DocumentDescriptor struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Status    string           `json:"status"`
	CreatedAt string           `json:"createdAt"`
	UpdatedAt string           `json:"updatedAt"`
	Size      int64            `json:"size"`
	Type      string           `json:"type"`
	Metadata  DocumentMetadata `json:"metadata"`
}

type BatchDeleteError struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type BatchDeleteResult struct {
	Requested int                `json:"requested"`
	Deleted   int                `json:"deleted"`
	Failed    int                `json:"failed"`
	Errors    []BatchDeleteError `json:"errors"`
}

type RenameResult struct {
	OldID   string `json:"old_id"`
	NewID   string `json:"new_id"`
	NewName string `json:"new_name"`
}

type DeleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// DataSource is the object storage location behind a knowledge base data source.
type DataSource struct {
	Bucket   string
	Prefixes []string
}
