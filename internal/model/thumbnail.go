package model

// UploadResponse is the body returned by POST /api/jobs/uploads
type UploadResponse struct {
	Message string          `json:"message"`
	Jobs    []JobDescriptor `json:"jobs"`
}

// JobDescriptor is the server's view of one job in an upload response.
// Size is zero when the server does not report it.
type JobDescriptor struct {
	JobID            string    `json:"jobId"`
	OriginalFilePath string    `json:"originalFilePath"`
	OriginalFileName string    `json:"originalFileName"`
	ThumbnailURL     string    `json:"thumbnailUrl"`
	Status           JobStatus `json:"status"`
	Type             MediaKind `json:"type"`
	Size             int64     `json:"size,omitempty"`
}

// JobUpdate is the payload of a jobUpdate push event
type JobUpdate struct {
	JobID        string    `json:"jobId"`
	Status       JobStatus `json:"status"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
}
