package model

import (
	"io"
	"time"
)

// TrackedJob is the client-side record of one submitted file
type TrackedJob struct {
	LocalID      string    `json:"localId"`
	ServerJobID  string    `json:"serverJobId,omitempty"`
	FileName     string    `json:"fileName"`
	FilePath     string    `json:"filePath"`
	Size         int64     `json:"size"`
	MediaKind    MediaKind `json:"mediaKind"`
	Status       JobStatus `json:"status"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Key returns the preferred lookup key: the server job id once assigned, the local id before.
func (j TrackedJob) Key() string {
	if j.ServerJobID != "" {
		return j.ServerJobID
	}
	return j.LocalID
}

// UploadFile is one file selected for submission
type UploadFile struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error) `json:"-"`
}

// FileRejection describes a file refused before any job was created for it
type FileRejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ThumbnailJob is the server-side record of a thumbnail job
type ThumbnailJob struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	OriginalFileName string     `json:"originalFileName"`
	OriginalFilePath string     `json:"originalFilePath"`
	StorageKey       string     `json:"storageKey"`
	ContentType      string     `json:"contentType"`
	Size             int64      `json:"size"`
	Type             MediaKind  `json:"type"`
	Status           JobStatus  `json:"status"`
	ThumbnailURL     string     `json:"thumbnailUrl,omitempty"`
	ThumbnailKey     string     `json:"thumbnailKey,omitempty"`
	Error            *string    `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// Descriptor converts the record to its wire form
func (j *ThumbnailJob) Descriptor() JobDescriptor {
	return JobDescriptor{
		JobID:            j.ID,
		OriginalFilePath: j.OriginalFilePath,
		OriginalFileName: j.OriginalFileName,
		ThumbnailURL:     j.ThumbnailURL,
		Status:           j.Status,
		Type:             j.Type,
		Size:             j.Size,
	}
}

// ThumbnailJobPayload is the queued task body
type ThumbnailJobPayload struct {
	JobID string `json:"jobId"`
}
