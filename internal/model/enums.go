package model

import "strings"

// Job status
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusUploading  JobStatus = "uploading"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// statusRank orders statuses along pending -> uploading -> queued -> processing -> {completed | failed}.
var statusRank = map[JobStatus]int{
	JobStatusPending:    0,
	JobStatusUploading:  1,
	JobStatusQueued:     2,
	JobStatusProcessing: 3,
	JobStatusCompleted:  4,
	JobStatusFailed:     4,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank returns the lifecycle position of s, or -1 for unknown statuses.
func (s JobStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Advances reports whether moving from "from" to s is a strict step forward.
func (s JobStatus) Advances(from JobStatus) bool {
	if !s.Valid() || from.IsTerminal() {
		return false
	}
	return s.Rank() > from.Rank()
}

// Media kinds
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// Valid reports whether k is image or video.
func (k MediaKind) Valid() bool {
	return k == MediaKindImage || k == MediaKindVideo
}

// KindFromContentType maps image/* and video/* content types to a MediaKind.
func KindFromContentType(contentType string) (MediaKind, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return MediaKindImage, true
	case strings.HasPrefix(ct, "video/"):
		return MediaKindVideo, true
	}
	return "", false
}
