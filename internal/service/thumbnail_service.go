package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/thumbgen/tracker/internal/client"
	"github.com/thumbgen/tracker/internal/model"
)

const (
	TaskTypeThumbnail = "thumbnail:generate"
	QueueThumbnails   = "thumbnails"
)

// TaskEnqueuer queues background tasks; *asynq.Client satisfies it
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier pushes job status changes to subscribed clients
type Notifier interface {
	BroadcastJobUpdate(update model.JobUpdate)
}

// ThumbnailService manages thumbnail job records
type ThumbnailService struct {
	jobs     JobStore
	storage  client.StorageClient
	queue    TaskEnqueuer
	notifier Notifier
	log      zerolog.Logger
}

func NewThumbnailService(jobs JobStore, storage client.StorageClient, queue TaskEnqueuer, notifier Notifier, logger zerolog.Logger) *ThumbnailService {
	return &ThumbnailService{
		jobs:     jobs,
		storage:  storage,
		queue:    queue,
		notifier: notifier,
		log:      logger.With().Str("component", "thumbnail_service").Logger(),
	}
}

// CreateJobs stores every file, records a queued job for it and enqueues its
// task. A batch either succeeds as a whole or leaves no job to process: on
// failure the stored originals are removed and records already written are
// marked failed, so the worker skips tasks that did get queued.
func (s *ThumbnailService) CreateJobs(ctx context.Context, userID string, files []model.UploadFile) (*model.UploadResponse, error) {
	jobs := make([]*model.ThumbnailJob, 0, len(files))
	saved := 0

	abort := func(err error) (*model.UploadResponse, error) {
		s.discard(context.WithoutCancel(ctx), jobs[:saved], jobs)
		s.log.Error().Err(err).Int("files", len(files)).Msg("upload batch aborted")
		return nil, err
	}

	for _, f := range files {
		job, err := s.storeOriginal(ctx, userID, f)
		if err != nil {
			return abort(err)
		}
		jobs = append(jobs, job)
	}

	for _, job := range jobs {
		if err := s.jobs.Save(ctx, job); err != nil {
			return abort(fmt.Errorf("failed to save job: %w", err))
		}
		saved++
	}

	for _, job := range jobs {
		if err := s.enqueue(ctx, job.ID); err != nil {
			return abort(err)
		}
	}

	resp := &model.UploadResponse{Jobs: make([]model.JobDescriptor, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, job.Descriptor())
		s.log.Info().Str("job_id", job.ID).Str("file", job.OriginalFileName).Msg("thumbnail job queued")
	}
	resp.Message = fmt.Sprintf("%d file(s) uploaded, thumbnails queued", len(resp.Jobs))
	return resp, nil
}

func (s *ThumbnailService) storeOriginal(ctx context.Context, userID string, f model.UploadFile) (*model.ThumbnailJob, error) {
	kind, ok := model.KindFromContentType(f.ContentType)
	if !ok {
		return nil, fmt.Errorf("unsupported content type %q", f.ContentType)
	}

	jobID := uuid.New().String()
	key := path.Join("originals", jobID, path.Base(f.Name))

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	fileURL, err := s.storage.Upload(ctx, key, rc, f.ContentType)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to store original: %w", err)
	}

	return &model.ThumbnailJob{
		ID:               jobID,
		UserID:           userID,
		OriginalFileName: f.Name,
		OriginalFilePath: fileURL,
		StorageKey:       key,
		ContentType:      f.ContentType,
		Size:             f.Size,
		Type:             kind,
		Status:           model.JobStatusQueued,
		CreatedAt:        time.Now(),
	}, nil
}

func (s *ThumbnailService) enqueue(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(model.ThumbnailJobPayload{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	_, err = s.queue.EnqueueContext(ctx, asynq.NewTask(TaskTypeThumbnail, payload),
		asynq.Queue(QueueThumbnails),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// discard fails the saved records and deletes the originals of stored.
func (s *ThumbnailService) discard(ctx context.Context, saved, stored []*model.ThumbnailJob) {
	reason := "upload batch aborted"
	for _, job := range saved {
		job.Status = model.JobStatusFailed
		job.Error = &reason
		now := time.Now()
		job.CompletedAt = &now
		if err := s.jobs.Save(ctx, job); err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark aborted job")
		}
	}
	for _, job := range stored {
		if err := s.storage.Delete(ctx, job.StorageKey); err != nil {
			s.log.Warn().Err(err).Str("key", job.StorageKey).Msg("failed to delete original")
		}
	}
}

// GetJob returns the job if it belongs to userID
func (s *ThumbnailService) GetJob(ctx context.Context, userID, jobID string) (*model.ThumbnailJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobForbidden
	}
	return job, nil
}

// ThumbnailLink returns a time-limited URL for a completed job's thumbnail
func (s *ThumbnailService) ThumbnailLink(ctx context.Context, userID, jobID string, expiry time.Duration) (string, error) {
	job, err := s.GetJob(ctx, userID, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != model.JobStatusCompleted || job.ThumbnailKey == "" {
		return "", ErrThumbnailNotReady
	}
	return s.storage.GetSignedURL(ctx, job.ThumbnailKey, expiry)
}

// Load returns the job regardless of owner (called by worker)
func (s *ThumbnailService) Load(ctx context.Context, jobID string) (*model.ThumbnailJob, error) {
	return s.jobs.Get(ctx, jobID)
}

// Open streams the stored original of a job
func (s *ThumbnailService) Open(ctx context.Context, job *model.ThumbnailJob) (io.ReadCloser, error) {
	return s.storage.Open(ctx, job.StorageKey)
}

// StoreThumbnail saves thumbnail bytes for a job and returns their key and URL
func (s *ThumbnailService) StoreThumbnail(ctx context.Context, jobID, ext string, body []byte, contentType string) (string, string, error) {
	key := path.Join("thumbnails", jobID+"."+ext)
	url, err := s.storage.Upload(ctx, key, bytes.NewReader(body), contentType)
	if err != nil {
		return "", "", err
	}
	return key, url, nil
}

// MarkProcessing moves a queued job to processing (called by worker)
func (s *ThumbnailService) MarkProcessing(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, func(job *model.ThumbnailJob) {
		job.Status = model.JobStatusProcessing
		now := time.Now()
		job.StartedAt = &now
	})
}

// CompleteJob records the stored thumbnail (called by worker)
func (s *ThumbnailService) CompleteJob(ctx context.Context, jobID, thumbnailKey, thumbnailURL string) error {
	return s.transition(ctx, jobID, func(job *model.ThumbnailJob) {
		job.Status = model.JobStatusCompleted
		job.ThumbnailKey = thumbnailKey
		job.ThumbnailURL = thumbnailURL
		now := time.Now()
		job.CompletedAt = &now
	})
}

// FailJob marks the job failed (called by worker)
func (s *ThumbnailService) FailJob(ctx context.Context, jobID, errMsg string) error {
	return s.transition(ctx, jobID, func(job *model.ThumbnailJob) {
		job.Status = model.JobStatusFailed
		job.Error = &errMsg
		now := time.Now()
		job.CompletedAt = &now
	})
}

// transition applies fn to a non-terminal job, saves it and notifies subscribers.
func (s *ThumbnailService) transition(ctx context.Context, jobID string, fn func(*model.ThumbnailJob)) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s already %s: %w", jobID, job.Status, ErrJobFinished)
	}

	fn(job)
	if err := s.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	if s.notifier != nil {
		s.notifier.BroadcastJobUpdate(model.JobUpdate{
			JobID:        job.ID,
			Status:       job.Status,
			ThumbnailURL: job.ThumbnailURL,
		})
	}
	return nil
}
