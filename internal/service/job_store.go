package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thumbgen/tracker/internal/model"
)

var (
	// ErrJobNotFound is returned for unknown job ids
	ErrJobNotFound = errors.New("job not found")
	// ErrJobForbidden is returned when a job belongs to another user
	ErrJobForbidden = errors.New("job belongs to another user")
	// ErrThumbnailNotReady is returned for jobs without a stored thumbnail
	ErrThumbnailNotReady = errors.New("thumbnail not ready")
	// ErrJobFinished is returned when a terminal job is asked to change status
	ErrJobFinished = errors.New("job already finished")
)

const jobTTL = 24 * time.Hour

// JobStore persists thumbnail job records
type JobStore interface {
	Save(ctx context.Context, job *model.ThumbnailJob) error
	Get(ctx context.Context, jobID string) (*model.ThumbnailJob, error)
}

// RedisJobStore keeps jobs as JSON under job:<id>
type RedisJobStore struct {
	redis *redis.Client
}

func NewRedisJobStore(redisClient *redis.Client) *RedisJobStore {
	return &RedisJobStore{redis: redisClient}
}

func (s *RedisJobStore) Save(ctx context.Context, job *model.ThumbnailJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, jobTTL).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*model.ThumbnailJob, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("job:%s", jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.ThumbnailJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// MemoryJobStore is a process-local JobStore for development and tests
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]model.ThumbnailJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]model.ThumbnailJob)}
}

func (s *MemoryJobStore) Save(ctx context.Context, job *model.ThumbnailJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, jobID string) (*model.ThumbnailJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}
