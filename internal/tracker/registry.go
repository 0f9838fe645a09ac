package tracker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/thumbgen/tracker/internal/model"
)

// ErrDuplicateLocalID is returned by InsertBatch when a local id is already tracked.
var ErrDuplicateLocalID = errors.New("duplicate local id")

// CorrelationResult reports how an upload response was bound to a batch
type CorrelationResult struct {
	// Matched local ids, in descriptor order
	Matched []string
	// Descriptors that found no pending entry
	Dropped []model.JobDescriptor
	// Batch entries that received no descriptor
	Unmatched []string
}

// Registry is the ordered collection of tracked jobs and the only place job state changes.
type Registry struct {
	mu       sync.RWMutex
	jobs     []*model.TrackedJob
	byLocal  map[string]*model.TrackedJob
	byServer map[string]*model.TrackedJob
	log      zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byLocal:  make(map[string]*model.TrackedJob),
		byServer: make(map[string]*model.TrackedJob),
		log:      logger.With().Str("component", "registry").Logger(),
	}
}

// InsertBatch appends entries in submission order. Either all entries are
// inserted or, on a duplicate local id, none are.
func (r *Registry) InsertBatch(entries []model.TrackedJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.LocalID == "" {
			return fmt.Errorf("empty local id for %q: %w", e.FileName, ErrDuplicateLocalID)
		}
		if _, ok := r.byLocal[e.LocalID]; ok || seen[e.LocalID] {
			return fmt.Errorf("local id %s: %w", e.LocalID, ErrDuplicateLocalID)
		}
		seen[e.LocalID] = true
	}

	for _, e := range entries {
		job := e
		r.jobs = append(r.jobs, &job)
		r.byLocal[job.LocalID] = &job
	}
	return nil
}

// Correlate binds server descriptors to the batch identified by batchLocalIDs.
// Each descriptor claims the first batch entry that has no server job id yet and
// whose file name (and size, when the server reports one) matches.
func (r *Registry) Correlate(batchLocalIDs []string, descriptors []model.JobDescriptor) CorrelationResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res CorrelationResult
	claimed := make(map[string]bool, len(batchLocalIDs))

	for _, d := range descriptors {
		if d.JobID == "" {
			r.log.Warn().Str("file", d.OriginalFileName).Msg("upload response job has no id, dropping")
			res.Dropped = append(res.Dropped, d)
			continue
		}
		if _, taken := r.byServer[d.JobID]; taken {
			r.log.Warn().Str("job_id", d.JobID).Msg("server job id already tracked, dropping")
			res.Dropped = append(res.Dropped, d)
			continue
		}
		job := r.firstCandidateLocked(batchLocalIDs, claimed, d)
		if job == nil {
			r.log.Warn().
				Str("job_id", d.JobID).
				Str("file", d.OriginalFileName).
				Msg("upload response job matched no pending entry, dropping")
			res.Dropped = append(res.Dropped, d)
			continue
		}

		claimed[job.LocalID] = true
		job.ServerJobID = d.JobID
		if d.OriginalFileName != "" {
			job.FileName = d.OriginalFileName
		}
		if d.OriginalFilePath != "" {
			job.FilePath = d.OriginalFilePath
		}
		status := d.Status
		if !status.Valid() || status == model.JobStatusPending {
			status = model.JobStatusQueued
		}
		job.Status = status
		if d.Type.Valid() {
			job.MediaKind = d.Type
		}
		if status == model.JobStatusCompleted && d.ThumbnailURL != "" {
			job.ThumbnailURL = d.ThumbnailURL
		}
		r.byServer[d.JobID] = job
		res.Matched = append(res.Matched, job.LocalID)
	}

	for _, id := range batchLocalIDs {
		if claimed[id] {
			continue
		}
		if job, ok := r.byLocal[id]; ok && job.ServerJobID == "" {
			res.Unmatched = append(res.Unmatched, id)
		}
	}
	return res
}

func (r *Registry) firstCandidateLocked(batch []string, claimed map[string]bool, d model.JobDescriptor) *model.TrackedJob {
	for _, id := range batch {
		if claimed[id] {
			continue
		}
		job, ok := r.byLocal[id]
		if !ok || job.ServerJobID != "" || job.Status.IsTerminal() {
			continue
		}
		if job.FileName != d.OriginalFileName {
			continue
		}
		if d.Size > 0 && job.Size > 0 && d.Size != job.Size {
			continue
		}
		return job
	}
	return nil
}

// Merge applies a push update to the job with the matching server job id.
// It returns the updated job and true only when the update advanced the status.
func (r *Registry) Merge(update model.JobUpdate) (model.TrackedJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.byServer[update.JobID]
	if !ok {
		r.log.Debug().Str("job_id", update.JobID).Msg("update for untracked job ignored")
		return model.TrackedJob{}, false
	}
	if !update.Status.Advances(job.Status) {
		r.log.Debug().
			Str("job_id", update.JobID).
			Str("current", string(job.Status)).
			Str("incoming", string(update.Status)).
			Msg("stale update ignored")
		return *job, false
	}

	job.Status = update.Status
	if update.Status == model.JobStatusCompleted && update.ThumbnailURL != "" {
		job.ThumbnailURL = update.ThumbnailURL
	}
	return *job, true
}

// MarkBatchFailed forces every listed non-terminal entry to failed and returns how many changed.
func (r *Registry) MarkBatchFailed(localIDs []string, reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, id := range localIDs {
		job, ok := r.byLocal[id]
		if !ok || job.Status.IsTerminal() {
			continue
		}
		job.Status = model.JobStatusFailed
		job.Error = reason
		n++
	}
	return n
}

// Remove drops the job whose server job id, or failing that local id, equals key.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.byServer[key]
	if !ok {
		job, ok = r.byLocal[key]
	}
	if !ok {
		return false
	}

	for i, j := range r.jobs {
		if j == job {
			r.jobs = append(r.jobs[:i], r.jobs[i+1:]...)
			break
		}
	}
	delete(r.byLocal, job.LocalID)
	if job.ServerJobID != "" {
		delete(r.byServer, job.ServerJobID)
	}
	return true
}

// Get returns a copy of the job stored under key (server job id first, then local id).
func (r *Registry) Get(key string) (model.TrackedJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if job, ok := r.byServer[key]; ok {
		return *job, true
	}
	if job, ok := r.byLocal[key]; ok {
		return *job, true
	}
	return model.TrackedJob{}, false
}

// Snapshot returns a copy of all jobs in insertion order.
func (r *Registry) Snapshot() []model.TrackedJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.TrackedJob, len(r.jobs))
	for i, j := range r.jobs {
		out[i] = *j
	}
	return out
}

// ActiveServerIDs lists, in insertion order, the server job ids of all non-terminal jobs.
func (r *Registry) ActiveServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, j := range r.jobs {
		if j.ServerJobID != "" && !j.Status.IsTerminal() {
			ids = append(ids, j.ServerJobID)
		}
	}
	return ids
}

// Len returns the number of tracked jobs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
