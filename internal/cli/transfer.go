package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/thumbgen/tracker/internal/client"
	"github.com/thumbgen/tracker/internal/model"
)

// downloader saves completed thumbnails into dir
type downloader struct {
	api *client.APIClient
	dir string
}

func (d *downloader) Download(ctx context.Context, job model.TrackedJob) (string, error) {
	if job.Status != model.JobStatusCompleted || job.ThumbnailURL == "" {
		return "", fmt.Errorf("%s has no thumbnail yet", job.FileName)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	target := filepath.Join(d.dir, client.ThumbnailFileName(job.FileName, job.ThumbnailURL))
	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := d.api.DownloadThumbnail(ctx, job.ThumbnailURL, f); err != nil {
		f.Close()
		os.Remove(target)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", target, err)
	}
	return target, nil
}

// mirror copies every completed thumbnail to a storage bucket once.
type mirror struct {
	api     *client.APIClient
	storage client.StorageClient
	log     zerolog.Logger

	mu   sync.Mutex
	seen map[string]bool
	wg   sync.WaitGroup
}

func newMirror(api *client.APIClient, storage client.StorageClient, logger zerolog.Logger) *mirror {
	return &mirror{
		api:     api,
		storage: storage,
		log:     logger.With().Str("component", "mirror").Logger(),
		seen:    make(map[string]bool),
	}
}

// OnChange starts a copy for each newly completed job in the snapshot.
func (m *mirror) OnChange(jobs []model.TrackedJob) {
	for _, job := range jobs {
		if job.Status != model.JobStatusCompleted || job.ThumbnailURL == "" {
			continue
		}
		m.mu.Lock()
		dup := m.seen[job.LocalID]
		m.seen[job.LocalID] = true
		m.mu.Unlock()
		if dup {
			continue
		}

		m.wg.Add(1)
		go func(job model.TrackedJob) {
			defer m.wg.Done()
			url, err := m.copy(context.Background(), job)
			if err != nil {
				m.log.Error().Err(err).Str("file", job.FileName).Msg("failed to mirror thumbnail")
				return
			}
			m.log.Info().Str("file", job.FileName).Str("url", url).Msg("thumbnail mirrored")
		}(job)
	}
}

func (m *mirror) copy(ctx context.Context, job model.TrackedJob) (string, error) {
	var buf bytes.Buffer
	if _, err := m.api.DownloadThumbnail(ctx, job.ThumbnailURL, &buf); err != nil {
		return "", err
	}
	name := client.ThumbnailFileName(job.FileName, job.ThumbnailURL)
	key := path.Join("thumbnails", job.Key(), name)
	return m.storage.Upload(ctx, key, &buf, contentTypeFor(name))
}

// Wait blocks until started copies finish
func (m *mirror) Wait() {
	m.wg.Wait()
}

func contentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	}
	return "image/jpeg"
}
