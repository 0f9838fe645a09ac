package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/thumbgen/tracker/internal/client"
	"github.com/thumbgen/tracker/internal/model"
	"github.com/thumbgen/tracker/internal/service"
)

type captureQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *captureQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

type captureNotifier struct {
	mu      sync.Mutex
	updates []model.JobUpdate
}

func (n *captureNotifier) BroadcastJobUpdate(update model.JobUpdate) {
	n.mu.Lock()
	n.updates = append(n.updates, update)
	n.mu.Unlock()
}

func (n *captureNotifier) statuses() []model.JobStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.JobStatus
	for _, u := range n.updates {
		out = append(out, u.Status)
	}
	return out
}

type fixture struct {
	svc      *service.ThumbnailService
	worker   *ThumbnailWorker
	queue    *captureQueue
	notifier *captureNotifier
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	storage, err := client.NewLocalStorage(dir, "/files")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	f := &fixture{queue: &captureQueue{}, notifier: &captureNotifier{}, dir: dir}
	f.svc = service.NewThumbnailService(service.NewMemoryJobStore(), storage, f.queue, f.notifier, zerolog.Nop())
	f.worker = NewThumbnailWorker(f.svc, zerolog.Nop())
	return f
}

// submit creates one job and returns its id and queued task.
func (f *fixture) submit(t *testing.T, name, ct string, content []byte) (string, *asynq.Task) {
	t.Helper()
	resp, err := f.svc.CreateJobs(context.Background(), "user-1", []model.UploadFile{{
		Name:        name,
		Size:        int64(len(content)),
		ContentType: ct,
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(content)), nil },
	}})
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	f.queue.mu.Lock()
	task := f.queue.tasks[len(f.queue.tasks)-1]
	f.queue.mu.Unlock()
	return resp.Jobs[0].JobID, task
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	return buf.Bytes()
}

func TestProcessTask_Image(t *testing.T) {
	f := newFixture(t)
	jobID, task := f.submit(t, "wide.png", "image/png", pngBytes(t, testImage(640, 320)))

	if err := f.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job, err := f.svc.Load(context.Background(), jobID)
	if err != nil {
		t.Fatalf("failed to load job: %v", err)
	}
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if job.ThumbnailURL != "/files/thumbnails/"+jobID+".png" {
		t.Errorf("unexpected thumbnail url %s", job.ThumbnailURL)
	}

	file, err := os.Open(filepath.Join(f.dir, "thumbnails", jobID+".png"))
	if err != nil {
		t.Fatalf("thumbnail not stored: %v", err)
	}
	defer file.Close()
	cfg, err := png.DecodeConfig(file)
	if err != nil {
		t.Fatalf("thumbnail is not a png: %v", err)
	}
	if cfg.Width != 320 || cfg.Height != 160 {
		t.Errorf("expected 320x160, got %dx%d", cfg.Width, cfg.Height)
	}

	got := f.notifier.statuses()
	want := []model.JobStatus{model.JobStatusProcessing, model.JobStatusCompleted}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected broadcasts %v, got %v", want, got)
	}
}

func TestProcessTask_Video(t *testing.T) {
	f := newFixture(t)
	jobID, task := f.submit(t, "clip.mp4", "video/mp4", []byte("not really a video"))

	if err := f.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	job, _ := f.svc.Load(context.Background(), jobID)
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "thumbnails", jobID+".png")); err != nil {
		t.Errorf("expected placeholder frame stored: %v", err)
	}
}

func TestProcessTask_CorruptImageFails(t *testing.T) {
	f := newFixture(t)
	jobID, task := f.submit(t, "broken.jpg", "image/jpeg", []byte("garbage"))

	err := f.worker.ProcessTask(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	job, _ := f.svc.Load(context.Background(), jobID)
	if job.Status != model.JobStatusFailed || job.Error == nil {
		t.Fatalf("expected failed job with error, got %+v", job)
	}

	got := f.notifier.statuses()
	if got[len(got)-1] != model.JobStatusFailed {
		t.Errorf("expected failed broadcast last, got %v", got)
	}
}

func TestProcessTask_FinishedJobSkipped(t *testing.T) {
	f := newFixture(t)
	jobID, task := f.submit(t, "a.png", "image/png", pngBytes(t, testImage(10, 10)))

	if err := f.svc.FailJob(context.Background(), jobID, "cancelled"); err != nil {
		t.Fatalf("failed to fail job: %v", err)
	}
	if err := f.worker.ProcessTask(context.Background(), task); err != nil {
		t.Errorf("expected redelivered task to be skipped, got %v", err)
	}
	job, _ := f.svc.Load(context.Background(), jobID)
	if job.Status != model.JobStatusFailed {
		t.Errorf("expected job to stay failed, got %s", job.Status)
	}
}

func TestProcessTask_BadPayload(t *testing.T) {
	f := newFixture(t)
	err := f.worker.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeThumbnail, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("expected SkipRetry, got %v", err)
	}
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"landscape", 800, 400, 320, 160},
		{"portrait", 300, 900, 106, 320},
		{"small stays", 100, 50, 100, 50},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, testImage(tt.w, tt.h), nil); err != nil {
			t.Fatalf("%s: failed to encode: %v", tt.name, err)
		}
		body, ext, ct, err := Thumbnail(&buf)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if ext != "jpg" || ct != "image/jpeg" {
			t.Errorf("%s: expected jpeg output, got %s %s", tt.name, ext, ct)
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(body))
		if err != nil {
			t.Fatalf("%s: bad output: %v", tt.name, err)
		}
		if cfg.Width != tt.wantW || cfg.Height != tt.wantH {
			t.Errorf("%s: expected %dx%d, got %dx%d", tt.name, tt.wantW, tt.wantH, cfg.Width, cfg.Height)
		}
	}
}

func TestScale_KeepsColour(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 320))
	red := color.RGBA{R: 200, G: 30, B: 30, A: 255}
	for y := 0; y < 320; y++ {
		for x := 0; x < 640; x++ {
			src.Set(x, y, red)
		}
	}

	dst := scale(src, MaxThumbnailSize)
	if b := dst.Bounds(); b.Dx() != 320 || b.Dy() != 160 {
		t.Fatalf("expected 320x160, got %dx%d", b.Dx(), b.Dy())
	}
	got := dst.RGBAAt(160, 80)
	if got != red {
		t.Errorf("expected %v at the centre, got %v", red, got)
	}

	tiny := scale(image.NewRGBA(image.Rect(0, 0, 4000, 2)), MaxThumbnailSize)
	if b := tiny.Bounds(); b.Dx() != 320 || b.Dy() != 1 {
		t.Errorf("expected 320x1, got %dx%d", b.Dx(), b.Dy())
	}
}
