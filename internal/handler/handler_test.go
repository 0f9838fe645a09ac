package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/thumbgen/tracker/internal/auth"
	"github.com/thumbgen/tracker/internal/client"
	"github.com/thumbgen/tracker/internal/middleware"
	"github.com/thumbgen/tracker/internal/model"
	"github.com/thumbgen/tracker/internal/service"
	"github.com/thumbgen/tracker/internal/validation"
)

const testJWTSecret = "test-secret-for-handlers"

type memQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *memQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

type testApp struct {
	app        *fiber.App
	thumbnails *service.ThumbnailService
	queue      *memQueue
}

// setupApp mirrors the server routes with in-memory stores and local storage.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	dir := t.TempDir()
	storage, err := client.NewLocalStorage(dir, "/files")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	queue := &memQueue{}

	thumbnails := service.NewThumbnailService(service.NewMemoryJobStore(), storage, queue, nil, zerolog.Nop())
	users := service.NewUserService(service.NewMemoryUserStore(), testJWTSecret, time.Hour)

	authHandler := NewAuthHandler(users, validator.New())
	uploadHandler := NewUploadHandler(thumbnails, validation.New())
	jobHandler := NewJobHandler(thumbnails)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(nil, zerolog.Nop())

	app := fiber.New(fiber.Config{
		BodyLimit:             validation.MaxRequestBody,
		DisableStartupMessage: true,
	})

	app.Post("/api/users/sign-up", authHandler.SignUp)
	app.Post("/api/users/sign-in", authHandler.SignIn)

	jobs := app.Group("/api/jobs", authMiddleware.Authenticate())
	jobs.Post("/uploads", rateLimiter.UploadLimit(10000), uploadHandler.Upload)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/thumbnail", jobHandler.Thumbnail)

	app.Static("/files", dir)

	return &testApp{app: app, thumbnails: thumbnails, queue: queue}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.IssueToken(testJWTSecret, userID, userID+"@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return tok
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

type part struct {
	name, contentType, content string
}

func doUpload(t *testing.T, app *fiber.App, bearer string, parts ...part) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, UploadField, p.name))
		h.Set("Content-Type", p.contentType)
		pw, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		io.WriteString(pw, p.content)
	}
	w.Close()

	req := httptest.NewRequest("POST", "/api/jobs/uploads", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, resp, &env)
	return env.Error.Code
}

func TestSignUpAndSignIn(t *testing.T) {
	ta := setupApp(t)

	resp := doJSON(t, ta.app, "POST", "/api/users/sign-up", `{"name":"Ana","email":"ana@example.com","password":"secret123"}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created model.AuthResponse
	decode(t, resp, &created)
	if created.Token == "" {
		t.Fatal("expected token on sign-up")
	}

	resp = doJSON(t, ta.app, "POST", "/api/users/sign-up", `{"name":"Ana","email":"ANA@example.com","password":"secret123"}`)
	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}

	resp = doJSON(t, ta.app, "POST", "/api/users/sign-in", `{"email":"ana@example.com","password":"secret123"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var signedIn model.AuthResponse
	decode(t, resp, &signedIn)
	if _, err := auth.ValidateToken(signedIn.Token, testJWTSecret); err != nil {
		t.Errorf("expected valid token, got %v", err)
	}

	resp = doJSON(t, ta.app, "POST", "/api/users/sign-in", `{"email":"ana@example.com","password":"wrong-pass"}`)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", resp.StatusCode)
	}
}

func TestSignUp_Validation(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing email", `{"name":"Ana","password":"secret123"}`},
		{"short password", `{"name":"Ana","email":"ana@example.com","password":"123"}`},
	}
	for _, tt := range tests {
		resp := doJSON(t, ta.app, "POST", "/api/users/sign-up", tt.body)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tt.name, resp.StatusCode)
			continue
		}
		if code := errorCode(t, resp); code != "VALIDATION_ERROR" {
			t.Errorf("%s: expected VALIDATION_ERROR, got %s", tt.name, code)
		}
	}
}

func TestUpload(t *testing.T) {
	ta := setupApp(t)

	resp := doUpload(t, ta.app, token(t, "user-1"),
		part{"a.jpg", "image/jpeg", "jpeg"},
		part{"b.mp4", "video/mp4", "mp4-bytes"},
	)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var result model.UploadResponse
	decode(t, resp, &result)

	if len(result.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(result.Jobs))
	}
	first := result.Jobs[0]
	if first.OriginalFileName != "a.jpg" || first.Status != model.JobStatusQueued || first.Type != model.MediaKindImage {
		t.Errorf("unexpected first job: %+v", first)
	}
	if result.Jobs[1].Size != int64(len("mp4-bytes")) {
		t.Errorf("expected size reported, got %d", result.Jobs[1].Size)
	}
	if len(ta.queue.tasks) != 2 {
		t.Errorf("expected 2 queued tasks, got %d", len(ta.queue.tasks))
	}
}

func TestUpload_Rejections(t *testing.T) {
	ta := setupApp(t)
	tok := token(t, "user-1")

	resp := doUpload(t, ta.app, tok, part{"doc.pdf", "application/pdf", "pdf"}, part{"a.jpg", "image/jpeg", "x"})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for unsupported type, got %d", resp.StatusCode)
	}

	many := make([]part, validation.MaxBatchFiles+1)
	for i := range many {
		many[i] = part{fmt.Sprintf("%d.png", i), "image/png", "png"}
	}
	resp = doUpload(t, ta.app, tok, many...)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for oversize batch, got %d", resp.StatusCode)
	}

	resp = doUpload(t, ta.app, tok)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for empty batch, got %d", resp.StatusCode)
	}
	if len(ta.queue.tasks) != 0 {
		t.Errorf("expected nothing queued, got %d", len(ta.queue.tasks))
	}
}

func TestUpload_RequiresAuth(t *testing.T) {
	ta := setupApp(t)
	resp := doUpload(t, ta.app, "", part{"a.jpg", "image/jpeg", "x"})
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "UNAUTHORIZED" {
		t.Errorf("expected UNAUTHORIZED, got %s", code)
	}
}

func TestJobStatus(t *testing.T) {
	ta := setupApp(t)
	owner := token(t, "user-1")

	resp := doUpload(t, ta.app, owner, part{"a.png", "image/png", "png"})
	var result model.UploadResponse
	decode(t, resp, &result)
	jobID := result.Jobs[0].JobID

	if err := ta.thumbnails.MarkProcessing(context.Background(), jobID); err != nil {
		t.Fatalf("failed to advance job: %v", err)
	}

	get := func(bearer, id string) *http.Response {
		req := httptest.NewRequest("GET", "/api/jobs/"+id, nil)
		req.Header.Set("Authorization", "Bearer "+bearer)
		resp, err := ta.app.Test(req, -1)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return resp
	}

	resp = get(owner, jobID)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var job model.JobDescriptor
	decode(t, resp, &job)
	if job.JobID != jobID || job.Status != model.JobStatusProcessing {
		t.Errorf("unexpected job: %+v", job)
	}

	if resp := get(token(t, "user-2"), jobID); resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("expected 403 for foreign job, got %d", resp.StatusCode)
	} else if code := errorCode(t, resp); code != "FORBIDDEN" {
		t.Errorf("expected FORBIDDEN, got %s", code)
	}
	if resp := get(owner, "missing"); resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", resp.StatusCode)
	}
}

func TestSubscribeCheck(t *testing.T) {
	ta := setupApp(t)
	resp := doUpload(t, ta.app, token(t, "user-1"), part{"a.png", "image/png", "png"})
	var result model.UploadResponse
	decode(t, resp, &result)
	jobID := result.Jobs[0].JobID

	h := NewJobHandler(ta.thumbnails)
	current, ok := h.SubscribeCheck("user-1")(jobID)
	if !ok || current.JobID != jobID || current.Status != model.JobStatusQueued {
		t.Errorf("unexpected subscribe check result: %+v %v", current, ok)
	}
	if _, ok := h.SubscribeCheck("user-2")(jobID); ok {
		t.Error("expected foreign job to be refused")
	}
}

func TestFilesServed(t *testing.T) {
	ta := setupApp(t)
	_, url, err := ta.thumbnails.StoreThumbnail(context.Background(), "J1", "jpg", []byte("thumb"), "image/jpeg")
	if err != nil {
		t.Fatalf("failed to store thumbnail: %v", err)
	}

	resp, err := ta.app.Test(httptest.NewRequest("GET", url, nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "thumb" {
		t.Errorf("expected stored thumbnail, got %d %q", resp.StatusCode, body)
	}
}

func TestThumbnailRedirect(t *testing.T) {
	ta := setupApp(t)
	owner := token(t, "user-1")
	ctx := context.Background()

	resp := doUpload(t, ta.app, owner, part{"a.png", "image/png", "png"})
	var result model.UploadResponse
	decode(t, resp, &result)
	jobID := result.Jobs[0].JobID

	get := func(bearer string) *http.Response {
		req := httptest.NewRequest("GET", "/api/jobs/"+jobID+"/thumbnail", nil)
		req.Header.Set("Authorization", "Bearer "+bearer)
		resp, err := ta.app.Test(req, -1)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return resp
	}

	if resp := get(owner); resp.StatusCode != fiber.StatusConflict {
		t.Errorf("expected 409 before completion, got %d", resp.StatusCode)
	}

	if err := ta.thumbnails.MarkProcessing(ctx, jobID); err != nil {
		t.Fatalf("failed to advance job: %v", err)
	}
	key, url, err := ta.thumbnails.StoreThumbnail(ctx, jobID, "png", []byte("thumb"), "image/png")
	if err != nil {
		t.Fatalf("failed to store thumbnail: %v", err)
	}
	if err := ta.thumbnails.CompleteJob(ctx, jobID, key, url); err != nil {
		t.Fatalf("failed to complete job: %v", err)
	}

	resp = get(owner)
	if resp.StatusCode != fiber.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != url {
		t.Errorf("expected redirect to %s, got %s", url, loc)
	}

	if resp := get(token(t, "user-2")); resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("expected 403 for foreign job, got %d", resp.StatusCode)
	}
}
