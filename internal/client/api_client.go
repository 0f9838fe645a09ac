package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thumbgen/tracker/internal/auth"
	"github.com/thumbgen/tracker/internal/config"
	"github.com/thumbgen/tracker/internal/model"
)

// UploadField is the multipart field carrying each file
const UploadField = "files"

// APIError is a non-2xx reply from the thumbnail API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// APIClient talks to the thumbnail REST API
type APIClient struct {
	httpClient *http.Client
	baseURL    string
	auth       auth.Provider
	log        zerolog.Logger
}

// NewAPIClient creates a new API client. provider may be nil for unauthenticated calls.
func NewAPIClient(cfg *config.APIConfig, provider auth.Provider, logger zerolog.Logger) *APIClient {
	return &APIClient{
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout(),
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    provider,
		log:     logger.With().Str("component", "api").Logger(),
	}
}

// Upload streams files as one multipart batch to POST /api/jobs/uploads.
func (c *APIClient) Upload(ctx context.Context, files []model.UploadFile) (*model.UploadResponse, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeParts(writer, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/jobs/uploads", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result model.UploadResponse
	if err := c.do(req, &result); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return &result, nil
}

func writeParts(writer *multipart.Writer, files []model.UploadFile) error {
	for _, f := range files {
		if f.Open == nil {
			return fmt.Errorf("file %s has no content", f.Name)
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, UploadField, escapeQuotes(f.Name)))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		header.Set("Content-Type", ct)

		part, err := writer.CreatePart(header)
		if err != nil {
			return fmt.Errorf("failed to create part: %w", err)
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		_, err = io.Copy(part, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
	}
	return writer.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// SignIn exchanges credentials for a token
func (c *APIClient) SignIn(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	var result model.AuthResponse
	body := model.SignInRequest{Email: email, Password: password}
	if err := c.postJSON(ctx, "/api/users/sign-in", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SignUp registers a user and returns its first token
func (c *APIClient) SignUp(ctx context.Context, name, email, password string) (*model.AuthResponse, error) {
	var result model.AuthResponse
	body := model.SignUpRequest{Name: name, Email: email, Password: password}
	if err := c.postJSON(ctx, "/api/users/sign-up", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Job fetches the current server view of one job
func (c *APIClient) Job(ctx context.Context, jobID string) (*model.JobDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var result model.JobDescriptor
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DownloadThumbnail copies the thumbnail at thumbnailURL into w.
// Relative URLs are resolved against the API base URL.
func (c *APIClient) DownloadThumbnail(ctx context.Context, thumbnailURL string, w io.Writer) (int64, error) {
	target := thumbnailURL
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch thumbnail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, c.apiError(resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read thumbnail: %w", err)
	}
	return n, nil
}

// ThumbnailFileName names a downloaded thumbnail after its original file:
// thumbnail_<original base name>.<thumbnail extension>, defaulting to jpg.
func ThumbnailFileName(originalName, thumbnailURL string) string {
	p := thumbnailURL
	if u, err := url.Parse(thumbnailURL); err == nil {
		p = u.Path
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if ext == "" {
		ext = "jpg"
	}

	base := path.Base(strings.ReplaceAll(originalName, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	return fmt.Sprintf("thumbnail_%s.%s", base, ext)
}

func (c *APIClient) postJSON(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

// do sends req with the bearer credential attached and decodes a 2xx JSON body into result.
func (c *APIClient) do(req *http.Request, result interface{}) error {
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *APIClient) authorize(req *http.Request) {
	if c.auth == nil {
		return
	}
	if token, err := c.auth.Token(); err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *APIClient) apiError(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		c.log.Warn().Str("path", resp.Request.URL.Path).Msg("unauthorized")
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var envelope struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Message = envelope.Error.Message
		if apiErr.Message == "" {
			apiErr.Message = envelope.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
