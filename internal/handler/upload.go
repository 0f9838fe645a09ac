package handler

import (
	"io"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"

	"github.com/thumbgen/tracker/internal/middleware"
	"github.com/thumbgen/tracker/internal/model"
	"github.com/thumbgen/tracker/internal/service"
	"github.com/thumbgen/tracker/internal/validation"
	"github.com/thumbgen/tracker/pkg/response"
)

// UploadField is the multipart field carrying the batch
const UploadField = "files"

type UploadHandler struct {
	service *service.ThumbnailService
	files   *validation.FileValidator
}

func NewUploadHandler(svc *service.ThumbnailService, files *validation.FileValidator) *UploadHandler {
	return &UploadHandler{
		service: svc,
		files:   files,
	}
}

// Upload handles POST /api/jobs/uploads
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "Multipart form with files is required", nil)
	}

	headers := form.File[UploadField]
	files := make([]model.UploadFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, uploadFile(fh))
	}

	accepted, rejected, err := h.files.Validate(files)
	if err != nil {
		return response.ValidationError(c, err.Error(), map[string]interface{}{
			"maxFiles": validation.MaxBatchFiles,
			"count":    len(files),
		})
	}
	// The whole batch is refused so every returned job matches a submitted file.
	if len(rejected) > 0 {
		return response.ValidationError(c, "Some files were rejected", rejected)
	}

	result, err := h.service.CreateJobs(c.UserContext(), middleware.GetUserID(c), accepted)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, result)
}

func uploadFile(fh *multipart.FileHeader) model.UploadFile {
	return model.UploadFile{
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}
