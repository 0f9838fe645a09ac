package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/thumbgen/tracker/internal/model"
)

const (
	MaxFileSize   = 50 * 1024 * 1024
	MaxBatchFiles = 5

	// MaxRequestBody fits a full batch plus its multipart envelope
	MaxRequestBody = MaxBatchFiles*MaxFileSize + 1<<20
)

// SupportedFormats lists the content types accepted for thumbnail generation
var SupportedFormats = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"video/mp4",
	"video/avi",
	"video/quicktime",
}

var (
	ErrNoFiles      = errors.New("please select at least one file")
	ErrTooManyFiles = fmt.Errorf("you can upload up to %d files only", MaxBatchFiles)
)

// Rejection reasons
const (
	reasonType       = "unsupported file type"
	reasonSize       = "file too large"
	reasonEmptyName  = "missing file name"
	reasonEmptyBytes = "file is empty"
)

type fileRule struct {
	Name        string `validate:"required"`
	ContentType string `validate:"supported_format"`
	Size        int64  `validate:"gt=0,lte=52428800"`
}

type batchRule struct {
	Count int `validate:"min=1,max=5"`
}

// FileValidator checks upload batches against the format, size and count limits.
type FileValidator struct {
	validate *validator.Validate
}

// New creates a FileValidator
func New() *FileValidator {
	v := validator.New()
	_ = v.RegisterValidation("supported_format", func(fl validator.FieldLevel) bool {
		return IsSupported(fl.Field().String())
	})
	return &FileValidator{validate: v}
}

// IsSupported reports whether contentType is an accepted upload format.
func IsSupported(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	for _, f := range SupportedFormats {
		if f == ct {
			return true
		}
	}
	return false
}

// Validate splits files into accepted ones and per-file rejections.
// The batch as a whole must hold between 1 and MaxBatchFiles files.
func (v *FileValidator) Validate(files []model.UploadFile) ([]model.UploadFile, []model.FileRejection, error) {
	if err := v.validate.Struct(batchRule{Count: len(files)}); err != nil {
		if len(files) == 0 {
			return nil, nil, ErrNoFiles
		}
		return nil, nil, ErrTooManyFiles
	}

	var accepted []model.UploadFile
	var rejected []model.FileRejection
	for _, f := range files {
		if reason := v.Check(f); reason != "" {
			rejected = append(rejected, model.FileRejection{Name: f.Name, Reason: reason})
			continue
		}
		accepted = append(accepted, f)
	}
	return accepted, rejected, nil
}

// Check returns the rejection reason for a single file, or "" when it is acceptable.
func (v *FileValidator) Check(f model.UploadFile) string {
	err := v.validate.Struct(fileRule{Name: f.Name, ContentType: f.ContentType, Size: f.Size})
	if err == nil {
		return ""
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	switch fe := verrs[0]; fe.Field() {
	case "Name":
		return reasonEmptyName
	case "ContentType":
		return reasonType
	case "Size":
		if fe.Tag() == "gt" {
			return reasonEmptyBytes
		}
		return reasonSize
	}
	return verrs[0].Error()
}
