package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/thumbgen/tracker/internal/model"
	"github.com/thumbgen/tracker/internal/validation"
)

// localFiles describes each path as an UploadFile, sniffing its content type.
func localFiles(paths []string) ([]model.UploadFile, error) {
	files := make([]model.UploadFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}

		ct, err := detectContentType(p)
		if err != nil {
			return nil, err
		}

		path := p
		files = append(files, model.UploadFile{
			Name:        filepath.Base(p),
			Size:        info.Size(),
			ContentType: ct,
			Open: func() (io.ReadCloser, error) {
				return os.Open(path)
			},
		})
	}
	return files, nil
}

// detectContentType returns the accepted format the file matches, or its
// sniffed type when it matches none.
func detectContentType(path string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect type of %s: %w", path, err)
	}
	for _, f := range validation.SupportedFormats {
		if mtype.Is(f) {
			return f, nil
		}
	}
	return mtype.String(), nil
}
