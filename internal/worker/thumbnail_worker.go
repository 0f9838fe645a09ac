package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/thumbgen/tracker/internal/model"
	"github.com/thumbgen/tracker/internal/service"
)

// MaxThumbnailSize bounds the longer edge of generated thumbnails
const MaxThumbnailSize = 320

// ThumbnailWorker processes thumbnail jobs
type ThumbnailWorker struct {
	thumbnails *service.ThumbnailService
	log        zerolog.Logger
}

// NewThumbnailWorker creates a new thumbnail worker
func NewThumbnailWorker(thumbnails *service.ThumbnailService, logger zerolog.Logger) *ThumbnailWorker {
	return &ThumbnailWorker{
		thumbnails: thumbnails,
		log:        logger.With().Str("component", "thumbnail_worker").Logger(),
	}
}

// ProcessTask handles thumbnail task processing
func (w *ThumbnailWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.ThumbnailJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	log := w.log.With().Str("job_id", jobID).Logger()

	if err := w.thumbnails.MarkProcessing(ctx, jobID); err != nil {
		if errors.Is(err, service.ErrJobFinished) || errors.Is(err, service.ErrJobNotFound) {
			log.Debug().Err(err).Msg("skipping task")
			return nil
		}
		return err
	}
	log.Info().Msg("starting thumbnail job")

	job, err := w.thumbnails.Load(ctx, jobID)
	if err != nil {
		return w.fail(ctx, log, jobID, "job record unavailable", err)
	}

	body, ext, contentType, err := w.render(ctx, job)
	if err != nil {
		return w.fail(ctx, log, jobID, "thumbnail generation failed", err)
	}

	thumbnailKey, thumbnailURL, err := w.thumbnails.StoreThumbnail(ctx, jobID, ext, body, contentType)
	if err != nil {
		return w.fail(ctx, log, jobID, "failed to store thumbnail", err)
	}

	if err := w.thumbnails.CompleteJob(ctx, jobID, thumbnailKey, thumbnailURL); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	log.Info().Str("thumbnail_url", thumbnailURL).Msg("thumbnail job completed")
	return nil
}

func (w *ThumbnailWorker) render(ctx context.Context, job *model.ThumbnailJob) ([]byte, string, string, error) {
	if job.Type == model.MediaKindVideo {
		body, err := encodePNG(placeholderFrame())
		return body, "png", "image/png", err
	}

	rc, err := w.thumbnails.Open(ctx, job)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to open original: %w", err)
	}
	defer rc.Close()

	return Thumbnail(rc)
}

// fail marks the job failed and stops asynq from retrying it.
func (w *ThumbnailWorker) fail(ctx context.Context, log zerolog.Logger, jobID, msg string, cause error) error {
	log.Error().Err(cause).Msg(msg)
	if err := w.thumbnails.FailJob(ctx, jobID, msg); err != nil {
		log.Error().Err(err).Msg("failed to mark job as failed")
	}
	return fmt.Errorf("%s: %v: %w", msg, cause, asynq.SkipRetry)
}

// Thumbnail decodes an image and re-encodes it scaled to fit MaxThumbnailSize.
// PNG sources stay PNG, everything else becomes JPEG.
func Thumbnail(r io.Reader) ([]byte, string, string, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to decode image: %w", err)
	}

	dst := scale(src, MaxThumbnailSize)
	if format == "png" {
		body, err := encodePNG(dst)
		return body, "png", "image/png", err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, "", "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), "jpg", "image/jpeg", nil
}

// scale fits src into a bound x bound box keeping its aspect ratio. Smaller
// images are left at their size.
func scale(src image.Image, bound int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	tw, th := w, h
	if w > bound || h > bound {
		if w >= h {
			tw, th = bound, h*bound/w
		} else {
			tw, th = w*bound/h, bound
		}
	}
	tw, th = max(tw, 1), max(th, 1)

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// placeholderFrame is a 16:9 dark frame with a play marker.
func placeholderFrame() *image.RGBA {
	w, h := MaxThumbnailSize, MaxThumbnailSize*9/16
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 40, G: 44, B: 52, A: 255}}, image.Point{}, draw.Src)

	marker := color.RGBA{R: 220, G: 220, B: 220, A: 255}
	cx, cy, size := w/2, h/2, h/4
	for dx := 0; dx <= size; dx++ {
		half := (size - dx) / 2
		for dy := -half; dy <= half; dy++ {
			img.Set(cx-size/3+dx, cy+dy, marker)
		}
	}
	return img
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
