// Package metadata reads technical information out of stored media files
package metadata

import (
	"context"
	"fmt"
	"math"
	"time"

	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/internal/service"

	"go.uber.org/zap"
)

type Prober interface {
	Probe(ctx context.Context, p string) (*service.ProbeResult, error)
}

// ExtractionError never fails a job, it is stored next to whatever was
// extracted before the failure
type ExtractionError struct {
	Class model.MediaClass
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract %s metadata, %v", e.Class, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Result is merged into the file row by the metadata job
type Result struct {
	Metadata model.JSONMap
	Width    int
	Height   int
	Duration float64
	Err      error
}

type Extractor struct {
	prober  Prober
	ffmpeg  service.FFmpeg
	timeout time.Duration
}

func NewExtractor(prober Prober, ff service.FFmpeg) *Extractor {
	return &Extractor{prober: prober, ffmpeg: ff, timeout: 2 * time.Minute}
}

// Extract dispatches on the media class of f. It always returns a result,
// partial when something failed.
func (e *Extractor) Extract(ctx context.Context, f *model.MediaFile, localPath string) *Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res := &Result{Metadata: model.JSONMap{
		"size":      f.Size,
		"mime_type": f.MIMEType,
	}}

	var err error
	switch f.MediaClass {
	case model.ClassImage:
		err = e.image(ctx, f, localPath, res)
	case model.ClassVideo:
		err = e.video(ctx, localPath, res)
	case model.ClassAudio:
		err = e.audio(ctx, localPath, res)
	}

	if err != nil {
		res.Err = &ExtractionError{Class: f.MediaClass, Err: err}
		res.Metadata["extraction_error"] = err.Error()

		zap.L().Warn("Metadata extraction failed",
			zap.String("file_id", f.ID),
			zap.String("class", string(f.MediaClass)),
			zap.Error(err))
	}

	return res
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
