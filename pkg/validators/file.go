package validators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"bitwise74/media-api/config"
	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/internal/service"

	"github.com/gabriel-vasile/mimetype"
)

const maxFileNameSize = 245 // Takes into account the variant prefixes

// Prober reads container information of audio, video and image files
type Prober interface {
	Probe(ctx context.Context, p string) (*service.ProbeResult, error)
}

var (
	arExtensions = []string{".glb", ".gltf", ".usdz"}

	allowedTypes = map[model.MediaClass][]string{
		model.ClassImage: {
			"image/jpeg", "image/png", "image/webp", "image/gif",
			"image/heic", "image/heif", "image/avif",
		},
		model.ClassVideo: {
			"video/mp4", "video/quicktime", "video/webm", "video/x-matroska",
			"video/x-msvideo", "video/mpeg", "video/3gpp",
		},
		model.ClassAudio: {
			"audio/mpeg", "audio/wav", "audio/ogg", "audio/flac", "audio/aac",
			"audio/mp4", "audio/x-m4a", "audio/webm",
		},
		model.ClassDocument: {
			"application/pdf", "text/plain", "text/csv", "application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		},
		model.ClassARModel: {
			"model/gltf-binary", "model/gltf+json", "application/json",
			"model/vnd.usdz+zip", "application/zip",
		},
		model.ClassArchive: {
			"application/zip", "application/x-tar", "application/gzip",
			"application/x-7z-compressed", "application/x-rar-compressed",
		},
	}

	archiveTypes = allowedTypes[model.ClassArchive]

	// CategoryClasses lists which media classes a business category accepts
	CategoryClasses = map[string][]model.MediaClass{
		"property_photo":   {model.ClassImage},
		"avatar":           {model.ClassImage},
		"poi_image":        {model.ClassImage},
		"audio_guide":      {model.ClassAudio},
		"experience_media": {model.ClassImage, model.ClassVideo, model.ClassAudio},
		"document":         {model.ClassDocument},
		"ar_asset":         {model.ClassARModel},
		"other": {
			model.ClassImage, model.ClassVideo, model.ClassAudio,
			model.ClassDocument, model.ClassARModel, model.ClassArchive,
		},
	}
)

// Result is what the ingress path keeps from validation
type Result struct {
	MediaClass model.MediaClass
	MIMEType   string
	Extension  string
	Size       int64
	Probe      *service.ProbeResult
}

type Validator struct {
	limits config.LimitsConfig
	prober Prober
}

func NewValidator(limits config.LimitsConfig, prober Prober) *Validator {
	return &Validator{limits: limits, prober: prober}
}

// Validate inspects the spooled upload at p. The declared content type is
// never consulted, the class and MIME type come from the bytes.
func (v *Validator) Validate(ctx context.Context, p, filename, category string) (*Result, error) {
	if len(filename) > maxFileNameSize {
		return nil, invalid(ReasonFilenameTooLong, "file name is too long")
	}

	classes, ok := CategoryClasses[category]
	if !ok {
		return nil, invalid(ReasonUnknownCategory, fmt.Sprintf("unknown category %q", category))
	}

	stat, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("failed to stat upload, %w", err)
	}

	if stat.Size() == 0 {
		return nil, invalid(ReasonEmptyFile, "no file provided")
	}

	mt, err := mimetype.DetectFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type, %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	class := InferClass(mt, ext)

	if !slices.Contains(classes, class) {
		return nil, invalid(ReasonCategoryMismatch, fmt.Sprintf("category %s does not accept %s files", category, class))
	}

	if !isAllowed(mt, allowedTypes[class]) {
		return nil, invalid(ReasonUnsupportedType, fmt.Sprintf("unsupported file type %s", baseMIME(mt)))
	}

	if limit := v.limits.MaxSize[string(class)]; limit > 0 && stat.Size() > limit<<20 {
		return nil, invalid(ReasonSizeExceeded, fmt.Sprintf("file too large, %s files are limited to %d MiB", class, limit))
	}

	res := &Result{
		MediaClass: class,
		MIMEType:   baseMIME(mt),
		Extension:  normalizeExt(ext, mt),
		Size:       stat.Size(),
	}

	switch class {
	case model.ClassImage, model.ClassVideo, model.ClassAudio:
		if err := v.checkProbe(ctx, p, res); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func (v *Validator) checkProbe(ctx context.Context, p string, res *Result) error {
	if v.prober == nil {
		return nil
	}

	probe, err := v.prober.Probe(ctx, p)
	if err != nil {
		return invalid(ReasonProbeFailed, "file could not be read, "+err.Error())
	}

	res.Probe = probe

	switch res.MediaClass {
	case model.ClassImage:
		w, h := probe.Dimensions()
		if v.limits.MaxDimension > 0 && (w > v.limits.MaxDimension || h > v.limits.MaxDimension) {
			return invalid(ReasonDimensionsExceeded, fmt.Sprintf("image is %dx%d, the limit is %d pixels per side", w, h, v.limits.MaxDimension))
		}
	case model.ClassVideo:
		if maxDur := v.limits.MaxDuration.Seconds(); maxDur > 0 && probe.DurationSeconds() > maxDur {
			return invalid(ReasonDurationExceeded, fmt.Sprintf("video is %.0fs long, the limit is %.0fs", probe.DurationSeconds(), maxDur))
		}
	case model.ClassAudio:
		if maxDur := v.limits.MaxAudioDuration.Seconds(); maxDur > 0 && probe.DurationSeconds() > maxDur {
			return invalid(ReasonDurationExceeded, fmt.Sprintf("audio is %.0fs long, the limit is %.0fs", probe.DurationSeconds(), maxDur))
		}
	}

	return nil
}

// InferClass derives the media class from the sniffed type. AR assets are
// containers (zip, json) and are only recognizable by extension.
func InferClass(mt *mimetype.MIME, ext string) model.MediaClass {
	if slices.Contains(arExtensions, ext) {
		return model.ClassARModel
	}

	base := baseMIME(mt)

	switch {
	case strings.HasPrefix(base, "image/"):
		return model.ClassImage
	case strings.HasPrefix(base, "video/"):
		return model.ClassVideo
	case strings.HasPrefix(base, "audio/"):
		return model.ClassAudio
	case strings.HasPrefix(base, "model/"):
		return model.ClassARModel
	case isAllowed(mt, archiveTypes):
		return model.ClassArchive
	}

	return model.ClassDocument
}

func isAllowed(mt *mimetype.MIME, allowed []string) bool {
	for _, a := range allowed {
		if mt.Is(a) {
			return true
		}
	}

	return false
}

func baseMIME(mt *mimetype.MIME) string {
	s, _, _ := strings.Cut(mt.String(), ";")
	return strings.TrimSpace(s)
}

// The declared extension is kept for AR assets, everything else gets the
// canonical one for its sniffed type
func normalizeExt(declared string, mt *mimetype.MIME) string {
	if slices.Contains(arExtensions, declared) {
		return declared
	}

	if ext := mt.Extension(); ext != "" {
		return ext
	}

	return declared
}
