package metadata

import (
	"context"
	"fmt"
	"os"
	"strings"

	"bitwise74/media-api/internal/model"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

var exifTypes = []string{"image/jpeg", "image/tiff", "image/heic", "image/heif"}

func (e *Extractor) image(ctx context.Context, f *model.MediaFile, p string, res *Result) error {
	probe, err := e.prober.Probe(ctx, p)
	if err != nil {
		return err
	}

	w, h := probe.Dimensions()
	if w == 0 || h == 0 {
		return fmt.Errorf("no image stream found")
	}

	res.Width, res.Height = w, h
	res.Metadata["width"] = w
	res.Metadata["height"] = h
	res.Metadata["megapixels"] = round(float64(w*h)/1e6, 2)
	res.Metadata["aspect_ratio"] = round(float64(w)/float64(h), 4)

	if s := probe.FirstStream("video"); s != nil {
		res.Metadata["format"] = s.CodecName
	}

	for _, t := range exifTypes {
		if f.MIMEType == t {
			// Missing EXIF is normal, only the decoded fields are kept
			if fields, err := readExif(p); err == nil {
				res.Metadata.Merge(fields)
			}
			break
		}
	}

	return nil
}

// readExif pulls the camera fields used for display and similarity
func readExif(p string) (map[string]any, error) {
	file, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		return nil, err
	}

	out := map[string]any{}

	for key, field := range map[string]exif.FieldName{
		"camera_make":  exif.Make,
		"camera_model": exif.Model,
		"lens":         exif.LensModel,
		"software":     exif.Software,
	} {
		if tag, err := x.Get(field); err == nil {
			if s, err := tag.StringVal(); err == nil {
				if s = strings.TrimSpace(strings.Trim(s, "\x00")); s != "" {
					out[key] = s
				}
			}
		}
	}

	if t, err := x.DateTime(); err == nil {
		out["taken_at"] = t.UTC().Format("2006-01-02T15:04:05Z")
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			out["orientation"] = v
		}
	}

	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if v, err := tag.Int(0); err == nil {
			out["iso"] = v
		}
	}

	for key, field := range map[string]exif.FieldName{
		"exposure_time": exif.ExposureTime,
		"f_number":      exif.FNumber,
		"focal_length":  exif.FocalLength,
	} {
		if tag, err := x.Get(field); err == nil {
			if v, ok := ratValue(tag); ok {
				out[key] = round(v, 4)
			}
		}
	}

	if lat, long, err := x.LatLong(); err == nil {
		out["gps_latitude"] = round(lat, 6)
		out["gps_longitude"] = round(long, 6)
	}

	return out, nil
}

func ratValue(tag *tiff.Tag) (float64, bool) {
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return 0, false
	}

	return float64(num) / float64(den), true
}
