package similarity

import (
	"math"
	"sort"
	"strings"

	"bitwise74/media-api/internal/model"
)

const (
	WeightTitle       = 0.3
	WeightDescription = 0.3
	WeightMetadata    = 0.2
	WeightTags        = 0.2
)

// Metadata keys worth comparing between two files of the same class
var comparableKeys = []string{
	"width", "height", "duration", "aspect_ratio", "megapixels", "frame_rate",
	"sample_rate", "channels", "bitrate", "tempo_bpm",
	"format", "container", "codec", "video_codec", "audio_codec",
	"camera_make", "camera_model", "lens",
}

// Item is what the scorer looks at for one file
type Item struct {
	Title       string
	Description string
	Metadata    model.JSONMap
	Tags        []string
}

func ItemOf(f *model.MediaFile, tags []string) Item {
	return Item{
		Title:       f.Title,
		Description: f.Description,
		Metadata:    f.Metadata,
		Tags:        tags,
	}
}

// Score is the weighted similarity of a and b. Signals missing on either
// side are left out and the remaining weights renormalized. The returned
// map holds the individual signal values.
func Score(a, b Item) (float64, map[string]float64) {
	signals := map[string]float64{}
	var sum, weights float64

	add := func(name string, weight, value float64) {
		signals[name] = value
		sum += weight * value
		weights += weight
	}

	ta, tb := strings.ToLower(strings.TrimSpace(a.Title)), strings.ToLower(strings.TrimSpace(b.Title))
	if ta != "" && tb != "" {
		add("title", WeightTitle, Ratio(ta, tb))
	}

	da, db := Tokens(a.Description), Tokens(b.Description)
	if len(da) > 0 && len(db) > 0 {
		add("description", WeightDescription, Jaccard(da, db))
	}

	if v, ok := metadataSimilarity(a.Metadata, b.Metadata); ok {
		add("metadata", WeightMetadata, v)
	}

	if len(a.Tags) > 0 && len(b.Tags) > 0 {
		add("tags", WeightTags, Jaccard(a.Tags, b.Tags))
	}

	if weights == 0 {
		return 0, signals
	}

	return sum / weights, signals
}

// metadataSimilarity averages per key similarity over the comparable keys
// both sides have. Numbers compare by relative difference, strings by
// equality.
func metadataSimilarity(a, b model.JSONMap) (float64, bool) {
	keys := make([]string, 0, len(comparableKeys))
	for _, k := range comparableKeys {
		if _, ok := a[k]; !ok {
			continue
		}
		if _, ok := b[k]; !ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var total float64
	n := 0

	for _, k := range keys {
		if fa, ok := a.Float(k); ok {
			if fb, ok := b.Float(k); ok {
				total += numericSimilarity(fa, fb)
				n++
				continue
			}
		}

		sa, okA := a.Text(k)
		sb, okB := b.Text(k)
		if !okA || !okB {
			continue
		}

		if strings.EqualFold(strings.TrimSpace(sa), strings.TrimSpace(sb)) {
			total++
		}
		n++
	}

	if n == 0 {
		return 0, false
	}

	return total / float64(n), true
}

func numericSimilarity(a, b float64) float64 {
	m := math.Max(math.Abs(a), math.Abs(b))
	if m == 0 {
		return 1
	}

	return math.Max(0, 1-math.Abs(a-b)/m)
}
