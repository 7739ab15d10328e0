// Package tagger derives tags for files from their names, text fields and
// technical metadata
package tagger

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/internal/similarity"
)

const (
	ConfidenceFilename = 0.6
	ConfidenceText     = 0.5
	ConfidenceTextStep = 0.1
	ConfidenceTextMax  = 0.8
	ConfidenceMetadata = 0.9
	ConfidenceManual   = 1.0

	minTagLength = 3
	maxTagLength = 49
)

type Candidate struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Candidates returns every tag the file suggests, deduplicated by name
// keeping the highest confidence, sorted by confidence then name
func Candidates(f *model.MediaFile) []Candidate {
	best := map[string]Candidate{}

	add := func(name string, confidence float64, source string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if n := utf8.RuneCountInString(name); n < minTagLength || n > maxTagLength {
			return
		}

		if cur, ok := best[name]; !ok || confidence > cur.Confidence {
			best[name] = Candidate{Name: name, Confidence: confidence, Source: source}
		}
	}

	for _, w := range filenameTokens(f.OriginalFilename) {
		add(w, ConfidenceFilename, "filename")
	}

	counts := map[string]int{}
	for _, w := range similarity.ContentWords(f.Title + " " + f.Description) {
		counts[w]++
	}
	for w, n := range counts {
		add(w, min(ConfidenceText+ConfidenceTextStep*float64(n-1), ConfidenceTextMax), "text")
	}

	for _, name := range metadataTags(f) {
		add(name, ConfidenceMetadata, "metadata")
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Name < out[j].Name
	})

	return out
}

// filenameTokens splits the normalized filename on separators and drops
// numbers, which are counters or camera sequence ids
func filenameTokens(name string) []string {
	var out []string

	for _, w := range similarity.Words(similarity.NormalizeFilename(name)) {
		if _, err := strconv.Atoi(w); err == nil {
			continue
		}
		if similarity.IsStopWord(w) {
			continue
		}

		out = append(out, w)
	}

	return out
}

func metadataTags(f *model.MediaFile) []string {
	tags := []string{string(f.MediaClass)}

	w, h, duration := f.Width, f.Height, f.Duration
	if v, ok := f.Metadata.Float("width"); ok && w == 0 {
		w = int(v)
	}
	if v, ok := f.Metadata.Float("height"); ok && h == 0 {
		h = int(v)
	}
	if v, ok := f.Metadata.Float("duration"); ok && duration == 0 {
		duration = v
	}

	switch f.MediaClass {
	case model.ClassImage:
		if w > 0 && h > 0 {
			tags = append(tags, aspectTag(w, h), resolutionBand(float64(w*h)/1e6))
		}
	case model.ClassVideo:
		if duration > 0 {
			tags = append(tags, videoDurationBand(duration))
		}
		if h > 0 {
			tags = append(tags, videoResolutionBand(w, h))
		}
	case model.ClassAudio:
		if duration > 0 {
			tags = append(tags, audioDurationBand(duration))
		}
		if bpm, ok := f.Metadata.Float("tempo_bpm"); ok && bpm > 0 {
			tags = append(tags, tempoBand(bpm))
		}
	}

	return tags
}

func aspectTag(w, h int) string {
	ratio := float64(w) / float64(h)

	switch {
	case ratio > 1.1:
		return "landscape"
	case ratio < 0.9:
		return "portrait"
	}

	return "square"
}

func resolutionBand(megapixels float64) string {
	switch {
	case megapixels >= 12:
		return "high_resolution"
	case megapixels >= 3:
		return "medium_resolution"
	}

	return "low_resolution"
}

func videoDurationBand(seconds float64) string {
	switch {
	case seconds < 60:
		return "short_video"
	case seconds < 600:
		return "medium_video"
	}

	return "long_video"
}

// Bands use the short side so portrait clips band like landscape ones.
// Names carry a suffix to clear the minimum tag length.
func videoResolutionBand(w, h int) string {
	short := h
	if w > 0 && w < h {
		short = w
	}

	switch {
	case short >= 2160:
		return "4k_video"
	case short >= 720:
		return "hd_video"
	}

	return "sd_video"
}

func audioDurationBand(seconds float64) string {
	if seconds < 300 {
		return "short_audio"
	}

	return "long_audio"
}

func tempoBand(bpm float64) string {
	switch {
	case bpm < 90:
		return "slow_tempo"
	case bpm < 130:
		return "moderate_tempo"
	}

	return "fast_tempo"
}
