package similarity

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Tried in order, dates before counters so "-2024-01-01" is not eaten
	// as a "-01" counter
	filenameSuffixes = []*regexp.Regexp{
		regexp.MustCompile(`[_\-\s]\d{8}[_\-]\d{6}$`),
		regexp.MustCompile(`[_\-\s]\d{4}-\d{2}-\d{2}$`),
		regexp.MustCompile(`[_\-\s]\d{8}$`),
		regexp.MustCompile(`\s*\(\d+\)$`),
		regexp.MustCompile(`[_\-\s]+copy(\s*\d+)?$`),
		regexp.MustCompile(`[_\-]\d{1,3}$`),
	}

	separators = regexp.MustCompile(`[_\-.\s]+`)
)

// NormalizeFilename reduces a filename to the part that identifies the
// content: no extension, trailing counters, copy markers or date stamps
func NormalizeFilename(name string) string {
	name = strings.ToLower(strings.TrimSpace(filepath.Base(name)))
	name = strings.TrimSuffix(name, filepath.Ext(name))

	for changed := true; changed; {
		changed = false

		for _, re := range filenameSuffixes {
			if loc := re.FindStringIndex(name); loc != nil && loc[0] > 0 {
				name = name[:loc[0]]
				changed = true
				break
			}
		}
	}

	return strings.TrimSpace(separators.ReplaceAllString(name, " "))
}

// FilenameSimilarity compares two filenames after normalization
func FilenameSimilarity(a, b string) float64 {
	na, nb := NormalizeFilename(a), NormalizeFilename(b)
	if na == "" || nb == "" {
		return 0
	}

	return Ratio(na, nb)
}
