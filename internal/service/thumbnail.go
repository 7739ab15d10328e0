// Package service contains stuff related to the background processing
// of the application
package service

import (
	"fmt"

	"bitwise74/media-api/pkg/util"
)

// ThumbnailOffset picks the frame used as a video poster: 5 seconds in or
// 10% of the duration for shorter clips
func ThumbnailOffset(duration float64) float64 {
	if duration <= 0 {
		return 0
	}

	return min(5, duration*0.1)
}

// ThumbnailArgs grabs a single frame at offset and scales it to height,
// keeping the width even
func ThumbnailArgs(input, output string, offset float64, height int) []string {
	return []string{
		"-loglevel", "error",
		"-y",
		"-ss", util.FloatToTimestamp(offset),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		"-vf", fmt.Sprintf("scale=-2:%d", height),
		output,
	}
}
