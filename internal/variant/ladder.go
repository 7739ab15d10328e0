// Package variant renders the derived copies of an original: resized
// images, resolution tiers for video and bitrate tiers for audio
package variant

import (
	"fmt"
	"math"
	"strconv"
)

type ImageTier struct {
	Name    string
	Box     int // Longest side
	Quality int // 1-100
	Format  string
}

type VideoTier struct {
	Name    string
	Height  int
	Bitrate int // kbps ceiling
	CRF     int
}

type AudioTier struct {
	Name       string
	Bitrate    int // kbps
	SampleRate int
}

var (
	ImageLadder = []ImageTier{
		{Name: "thumbnail", Box: 150, Quality: 70},
		{Name: "small", Box: 400, Quality: 75},
		{Name: "medium", Box: 800, Quality: 80},
		{Name: "large", Box: 1200, Quality: 85},
	}

	WebpLadder = []ImageTier{
		{Name: "webp_small", Box: 400, Quality: 60, Format: "webp"},
		{Name: "webp_medium", Box: 800, Quality: 75, Format: "webp"},
	}

	// Ordered from the lowest tier, which always exists
	VideoLadder = []VideoTier{
		{Name: "240p", Height: 240, Bitrate: 400, CRF: 28},
		{Name: "360p", Height: 360, Bitrate: 800, CRF: 26},
		{Name: "480p", Height: 480, Bitrate: 1400, CRF: 24},
		{Name: "720p", Height: 720, Bitrate: 2800, CRF: 23},
		{Name: "1080p", Height: 1080, Bitrate: 5000, CRF: 22},
	}

	AudioLadder = []AudioTier{
		{Name: "audio_low", Bitrate: 64, SampleRate: 22050},
		{Name: "audio_medium", Bitrate: 128, SampleRate: 44100},
		{Name: "audio_high", Bitrate: 192, SampleRate: 44100},
	}
)

const videoThumbnailHeight = 360

// Plan is one variant to render
type Plan struct {
	Type    string
	Width   int
	Height  int
	Format  string // Output extension without the dot
	Quality int

	Video *VideoTier
	Audio *AudioTier
}

func (p Plan) Filename() string {
	return p.Type + "." + p.Format
}

func (p Plan) MIMEType() string {
	switch p.Format {
	case "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "mp4":
		return "video/mp4"
	case "mp3":
		return "audio/mpeg"
	}

	return "application/octet-stream"
}

// Params is stored on the variant row to describe how it was encoded
func (p Plan) Params() map[string]any {
	params := map[string]any{"format": p.Format}

	switch {
	case p.Video != nil:
		params["height"] = p.Height
		params["bitrate"] = strconv.Itoa(p.Video.Bitrate) + "k"
		params["crf"] = p.Video.CRF
	case p.Audio != nil:
		params["bitrate"] = strconv.Itoa(p.Audio.Bitrate) + "k"
		params["sample_rate"] = p.Audio.SampleRate
		params["codec"] = "mp3"
	default:
		params["quality"] = p.Quality
		params["box"] = max(p.Width, p.Height)
	}

	return params
}

// FitBox scales w x h so that the longest side fits box. Images are never
// upscaled.
func FitBox(w, h, box int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}

	longest := max(w, h)
	if longest <= box {
		return w, h
	}

	scale := float64(box) / float64(longest)
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))

	return min(nw, box), min(nh, box)
}

// PlanImage returns the image and webp tiers worth producing for a w x h
// source. A tier whose box is not smaller than the source is skipped, the
// thumbnail is always produced.
func PlanImage(w, h int, srcMIME string) []Plan {
	if w <= 0 || h <= 0 {
		return nil
	}

	format := "jpg"
	if srcMIME == "image/png" {
		format = "png"
	}

	longest := max(w, h)
	var plans []Plan

	for _, ladder := range [][]ImageTier{ImageLadder, WebpLadder} {
		for _, tier := range ladder {
			if tier.Box >= longest && tier.Name != "thumbnail" {
				continue
			}

			tw, th := FitBox(w, h, tier.Box)

			f := format
			if tier.Format != "" {
				f = tier.Format
			}

			plans = append(plans, Plan{
				Type:    tier.Name,
				Width:   tw,
				Height:  th,
				Format:  f,
				Quality: tier.Quality,
			})
		}
	}

	return plans
}

func even(v int) int {
	v &^= 1
	if v < 2 {
		return 2
	}

	return v
}

// PlanVideo returns the resolution tiers for a w x h source plus the
// poster thumbnail. Tiers at or above the source height are skipped except
// the lowest one, clamped to the source height.
func PlanVideo(w, h int) []Plan {
	if w <= 0 || h <= 0 {
		return nil
	}

	var plans []Plan

	for i := range VideoLadder {
		tier := VideoLadder[i]

		height := tier.Height
		if height >= h {
			if i > 0 {
				continue
			}
			height = h
		}

		height = even(height)
		width := even(int(math.Round(float64(w) * float64(height) / float64(h))))

		plans = append(plans, Plan{
			Type:   tier.Name,
			Width:  width,
			Height: height,
			Format: "mp4",
			Video:  &tier,
		})
	}

	th := even(min(videoThumbnailHeight, h))
	plans = append(plans, Plan{
		Type:   "thumbnail",
		Width:  even(int(math.Round(float64(w) * float64(th) / float64(h)))),
		Height: th,
		Format: "webp",
	})

	return plans
}

func PlanAudio() []Plan {
	plans := make([]Plan, len(AudioLadder))

	for i := range AudioLadder {
		plans[i] = Plan{
			Type:   AudioLadder[i].Name,
			Format: "mp3",
			Audio:  &AudioLadder[i],
		}
	}

	return plans
}

// jpegQScale maps a 1-100 quality to ffmpeg's mjpeg -q:v scale (2 best,
// 31 worst)
func jpegQScale(quality int) int {
	quality = min(max(quality, 1), 100)
	return 2 + int(math.Round(float64(100-quality)*29/99))
}

// ImageArgs renders a still image tier
func ImageArgs(input, output string, p Plan) []string {
	args := []string{
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", p.Width, p.Height),
	}

	switch p.Format {
	case "webp":
		args = append(args, "-c:v", "libwebp", "-quality", strconv.Itoa(p.Quality))
	case "png":
		args = append(args, "-compression_level", "9")
	default:
		args = append(args, "-q:v", strconv.Itoa(jpegQScale(p.Quality)))
	}

	return append(args, output)
}

// VideoArgs encodes a resolution tier with a bitrate ceiling
func VideoArgs(input, output, encoder string, p Plan) []string {
	if encoder == "" {
		encoder = "libx264"
	}

	t := p.Video
	args := []string{
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-vf", fmt.Sprintf("scale=%d:%d", p.Width, p.Height),
		"-c:v", encoder,
	}

	switch encoder {
	case "h264_nvenc", "hevc_nvenc":
		args = append(args, "-preset", "p5", "-rc", "vbr", "-cq", strconv.Itoa(t.CRF))
	default:
		args = append(args, "-preset", "medium", "-crf", strconv.Itoa(t.CRF), "-pix_fmt", "yuv420p")
	}

	args = append(args,
		"-maxrate", fmt.Sprintf("%dk", t.Bitrate),
		"-bufsize", fmt.Sprintf("%dk", t.Bitrate*2),
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-f", "mp4",
		output,
	)

	return args
}

// AudioArgs encodes a bitrate tier to mp3
func AudioArgs(input, output string, p Plan) []string {
	return []string{
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", p.Audio.Bitrate),
		"-ar", strconv.Itoa(p.Audio.SampleRate),
		"-f", "mp3",
		output,
	}
}
