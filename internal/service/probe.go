package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ProbeResult is the subset of `ffprobe -show_format -show_streams` output
// the pipeline reads
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

type ProbeStream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width,omitempty"`
	Height       int               `json:"height,omitempty"`
	PixFmt       string            `json:"pix_fmt,omitempty"`
	RFrameRate   string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate string            `json:"avg_frame_rate,omitempty"`
	Duration     string            `json:"duration,omitempty"`
	BitRate      string            `json:"bit_rate,omitempty"`
	SampleRate   string            `json:"sample_rate,omitempty"`
	Channels     int               `json:"channels,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

type ProbeFormat struct {
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration,omitempty"`
	Size       string            `json:"size,omitempty"`
	BitRate    string            `json:"bit_rate,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// FirstStream returns the first stream of the given codec type
// ("video", "audio") or nil
func (p *ProbeResult) FirstStream(codecType string) *ProbeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == codecType {
			return &p.Streams[i]
		}
	}

	return nil
}

// DurationSeconds prefers the container duration and falls back to the
// longest stream
func (p *ProbeResult) DurationSeconds() float64 {
	if d, err := strconv.ParseFloat(p.Format.Duration, 64); err == nil && d > 0 {
		return d
	}

	var longest float64
	for _, s := range p.Streams {
		if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > longest {
			longest = d
		}
	}

	return longest
}

// Dimensions of the first video stream. Still images are reported by
// ffprobe as a single frame video stream.
func (p *ProbeResult) Dimensions() (int, int) {
	if s := p.FirstStream("video"); s != nil {
		return s.Width, s.Height
	}

	return 0, 0
}

// FrameRate parses ffprobe's "num/den" notation
func (s *ProbeStream) FrameRate() float64 {
	rate := s.AvgFrameRate
	if rate == "" || rate == "0/0" {
		rate = s.RFrameRate
	}

	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		f, _ := strconv.ParseFloat(rate, 64)
		return f
	}

	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}

	return n / d
}

func (s *ProbeStream) SampleRateHz() int {
	r, _ := strconv.Atoi(s.SampleRate)
	return r
}

func (s *ProbeStream) BitRateBps() int64 {
	r, _ := strconv.ParseInt(s.BitRate, 10, 64)
	return r
}

// FFprobe runs the ffprobe binary
type FFprobe struct {
	Path    string
	Timeout time.Duration
}

func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}

	return &FFprobe{Path: path, Timeout: time.Minute}
}

// Probe reads container and stream information without decoding frames
func (f *FFprobe) Probe(ctx context.Context, p string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.Path,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-i", p,
	)

	var stdOut, stdErr bytes.Buffer
	cmd.Stdout = &stdOut
	cmd.Stderr = &stdErr

	zap.L().Debug("Running ffprobe", zap.String("cmd", cmd.String()))

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed, %w (%s)", err, strings.TrimSpace(stdErr.String()))
	}

	var res ProbeResult
	if err := json.Unmarshal(stdOut.Bytes(), &res); err != nil {
		return nil, fmt.Errorf("malformed ffprobe output, %w", err)
	}

	return &res, nil
}

// GetDuration returns the duration in seconds of a media file
func (f *FFprobe) GetDuration(ctx context.Context, p string) (float64, error) {
	res, err := f.Probe(ctx, p)
	if err != nil {
		return 0, err
	}

	d := res.DurationSeconds()
	if d <= 0 {
		return 0, fmt.Errorf("no duration reported for %s", p)
	}

	return d, nil
}
