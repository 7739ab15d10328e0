package metadata

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

const (
	tempoSampleRate = 11025
	tempoMaxSeconds = 60
)

func (e *Extractor) audio(ctx context.Context, p string, res *Result) error {
	probe, err := e.prober.Probe(ctx, p)
	if err != nil {
		return err
	}

	res.Duration = probe.DurationSeconds()
	res.Metadata["duration"] = round(res.Duration, 3)
	res.Metadata["container"] = probe.Format.FormatName

	a := probe.FirstStream("audio")
	if a == nil {
		return errors.New("no audio stream found")
	}

	res.Metadata["codec"] = a.CodecName
	res.Metadata["sample_rate"] = a.SampleRateHz()
	res.Metadata["channels"] = a.Channels

	br := a.BitRateBps()
	if br == 0 {
		br = parseInt(probe.Format.BitRate)
	}
	if br > 0 {
		res.Metadata["bitrate"] = br
	}

	if e.ffmpeg == nil {
		return nil
	}

	// Tempo is a best effort estimate, a decode failure is not an
	// extraction failure
	samples, err := e.decodePCM(ctx, p)
	if err != nil {
		zap.L().Debug("Skipping tempo estimate", zap.Error(err))
		return nil
	}

	if bpm, ok := EstimateTempo(samples, tempoSampleRate); ok {
		res.Metadata["tempo_bpm"] = round(bpm, 1)
	}

	return nil
}

// decodePCM downmixes the first minute to mono 16 bit PCM
func (e *Extractor) decodePCM(ctx context.Context, p string) ([]int16, error) {
	var buf bytes.Buffer

	err := e.ffmpeg.Run(ctx, []string{
		"-v", "error",
		"-t", strconv.Itoa(tempoMaxSeconds),
		"-i", p,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(tempoSampleRate),
		"-f", "s16le",
		"pipe:1",
	}, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio, %w", err)
	}

	samples := make([]int16, buf.Len()/2)
	if err := binary.Read(&buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to read pcm samples, %w", err)
	}

	return samples, nil
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
