package metadata

import (
	"context"
	"errors"
)

func (e *Extractor) video(ctx context.Context, p string, res *Result) error {
	probe, err := e.prober.Probe(ctx, p)
	if err != nil {
		return err
	}

	res.Duration = probe.DurationSeconds()
	res.Metadata["duration"] = round(res.Duration, 3)
	res.Metadata["container"] = probe.Format.FormatName

	if br := parseInt(probe.Format.BitRate); br > 0 {
		res.Metadata["bitrate"] = br
	}

	streams := make([]map[string]any, 0, len(probe.Streams))
	for _, s := range probe.Streams {
		streams = append(streams, map[string]any{
			"index": s.Index,
			"type":  s.CodecType,
			"codec": s.CodecName,
		})
	}
	res.Metadata["streams"] = streams

	v := probe.FirstStream("video")
	if v == nil {
		return errors.New("no video stream found")
	}

	res.Width, res.Height = v.Width, v.Height
	res.Metadata["width"] = v.Width
	res.Metadata["height"] = v.Height
	res.Metadata["video_codec"] = v.CodecName
	res.Metadata["frame_rate"] = round(v.FrameRate(), 3)
	if v.PixFmt != "" {
		res.Metadata["pix_fmt"] = v.PixFmt
	}
	if v.Height > 0 {
		res.Metadata["aspect_ratio"] = round(float64(v.Width)/float64(v.Height), 4)
	}

	a := probe.FirstStream("audio")
	res.Metadata["has_audio"] = a != nil
	if a != nil {
		res.Metadata["audio_codec"] = a.CodecName
		res.Metadata["sample_rate"] = a.SampleRateHz()
		res.Metadata["channels"] = a.Channels
		if br := a.BitRateBps(); br > 0 {
			res.Metadata["audio_bitrate"] = br
		}
	}

	return nil
}
