package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Repackager splits a source video file into an fMP4 init segment plus
// media segments in outDir, without re-encoding. The production
// implementation shells out to ffmpeg; tests substitute a fake.
type Repackager interface {
	Repackage(ctx context.Context, src, outDir string, targetSeconds float64) error
}

// Prober reads container metadata (duration, codec) from a source file.
type Prober interface {
	Probe(ctx context.Context, src string) (MediaInfo, error)
}

// Thumbnailer captures a poster frame from a source file.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, src, dst string, atSeconds float64) error
}

// MediaInfo is the probed metadata the server needs: total duration and the
// video codec tag the client uses to build its decoder MIME string.
type MediaInfo struct {
	Duration   float64
	VideoCodec string
	AudioCodec string
	Width      int
	Height     int
}

// PlaylistName is the repackager's output playlist within the segment dir.
const PlaylistName = "index.m3u8"

// FFmpeg implements Repackager and Prober with the ffmpeg and ffprobe
// binaries.
type FFmpeg struct{}

// Repackage runs ffmpeg in stream-copy mode, producing init.mp4,
// seg_%05d.m4s, and index.m3u8 in outDir. Segment boundaries land on
// keyframes, so actual durations may deviate from the target.
func (FFmpeg) Repackage(ctx context.Context, src, outDir string, targetSeconds float64) error {
	if targetSeconds <= 0 {
		targetSeconds = 4
	}
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-loglevel", "error",
		"-i", src,
		"-c", "copy",
		"-f", "hls",
		"-hls_time", strconv.FormatFloat(targetSeconds, 'f', -1, 64),
		"-hls_playlist_type", "vod",
		"-hls_segment_type", "fmp4",
		"-hls_fmp4_init_filename", defaultInitFile,
		"-hls_segment_filename", outDir+"/seg_%05d.m4s",
		"-hls_list_size", "0",
		outDir+"/"+PlaylistName,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg repackage: %w: %s", err, out)
	}
	return nil
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecName string `json:"codec_name"`
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe runs ffprobe and extracts duration and codec names.
func (FFmpeg) Probe(ctx context.Context, src string) (MediaInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		src,
	)
	out, err := cmd.Output()
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe: %w", err)
	}

	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe output: %w", err)
	}

	var info MediaInfo
	info.Duration, _ = strconv.ParseFloat(res.Format.Duration, 64)
	for _, s := range res.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}
	return info, nil
}

// Thumbnail captures a single frame at the given offset into dst as an image.
func (FFmpeg) Thumbnail(ctx context.Context, src, dst string, atSeconds float64) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-loglevel", "error",
		"-ss", strconv.FormatFloat(atSeconds, 'f', 2, 64),
		"-i", src,
		"-vframes", "1",
		"-q:v", "2",
		dst,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg thumbnail: %w: %s", err, out)
	}
	return nil
}
