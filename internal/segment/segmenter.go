package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"vod-server/internal/catalog"
)

var (
	// ErrSourceUnreadable means the video's source file is missing or
	// corrupt. Fatal for that video; other videos are unaffected.
	ErrSourceUnreadable = errors.New("source unreadable")

	// ErrSegmentOutOfRange means the requested index is >= the segment
	// count. Signals the natural end of the stream.
	ErrSegmentOutOfRange = errors.New("segment out of range")

	// ErrSegmentMissing means the index is valid per the cached boundaries
	// but the segment data is no longer available. Soft end-of-stream,
	// distinct from out-of-range.
	ErrSegmentMissing = errors.New("segment missing")
)

// entry is the per-video cache: boundary descriptors, file layout, and
// codec. Built once, then shared read-only across all sessions.
type entry struct {
	dir         string
	initFile    string
	files       []string
	descriptors []Descriptor
	codec       string
}

// Segmenter produces fMP4 init and media segments for catalog videos on
// demand. Boundary computation happens once per video under a single-flight
// guard; concurrent first viewers share one preparation run.
type Segmenter struct {
	root    string
	target  float64
	repack  Repackager
	prober  Prober
	log     *slog.Logger

	mu    sync.RWMutex
	cache map[int64]*entry
	group singleflight.Group
}

// New returns a Segmenter writing per-video segment caches under root.
// targetSeconds is the segment duration target (a tunable, not an
// invariant); <= 0 falls back to 4 seconds.
func New(root string, targetSeconds float64, repack Repackager, prober Prober, log *slog.Logger) *Segmenter {
	if targetSeconds <= 0 {
		targetSeconds = 4
	}
	return &Segmenter{
		root:   root,
		target: targetSeconds,
		repack: repack,
		prober: prober,
		log:    log,
		cache:  make(map[int64]*entry),
	}
}

// VideoDir returns the segment cache directory for a video: its recorded
// segment path if set, otherwise a directory derived from its id.
func (s *Segmenter) VideoDir(video catalog.Video) string {
	if video.SegmentPath != "" {
		return video.SegmentPath
	}
	return filepath.Join(s.root, "video_"+strconv.FormatInt(video.ID, 10))
}

// prepare returns the cached entry for video, building it exactly once even
// under concurrent first access.
func (s *Segmenter) prepare(ctx context.Context, video catalog.Video) (*entry, error) {
	s.mu.RLock()
	e, ok := s.cache[video.ID]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	v, err, _ := s.group.Do(strconv.FormatInt(video.ID, 10), func() (any, error) {
		s.mu.RLock()
		e, ok := s.cache[video.ID]
		s.mu.RUnlock()
		if ok {
			return e, nil
		}

		e, err := s.build(ctx, video)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cache[video.ID] = e
		s.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

// build repackages the source if no segment cache exists yet, then parses
// the playlist into descriptors and probes the codec.
func (s *Segmenter) build(ctx context.Context, video catalog.Video) (*entry, error) {
	dir := s.VideoDir(video)
	playlistPath := filepath.Join(dir, PlaylistName)

	if _, err := os.Stat(playlistPath); err != nil {
		if _, serr := os.Stat(video.FilePath); serr != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, serr)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
		}
		s.log.Info("repackaging source",
			slog.Int64("video_id", video.ID),
			slog.String("src", video.FilePath),
			slog.Float64("target_seconds", s.target))
		if err := s.repack.Repackage(ctx, video.FilePath, dir, s.target); err != nil {
			os.Remove(playlistPath)
			return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
		}
	}

	data, err := os.ReadFile(playlistPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	m, err := parsePlaylist(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}

	codec := video.Codec
	if codec == "" {
		info, err := s.prober.Probe(ctx, video.FilePath)
		if err != nil {
			s.log.Warn("codec probe failed", slog.Int64("video_id", video.ID), slog.String("error", err.Error()))
		} else {
			codec = info.VideoCodec
		}
	}

	return &entry{
		dir:         dir,
		initFile:    m.InitFile,
		files:       m.Files,
		descriptors: m.Descriptors,
		codec:       codec,
	}, nil
}

// Boundaries returns the ordered segment descriptor sequence for video.
// Deterministic for an unchanged source; computed once and cached.
func (s *Segmenter) Boundaries(ctx context.Context, video catalog.Video) ([]Descriptor, error) {
	e, err := s.prepare(ctx, video)
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, len(e.descriptors))
	copy(out, e.descriptors)
	return out, nil
}

// InitSegment returns the container initialization bytes and the codec tag.
// Clients need both before any media segment can be decoded.
func (s *Segmenter) InitSegment(ctx context.Context, video catalog.Video) ([]byte, string, error) {
	e, err := s.prepare(ctx, video)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(filepath.Join(e.dir, e.initFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: init segment", ErrSegmentMissing)
		}
		return nil, "", fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	return data, e.codec, nil
}

// MediaSegment returns the bytes of media segment index.
func (s *Segmenter) MediaSegment(ctx context.Context, video catalog.Video, index int) ([]byte, error) {
	e, err := s.prepare(ctx, video)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(e.files) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrSegmentOutOfRange, index, len(e.files))
	}
	data, err := os.ReadFile(filepath.Join(e.dir, e.files[index]))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: index %d", ErrSegmentMissing, index)
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	return data, nil
}

// SegmentForTime maps a time offset to a segment index using the cached
// boundaries, clamped to [0, N-1] for out-of-range t.
func (s *Segmenter) SegmentForTime(ctx context.Context, video catalog.Video, t float64) (int, error) {
	e, err := s.prepare(ctx, video)
	if err != nil {
		return 0, err
	}
	return DescriptorForTime(e.descriptors, t), nil
}

// Invalidate drops the cached entry for a video id. Called when a video is
// deleted or its source replaced.
func (s *Segmenter) Invalidate(videoID int64) {
	s.mu.Lock()
	delete(s.cache, videoID)
	s.mu.Unlock()
}
