// Package media resolves links on video platforms into downloadable media.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relaybot/internal/domain"

	"github.com/kkdai/youtube/v2"
)

// YouTubeConfig configures the YouTube audio resolver.
type YouTubeConfig struct {
	Client   *http.Client
	MaxBytes int64 // formats known to exceed this are skipped when possible
	Logger   *slog.Logger
}

// YouTube resolves YouTube links to their best audio-only stream.
type YouTube struct {
	client   youtube.Client
	maxBytes int64
	logger   *slog.Logger
}

// Track is a resolved audio stream.
type Track struct {
	ID       string
	Title    string
	Author   string
	Duration time.Duration
	MimeType string
	Bitrate  int
	Size     int64 // 0 when the platform does not declare it

	video  *youtube.Video
	format youtube.Format
}

// FileExt returns the file extension matching the stream's container.
func (t *Track) FileExt() string {
	if strings.HasPrefix(t.MimeType, "audio/webm") {
		return ".webm"
	}
	return ".m4a"
}

// FileName is a display name for the uploaded audio.
func (t *Track) FileName() string {
	title := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(t.Title))
	if title == "" {
		title = t.ID
	}
	return title + t.FileExt()
}

func NewYouTube(cfg YouTubeConfig) *YouTube {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &YouTube{
		client:   youtube.Client{HTTPClient: cfg.Client},
		maxBytes: cfg.MaxBytes,
		logger:   cfg.Logger,
	}
}

// Resolve looks up the video behind link and picks its audio stream.
func (y *YouTube) Resolve(ctx context.Context, link string) (*Track, error) {
	id, err := youtube.ExtractVideoID(strings.TrimSpace(link))
	if err != nil {
		return nil, &domain.Failure{
			Kind:  domain.FailureUnrecognized,
			Op:    "youtube.resolve",
			Err:   err,
			Reply: "youtube.invalidLink",
		}
	}

	video, err := y.client.GetVideoContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get video %s: %w", id, err)
	}

	format, ok := pickAudioFormat(video.Formats.WithAudioChannels(), y.maxBytes)
	if !ok {
		return nil, fmt.Errorf("video %s has no audio stream", id)
	}

	y.logger.Debug("youtube audio selected",
		"id", id,
		"mime", format.MimeType,
		"bitrate", format.Bitrate,
		"size", format.ContentLength,
	)

	return &Track{
		ID:       video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
		MimeType: format.MimeType,
		Bitrate:  format.Bitrate,
		Size:     format.ContentLength,
		video:    video,
		format:   format,
	}, nil
}

// Open starts streaming the track. The caller closes the reader.
func (y *YouTube) Open(ctx context.Context, t *Track) (io.ReadCloser, int64, error) {
	if t == nil || t.video == nil {
		return nil, 0, fmt.Errorf("track not resolved")
	}
	stream, size, err := y.client.GetStreamContext(ctx, t.video, &t.format)
	if err != nil {
		return nil, 0, fmt.Errorf("open stream: %w", err)
	}
	return stream, size, nil
}

// pickAudioFormat prefers audio-only streams, mp4 over other containers,
// and the highest bitrate whose declared size fits maxBytes. When nothing
// fits, the smallest stream is returned.
func pickAudioFormat(formats youtube.FormatList, maxBytes int64) (youtube.Format, bool) {
	var best, smallest youtube.Format
	var haveBest, haveSmallest bool

	score := func(f youtube.Format) int {
		s := 0
		if strings.HasPrefix(f.MimeType, "audio/") {
			s += 2
		}
		if strings.Contains(f.MimeType, "mp4") {
			s++
		}
		return s
	}

	for _, f := range formats {
		if !haveSmallest || score(f) > score(smallest) ||
			(score(f) == score(smallest) && f.Bitrate < smallest.Bitrate) {
			smallest, haveSmallest = f, true
		}
		if maxBytes > 0 && f.ContentLength > maxBytes {
			continue
		}
		if !haveBest || score(f) > score(best) ||
			(score(f) == score(best) && f.Bitrate > best.Bitrate) {
			best, haveBest = f, true
		}
	}
	if haveBest {
		return best, true
	}
	return smallest, haveSmallest
}
