package handler

import (
	"context"
	"fmt"

	"relaybot/internal/domain"
	"relaybot/internal/media"
)

// YouTube downloads the audio track of link and sends it as an audio file.
func (h *Handlers) YouTube(ctx context.Context, u domain.Update, link string) error {
	if h.youtube == nil {
		return domain.Fail(domain.FailureUnavailable, "youtube")
	}
	return h.fetchAudio(ctx, u.ChatID, link)
}

func (h *Handlers) fetchAudio(ctx context.Context, chatID int64, link string) error {
	ref, done, err := h.placeholder(ctx, chatID, "youtube.placeholder")
	if err != nil {
		return fmt.Errorf("youtube placeholder: %w", err)
	}
	defer done()

	return withReply(h.relayAudio(ctx, ref, link), "youtube", "youtube.failed")
}

func (h *Handlers) relayAudio(ctx context.Context, ref domain.MessageRef, link string) error {
	var track *media.Track
	err := h.call(ctx, "youtube", func(ctx context.Context) error {
		var err error
		track, err = h.youtube.Resolve(ctx, link)
		return err
	})
	if err != nil {
		return fmt.Errorf("resolve %s: %w", link, err)
	}
	if h.mediaMax > 0 && track.Size > h.mediaMax {
		return tooLarge("youtube.size", h.mediaMax, fmt.Errorf("declared size %d bytes", track.Size))
	}
	h.logger.Info("youtube track resolved", "chat_id", ref.ChatID, "video_id", track.ID, "mime", track.MimeType, "size", track.Size)
	h.edit(ctx, ref, h.catalog.T("youtube.downloading", track.Title))

	file, err := h.temp.Acquire(track.ID, track.FileExt())
	if err != nil {
		return err
	}
	defer file.Release()

	err = h.call(ctx, "youtube", func(ctx context.Context) error {
		stream, _, err := h.youtube.Open(ctx, track)
		if err != nil {
			return err
		}
		defer stream.Close()
		_, err = file.Fill(stream)
		return err
	})
	if err != nil {
		return sizeFailure("youtube.download", h.temp.MaxBytes(), fmt.Errorf("download audio %s: %w", track.ID, err))
	}
	if h.mediaMax > 0 && file.Size() > h.mediaMax {
		return tooLarge("youtube.download", h.mediaMax, fmt.Errorf("downloaded %d bytes", file.Size()))
	}

	audio := domain.Attachment{
		Path:    file.Path(),
		Name:    track.FileName(),
		Caption: h.catalog.T("youtube.caption", track.Title),
	}
	return h.call(ctx, "telegram", func(ctx context.Context) error {
		return h.messenger.SendAudio(ctx, ref.ChatID, audio)
	})
}

// TikTok sends the watermark-free video behind link, either as a URL the
// chat platform fetches itself or as an uploaded file.
func (h *Handlers) TikTok(ctx context.Context, u domain.Update, link string) error {
	if h.tiktok == nil {
		return domain.Fail(domain.FailureUnavailable, "tiktok")
	}
	ref, done, err := h.placeholder(ctx, u.ChatID, "tiktok.placeholder")
	if err != nil {
		return fmt.Errorf("tiktok placeholder: %w", err)
	}
	defer done()

	return withReply(h.relayVideo(ctx, ref, link), "tiktok", "tiktok.failed")
}

func (h *Handlers) relayVideo(ctx context.Context, ref domain.MessageRef, link string) error {
	video := domain.Attachment{Caption: h.catalog.T("tiktok.caption")}

	if h.tiktok.Mode() == media.TikTokFetch {
		file, err := h.temp.Acquire("tiktok", ".mp4")
		if err != nil {
			return err
		}
		defer file.Release()

		err = h.call(ctx, "tiktok", func(ctx context.Context) error {
			body, size, err := h.tiktok.Open(ctx, link)
			if err != nil {
				return err
			}
			defer body.Close()
			if h.mediaMax > 0 && size > h.mediaMax {
				return tooLarge("tiktok.size", h.mediaMax, fmt.Errorf("declared size %d bytes", size))
			}
			_, err = file.Fill(body)
			return err
		})
		if err != nil {
			return sizeFailure("tiktok.download", h.temp.MaxBytes(), fmt.Errorf("download tiktok video: %w", err))
		}
		if h.mediaMax > 0 && file.Size() > h.mediaMax {
			return tooLarge("tiktok.download", h.mediaMax, fmt.Errorf("downloaded %d bytes", file.Size()))
		}
		video.Path = file.Path()
		video.Name = "tiktok.mp4"
	} else {
		videoURL, err := h.tiktok.ExtractionURL(link)
		if err != nil {
			return fmt.Errorf("tiktok extraction url: %w", err)
		}
		video.URL = videoURL
	}

	h.edit(ctx, ref, h.catalog.T("tiktok.found"))
	return h.call(ctx, "telegram", func(ctx context.Context) error {
		return h.messenger.SendVideo(ctx, ref.ChatID, video)
	})
}
