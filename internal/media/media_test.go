package media

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"relaybot/internal/domain"

	"github.com/kkdai/youtube/v2"
)

func TestResolve_InvalidLinkIsUnrecognized(t *testing.T) {
	y := NewYouTube(YouTubeConfig{})
	_, err := y.Resolve(context.Background(), "https://youtu.be/")
	f, ok := domain.AsFailure(err)
	if !ok || f.Kind != domain.FailureUnrecognized || f.Reply != "youtube.invalidLink" {
		t.Fatalf("err = %v", err)
	}
}

func TestPickAudioFormat_PrefersAudioMP4HighestBitrateThatFits(t *testing.T) {
	formats := youtube.FormatList{
		{ItagNo: 18, MimeType: `video/mp4; codecs="avc1, mp4a"`, Bitrate: 500000, ContentLength: 1000},
		{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 128000, ContentLength: 3000},
		{ItagNo: 139, MimeType: `audio/mp4; codecs="mp4a.40.5"`, Bitrate: 48000, ContentLength: 1000},
		{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000, ContentLength: 2000},
	}
	got, ok := pickAudioFormat(formats, 5000)
	if !ok || got.ItagNo != 140 {
		t.Fatalf("picked itag %d, want 140", got.ItagNo)
	}

	got, _ = pickAudioFormat(formats, 2000)
	if got.ItagNo != 139 {
		t.Fatalf("with cap picked itag %d, want 139", got.ItagNo)
	}
}

func TestPickAudioFormat_FallsBackToSmallest(t *testing.T) {
	formats := youtube.FormatList{
		{ItagNo: 140, MimeType: "audio/mp4", Bitrate: 128000, ContentLength: 9000},
		{ItagNo: 139, MimeType: "audio/mp4", Bitrate: 48000, ContentLength: 8000},
	}
	got, ok := pickAudioFormat(formats, 100)
	if !ok || got.ItagNo != 139 {
		t.Fatalf("picked itag %d, want 139", got.ItagNo)
	}
	if _, ok := pickAudioFormat(nil, 100); ok {
		t.Fatal("empty list should yield no format")
	}
}

func TestTrack_FileName(t *testing.T) {
	tr := &Track{ID: "abc", Title: `AC/DC: "Thunder"`, MimeType: "audio/mp4"}
	if got := tr.FileName(); got != "AC_DC_ _Thunder_.m4a" {
		t.Errorf("FileName = %q", got)
	}
	tr = &Track{ID: "abc", MimeType: "audio/webm"}
	if got := tr.FileName(); got != "abc.webm" {
		t.Errorf("FileName = %q", got)
	}
}

func TestTikTok_ExtractionURLEscapesLink(t *testing.T) {
	tk := NewTikTok(TikTokConfig{Endpoint: "https://api.tiktok.download/v1/download"})
	got, err := tk.ExtractionURL("https://www.tiktok.com/@user/video/123?lang=en&x=1")
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(got)
	if u.Host != "api.tiktok.download" || u.Path != "/v1/download" {
		t.Errorf("url = %s", got)
	}
	if u.Query().Get("url") != "https://www.tiktok.com/@user/video/123?lang=en&x=1" {
		t.Errorf("url param = %q", u.Query().Get("url"))
	}
	if tk.Mode() != TikTokPassthrough {
		t.Errorf("default mode = %s", tk.Mode())
	}
}

func TestTikTok_Open(t *testing.T) {
	var gotLink string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLink = r.URL.Query().Get("url")
		if gotLink == "https://tiktok.com/bad" {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>blocked</html>"))
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	tk := NewTikTok(TikTokConfig{Endpoint: srv.URL + "/dl", Mode: TikTokFetch, Client: srv.Client()})
	body, _, err := tk.Open(context.Background(), "https://tiktok.com/v/1")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(body)
	body.Close()
	if string(data) != "mp4-bytes" || gotLink != "https://tiktok.com/v/1" {
		t.Errorf("data = %q, link = %q", data, gotLink)
	}

	if _, _, err := tk.Open(context.Background(), "https://tiktok.com/bad"); err == nil {
		t.Fatal("expected error for html response")
	}
}

func TestTikTok_OpenStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tk := NewTikTok(TikTokConfig{Endpoint: srv.URL, Client: srv.Client()})
	if _, _, err := tk.Open(context.Background(), "https://tiktok.com/v/1"); err == nil {
		t.Fatal("expected error for 502")
	}
}
