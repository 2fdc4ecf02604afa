package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/config"
	"github.com/rescale-labs/ultratransfer/internal/logging"
	"github.com/rescale-labs/ultratransfer/internal/pause"
)

func newFragmentTestClient(t *testing.T, cdnHandler http.HandlerFunc) (*apiclient.Client, string) {
	t.Helper()
	cdn := httptest.NewServer(cdnHandler)
	t.Cleanup(cdn.Close)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"url":"` + cdn.URL + `/frag"}`))
	}))
	t.Cleanup(api.Close)

	cfg := config.New()
	cfg.APIBaseURL = api.URL
	client, err := apiclient.New(cfg, logging.NewDefault())
	if err != nil {
		t.Fatalf("apiclient.New failed: %v", err)
	}
	return client, cdn.URL
}

func TestFragmentDownloaderWritesBody(t *testing.T) {
	client, _ := newFragmentTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("aaaaaaaaaa"))
	})
	downloader := NewFragmentDownloader(client)

	tmp := t.TempDir()
	dest := filepath.Join(tmp, "1.part")
	task := &FragmentTask{FileID: "f1", Fragment: FragmentInfo{Sequence: 1, Size: 10, AttachmentID: "a1"}}

	n, err := downloader.Download(context.Background(), task, dest, pause.NewGate(), pause.NewGate(), pause.NewToken())
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 bytes, got %d", n)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "aaaaaaaaaa" {
		t.Fatalf("got %q", got)
	}
}

func TestFragmentDownloaderMapsRateLimit(t *testing.T) {
	client, _ := newFragmentTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	downloader := NewFragmentDownloader(client)

	tmp := t.TempDir()
	dest := filepath.Join(tmp, "1.part")
	task := &FragmentTask{FileID: "f1", Fragment: FragmentInfo{Sequence: 1, Size: 10, AttachmentID: "a1"}}

	_, err := downloader.Download(context.Background(), task, dest, pause.NewGate(), pause.NewGate(), pause.NewToken())
	rlErr, ok := err.(*apiclient.RateLimitError)
	if !ok {
		t.Fatalf("expected *apiclient.RateLimitError, got %T (%v)", err, err)
	}
	if rlErr.Wait.Seconds() != 3 {
		t.Fatalf("expected 3s wait, got %s", rlErr.Wait)
	}
}

func TestFragmentDownloaderReturnsZeroWhenCancelledUpfront(t *testing.T) {
	client, _ := newFragmentTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the CDN when already cancelled")
	})
	downloader := NewFragmentDownloader(client)

	cancel := pause.NewToken()
	cancel.Cancel()

	tmp := t.TempDir()
	dest := filepath.Join(tmp, "1.part")
	task := &FragmentTask{FileID: "f1", Fragment: FragmentInfo{Sequence: 1, Size: 10, AttachmentID: "a1"}}

	n, err := downloader.Download(context.Background(), task, dest, pause.NewGate(), pause.NewGate(), cancel)
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil), got (%d, %v)", n, err)
	}
}
