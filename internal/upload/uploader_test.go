package upload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/config"
	"github.com/rescale-labs/ultratransfer/internal/logging"
)

func TestUltraUploaderRequiresCheckCanUploadFirst(t *testing.T) {
	client, err := apiclient.New(config.New(), logging.NewDefault())
	if err != nil {
		t.Fatalf("apiclient.New failed: %v", err)
	}
	u := NewUltraUploader(client, 2)
	defer u.Shutdown()

	err = u.Upload("/tmp/whatever", "folder1", nil)
	if err != apiclient.ErrCheckCanUploadRequired {
		t.Fatalf("expected ErrCheckCanUploadRequired, got %v", err)
	}
}

func TestUltraUploaderHappyPath(t *testing.T) {
	var received int32

	var webhookURL string
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()
	webhookURL = webhook.URL

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/user/canUpload/") {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"can_upload": true,
				"webhooks": ["` + webhookURL + `"],
				"attachment_name": "att",
				"max_attachments": 10,
				"max_size": 8
			}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer api.Close()

	cfg := config.New()
	cfg.APIBaseURL = api.URL
	client, err := apiclient.New(cfg, logging.NewDefault())
	if err != nil {
		t.Fatalf("apiclient.New failed: %v", err)
	}

	u := NewUltraUploader(client, 4)
	defer u.Shutdown()

	if err := u.CheckCanUpload(context.Background(), "folder1"); err != nil {
		t.Fatalf("CheckCanUpload failed: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	content := []byte("0123456789abcdefghij") // 20 bytes, > max_size(8) so it splits into multiple chunks
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var finalStatus FileUploadStatus
	onComplete := func(fileID string, state *FileUploadState) {
		finalStatus = state.Status()
		wg.Done()
	}

	if err := u.Upload(path, "folder1", onComplete); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	waitOrTimeout(t, &wg, 5*time.Second)

	if finalStatus != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", finalStatus)
	}
	if atomic.LoadInt32(&received) == 0 {
		t.Fatal("expected at least one request to reach the webhook")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for upload to complete")
	}
}
