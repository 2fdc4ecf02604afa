package download

import (
	"context"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/config"
	"github.com/rescale-labs/ultratransfer/internal/logging"
)

// newEndToEndClient wires a metadata endpoint returning one three-fragment
// plaintext file and a CDN endpoint serving each fragment's body by
// attachment id, mirroring the happy-path scenario.
func newEndToEndClient(t *testing.T, crc uint32) *apiclient.Client {
	t.Helper()

	bodies := map[string]string{"a1": "aaaaaaaaaa", "a2": "bbbbbbbbbb", "a3": "cccccccccc"}

	var cdnURL string
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		w.Write([]byte(bodies[id]))
	}))
	t.Cleanup(cdn.Close)
	cdnURL = cdn.URL

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/items/ultraDownload":
			w.Write([]byte(`[{
				"id": "file-1",
				"name": "out.bin",
				"encryption_method": "plain",
				"size": 30,
				"crc32": ` + strconv.FormatUint(uint64(crc), 10) + `,
				"fragments": [
					{"message_id":"m1","attachment_id":"a1","offset":0,"sequence":1,"size":10},
					{"message_id":"m2","attachment_id":"a2","offset":10,"sequence":2,"size":10},
					{"message_id":"m3","attachment_id":"a3","offset":20,"sequence":3,"size":10}
				]
			}]`))
		default:
			// AttachmentSignedURL: path is /items/ultraDownload/attachments/{id}
			id := r.URL.Path[len("/items/ultraDownload/attachments/"):]
			w.Write([]byte(`{"url":"` + cdnURL + `/frag?id=` + id + `"}`))
		}
	}))
	t.Cleanup(api.Close)

	cfg := config.New()
	cfg.APIBaseURL = api.URL
	client, err := apiclient.New(cfg, logging.NewDefault())
	if err != nil {
		t.Fatalf("apiclient.New failed: %v", err)
	}
	return client
}

func TestUltraDownloaderHappyPath(t *testing.T) {
	plaintext := "aaaaaaaaaabbbbbbbbbbcccccccccc"
	crc := crc32.ChecksumIEEE([]byte(plaintext))
	client := newEndToEndClient(t, crc)

	tmp := t.TempDir()
	tempRoot := filepath.Join(tmp, "staging")
	outDir := filepath.Join(tmp, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	d := NewUltraDownloader(client, tempRoot, 4)
	defer d.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	onComplete := func(fileID string, state *FileState) { wg.Done() }

	if err := d.Download(context.Background(), "file-1", "", outDir, onComplete); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	waitOrTimeout(t, &wg, 5*time.Second)

	snap, ok := d.GetState("file-1")
	if !ok {
		t.Fatal("expected registered state")
	}
	if snap.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (err=%v)", snap.Status, snap.Err)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "out.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != plaintext {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

// TestUltraDownloaderFailedFragmentStillFiresOnComplete guards against a
// regression where a fatal fragment error (here, a 404 on the signed-URL
// fetch) never reaches the finalize queue and so never fires onComplete,
// wedging any caller waiting on it (e.g. the CLI's WaitGroup).
func TestUltraDownloaderFailedFragmentStillFiresOnComplete(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/items/ultraDownload":
			w.Write([]byte(`[{
				"id": "file-404",
				"name": "out.bin",
				"encryption_method": "plain",
				"size": 10,
				"crc32": 0,
				"fragments": [
					{"message_id":"m1","attachment_id":"missing","offset":0,"sequence":1,"size":10}
				]
			}]`))
		default:
			// AttachmentSignedURL fetch: always 404, simulating a fragment
			// whose attachment was deleted server-side.
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(api.Close)

	cfg := config.New()
	cfg.APIBaseURL = api.URL
	client, err := apiclient.New(cfg, logging.NewDefault())
	if err != nil {
		t.Fatalf("apiclient.New failed: %v", err)
	}

	tmp := t.TempDir()
	d := NewUltraDownloader(client, filepath.Join(tmp, "staging"), 4)
	defer d.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	onComplete := func(fileID string, state *FileState) { wg.Done() }

	if err := d.Download(context.Background(), "file-404", "", filepath.Join(tmp, "out"), onComplete); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	waitOrTimeout(t, &wg, 5*time.Second)

	snap, ok := d.GetState("file-404")
	if !ok {
		t.Fatal("expected registered state")
	}
	if snap.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", snap.Status)
	}
	if snap.Err == nil {
		t.Fatal("expected recorded error")
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
		t.Fatal("timed out waiting for download to complete")
	}
}
