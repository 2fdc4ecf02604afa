package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/config"
	"github.com/rescale-labs/ultratransfer/internal/logging"
	"github.com/rescale-labs/ultratransfer/internal/pause"
	"github.com/rescale-labs/ultratransfer/internal/queue"
	"github.com/rescale-labs/ultratransfer/internal/throttle"
)

// fakeRegistry is a minimal in-memory registry implementation for worker
// tests, standing in for UltraDownloader's long-lived maps.
type fakeRegistry struct {
	mu              sync.Mutex
	states          map[string]*FileState
	records         map[string]*FileRecord
	finalizeEnqueue int32
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{states: map[string]*FileState{}, records: map[string]*FileRecord{}}
}

func (r *fakeRegistry) state(id string) (*FileState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[id]
	return s, ok
}

func (r *fakeRegistry) record(id string) (*FileRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

func (r *fakeRegistry) enqueueFinalize(id string) {
	atomic.AddInt32(&r.finalizeEnqueue, 1)
}

func newWorkerTestClient(t *testing.T, cdnHandler http.HandlerFunc) *apiclient.Client {
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
	return client
}

func TestDownloadWorkerRetriesAfterRateLimitThenSucceeds(t *testing.T) {
	var attempts int32
	client := newWorkerTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("aaaaaaaaaa"))
	})

	tmp := t.TempDir()
	reg := newFakeRegistry()
	state := NewFileState("f1", 1, 10, nil)
	reg.states["f1"] = state
	reg.records["f1"] = &FileRecord{
		FileInfo: FileInfo{ID: "f1", Fragments: []FragmentInfo{{Sequence: 1, Size: 10}}},
		FileDir:  tmp,
	}

	q := queue.New[*FragmentTask]()
	th := throttle.New(throttle.DefaultWindow)
	downloader := NewFragmentDownloader(client)
	worker := newDownloadWorker(q, downloader, th, pause.NewGate(), reg)

	task := &FragmentTask{FileID: "f1", Fragment: FragmentInfo{Sequence: 1, Size: 10, AttachmentID: "a1"}}
	q.Put(task)

	go worker.Run(context.Background())

	q.Join()
	q.Put(nil) // stop the worker

	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Fatalf("expected 2 attempts (429 then success), got %d", got)
	}
	if task.Retries != 1 {
		t.Fatalf("expected retry counter = 1, got %d", task.Retries)
	}
	if th.ErrorRate() != 1 {
		t.Fatalf("expected exactly 1 hard-error signaled, got %d", th.ErrorRate())
	}
	if state.FragmentsDownloaded != 1 {
		t.Fatalf("expected fragment recorded complete, got %d", state.FragmentsDownloaded)
	}
	if atomic.LoadInt32(&reg.finalizeEnqueue) != 1 {
		t.Fatalf("expected file enqueued for finalize exactly once, got %d", reg.finalizeEnqueue)
	}
}

func TestDownloadWorkerDiscardsTaskForCancelledFile(t *testing.T) {
	client := newWorkerTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the CDN for a cancelled file")
	})

	reg := newFakeRegistry()
	state := NewFileState("f1", 1, 10, nil)
	state.Cancel()
	reg.states["f1"] = state

	q := queue.New[*FragmentTask]()
	th := throttle.New(throttle.DefaultWindow)
	downloader := NewFragmentDownloader(client)
	worker := newDownloadWorker(q, downloader, th, pause.NewGate(), reg)

	task := &FragmentTask{FileID: "f1", Fragment: FragmentInfo{Sequence: 1, Size: 10, AttachmentID: "a1"}}
	q.Put(task)

	go worker.Run(context.Background())
	q.Join()
	q.Put(nil)
}
