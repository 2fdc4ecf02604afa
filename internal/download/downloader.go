package download

import (
	"context"
	"fmt"
	"sync"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/autoscaler"
	"github.com/rescale-labs/ultratransfer/internal/pause"
	"github.com/rescale-labs/ultratransfer/internal/queue"
	"github.com/rescale-labs/ultratransfer/internal/throttle"
)

const (
	minDownloadWorkers  = 1
	finalizeWorkerCount = 2
)

// UltraDownloader is the top-level coordinator: it owns the long-lived
// per-file maps, the fragment and finalize queues, the worker pools, and
// the AutoScaler that sizes the download pool.
type UltraDownloader struct {
	tempRoot string

	metadata *MetadataFetcher

	throttle *throttle.State
	scaler   *autoscaler.AutoScaler

	fragQueue     *queue.Queue[*FragmentTask]
	finalizeQueue *queue.Queue[*finalizeTask]

	globalPause *pause.Gate

	mu      sync.Mutex
	states  map[string]*FileState
	records map[string]*FileRecord

	downloadWorkers int
	ctx             context.Context
	cancel          context.CancelFunc
}

// maxDownloadWorkers mirrors the host-capacity derivation in §4.3: 2x the
// account's Discord bot count, since each bot is a distinct rate-limit
// bucket the engine can parallelize across.
func maxDownloadWorkers(botCount int) int {
	if botCount <= 0 {
		return minDownloadWorkers
	}
	return 2 * botCount
}

// NewUltraDownloader builds a downloader rooted at tempRoot, fetching
// metadata/fragments via client, with a pool sized between min and max
// download workers.
func NewUltraDownloader(client *apiclient.Client, tempRoot string, maxWorkers int) *UltraDownloader {
	ctx, cancel := context.WithCancel(context.Background())

	d := &UltraDownloader{
		tempRoot:      tempRoot,
		metadata:      NewMetadataFetcher(client),
		throttle:      throttle.New(throttle.DefaultWindow),
		fragQueue:     queue.New[*FragmentTask](),
		finalizeQueue: queue.New[*finalizeTask](),
		globalPause:   pause.NewGate(),
		states:        make(map[string]*FileState),
		records:       make(map[string]*FileRecord),
		ctx:           ctx,
		cancel:        cancel,
	}

	downloader := NewFragmentDownloader(client)
	finalizer := NewFileFinalizer()

	for i := 0; i < minDownloadWorkers; i++ {
		d.startDownloadWorker(downloader)
	}
	for i := 0; i < finalizeWorkerCount; i++ {
		go newFinalizeWorker(d.finalizeQueue, finalizer, d).Run()
	}

	d.scaler = autoscaler.New(d.throttle, minDownloadWorkers, maxWorkers, minDownloadWorkers,
		func() { d.startDownloadWorker(downloader) },
		d.killOneDownloadWorker,
	)
	d.scaler.Start()

	return d
}

func (d *UltraDownloader) startDownloadWorker(downloader *FragmentDownloader) {
	d.mu.Lock()
	d.downloadWorkers++
	d.mu.Unlock()
	w := newDownloadWorker(d.fragQueue, downloader, d.throttle, d.globalPause, d)
	go w.Run(d.ctx)
}

// killOneDownloadWorker retires exactly one worker via the sentinel
// protocol and decrements the live-worker bookkeeping Shutdown relies on.
func (d *UltraDownloader) killOneDownloadWorker() {
	d.mu.Lock()
	if d.downloadWorkers > 0 {
		d.downloadWorkers--
	}
	d.mu.Unlock()
	d.fragQueue.Put(nil)
}

// registry implementation, backing DownloadWorker/FinalizeWorker's view of
// the long-lived maps.

func (d *UltraDownloader) state(fileID string) (*FileState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.states[fileID]
	return s, ok
}

func (d *UltraDownloader) record(fileID string) (*FileRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.records[fileID]
	return r, ok
}

func (d *UltraDownloader) enqueueFinalize(fileID string) {
	d.finalizeQueue.Put(&finalizeTask{fileID: fileID})
}

// Download resolves item (an item id), plans its fragments against
// tempRoot, merges its state/record into the long-lived maps, and enqueues
// whatever work remains. onComplete fires once, when the file's download
// reaches a terminal status.
func (d *UltraDownloader) Download(ctx context.Context, item string, password string, targetDir string, onComplete OnCompleteFunc) error {
	infos, err := d.metadata.Fetch(ctx, []string{item}, map[string]string{item: password})
	if err != nil {
		return err
	}

	planner := NewTaskPlanner(d.tempRoot, targetDir)
	for _, info := range infos {
		plan, err := planner.Plan(info, password, onComplete)
		if err != nil {
			return fmt.Errorf("plan %s: %w", info.ID, err)
		}

		d.mu.Lock()
		if _, exists := d.states[info.ID]; exists {
			d.mu.Unlock()
			return fmt.Errorf("file %s already registered", info.ID)
		}
		d.states[info.ID] = plan.State
		d.records[info.ID] = plan.Record
		d.mu.Unlock()

		if plan.FullyPresent {
			d.enqueueFinalize(info.ID)
			continue
		}
		for _, task := range plan.MissingTasks {
			d.fragQueue.Put(task)
		}
	}
	return nil
}

// PauseAll closes the global pause gate and immediately sets every file in
// DOWNLOADING to PAUSED; workers see the closed gate at their next check.
func (d *UltraDownloader) PauseAll() {
	d.globalPause.Close()
	d.forEachState(func(s *FileState) {
		if s.Status() == StatusDownloading {
			s.SetStatus(StatusPaused)
		}
	})
}

// ResumeAll reopens the global pause gate.
func (d *UltraDownloader) ResumeAll() {
	d.globalPause.Open()
	d.forEachState(func(s *FileState) {
		if s.Status() == StatusPaused {
			s.SetStatus(StatusDownloading)
		}
	})
}

// PauseFile closes one file's per-file pause gate.
func (d *UltraDownloader) PauseFile(fileID string) {
	if s, ok := d.state(fileID); ok {
		s.Pause.Close()
		s.SetStatus(StatusPaused)
	}
}

// ResumeFile reopens one file's per-file pause gate.
func (d *UltraDownloader) ResumeFile(fileID string) {
	if s, ok := d.state(fileID); ok {
		s.Pause.Open()
		s.SetStatus(StatusDownloading)
	}
}

// CancelFile marks fileID cancelled; in-flight fragment writes notice at
// the next chunk boundary and stop.
func (d *UltraDownloader) CancelFile(fileID string) {
	if s, ok := d.state(fileID); ok {
		s.Cancel()
	}
}

// GetState returns a point-in-time snapshot of one file's progress.
func (d *UltraDownloader) GetState(fileID string) (Snapshot, bool) {
	s, ok := d.state(fileID)
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// GetAllStates returns a point-in-time snapshot of every registered file's
// progress, keyed by file id.
func (d *UltraDownloader) GetAllStates() map[string]Snapshot {
	d.mu.Lock()
	ids := make([]string, 0, len(d.states))
	for id := range d.states {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	out := make(map[string]Snapshot, len(ids))
	for _, id := range ids {
		if s, ok := d.state(id); ok {
			out[id] = s.Snapshot()
		}
	}
	return out
}

func (d *UltraDownloader) forEachState(fn func(*FileState)) {
	d.mu.Lock()
	states := make([]*FileState, 0, len(d.states))
	for _, s := range d.states {
		states = append(states, s)
	}
	d.mu.Unlock()
	for _, s := range states {
		fn(s)
	}
}

// Shutdown stops the AutoScaler, retires every worker with a sentinel, and
// waits for both queues to drain before returning.
func (d *UltraDownloader) Shutdown() {
	d.scaler.Stop()

	d.mu.Lock()
	workers := d.downloadWorkers
	d.mu.Unlock()
	for i := 0; i < workers; i++ {
		d.fragQueue.Put(nil)
	}
	for i := 0; i < finalizeWorkerCount; i++ {
		d.finalizeQueue.Put(nil)
	}

	d.fragQueue.Join()
	d.finalizeQueue.Join()
	d.cancel()
}
