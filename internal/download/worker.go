package download

import (
	"context"
	"time"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/pause"
	"github.com/rescale-labs/ultratransfer/internal/queue"
	"github.com/rescale-labs/ultratransfer/internal/throttle"
)

const (
	// maxFragmentRetries bounds how many times a rate-limit/service-
	// unavailable response requeues a fragment before its file is failed.
	maxFragmentRetries = 5

	// requeueSleep is the wait before a paused task is put back at the
	// tail of the queue, so a paused pool doesn't spin.
	requeueSleep = 50 * time.Millisecond

	// networkRetryDelay is the fixed backoff before requeuing a fragment
	// after a network/timeout failure. These don't count against
	// maxFragmentRetries since they're not a sign of server overload.
	networkRetryDelay = 5 * time.Second
)

// registry is the read side of UltraDownloader's long-lived maps, the
// slice DownloadWorker needs without depending on the coordinator type
// itself (which in turn depends on the worker pool).
type registry interface {
	state(fileID string) (*FileState, bool)
	record(fileID string) (*FileRecord, bool)
	enqueueFinalize(fileID string)
}

// DownloadWorker pulls FragmentTask values off a shared queue and drives
// them to completion (or requeue, or failure) one at a time.
type DownloadWorker struct {
	queue        *queue.Queue[*FragmentTask]
	downloader   *FragmentDownloader
	throttle     *throttle.State
	globalPause  *pause.Gate
	reg          registry
	fragmentPath func(fileDir string, sequence int) string
}

func newDownloadWorker(q *queue.Queue[*FragmentTask], downloader *FragmentDownloader, th *throttle.State, globalPause *pause.Gate, reg registry) *DownloadWorker {
	return &DownloadWorker{
		queue:        q,
		downloader:   downloader,
		throttle:     th,
		globalPause:  globalPause,
		reg:          reg,
		fragmentPath: fragmentPartPath,
	}
}

// Run drains the queue until it receives a nil sentinel task.
func (w *DownloadWorker) Run(ctx context.Context) {
	for {
		task := w.queue.Get()
		if task == nil {
			w.queue.TaskDone()
			return
		}
		w.handle(ctx, task)
	}
}

// handle processes exactly one Get. Every return path calls TaskDone exactly
// once; requeue paths pair that with a fresh Put (which Put marks unfinished
// again on its own).
func (w *DownloadWorker) handle(ctx context.Context, task *FragmentTask) {
	state, ok := w.reg.state(task.FileID)
	if !ok || state.Cancelled() {
		w.queue.TaskDone()
		return
	}

	if !w.globalPause.IsOpen() || !state.Pause.IsOpen() {
		w.queue.TaskDone()
		time.Sleep(requeueSleep)
		w.queue.Put(task)
		return
	}

	state.SetStatus(StatusDownloading)

	record, ok := w.reg.record(task.FileID)
	if !ok {
		w.queue.TaskDone()
		return
	}
	destPath := w.fragmentPath(record.FileDir, task.Fragment.Sequence)

	n, err := w.downloader.Download(ctx, task, destPath, w.globalPause, state.Pause, state.cancel)
	if err != nil {
		w.onError(task, state, err)
		return
	}

	w.throttle.SignalBytes(n)
	if state.RecordFragment(n) {
		w.reg.enqueueFinalize(task.FileID)
	}
	w.queue.TaskDone()
}

// onError interprets a fragment fetch failure and either requeues task
// (with or without bumping its retry counter) or fails the owning file.
// Exactly one of TaskDone/requeue pair happens per call.
func (w *DownloadWorker) onError(task *FragmentTask, state *FileState, err error) {
	switch e := err.(type) {
	case *apiclient.RateLimitError:
		w.retryWithWait(task, state, e.Wait)
	case *apiclient.ServiceUnavailableError:
		w.retryWithWait(task, state, e.Wait)
	case *apiclient.NetworkError:
		w.retryWithoutBump(task, state)
	case *apiclient.ServerTimeoutError:
		w.retryWithoutBump(task, state)
	default:
		state.Fail(err)
		w.queue.TaskDone()
	}
}

func (w *DownloadWorker) retryWithWait(task *FragmentTask, state *FileState, wait time.Duration) {
	w.throttle.SignalError()
	state.SetStatus(StatusRetryingServer)
	time.Sleep(wait)

	task.Retries++
	w.queue.TaskDone()
	if task.Retries >= maxFragmentRetries {
		state.Fail(&apiclient.ConfigurationError{Msg: "fragment retry limit exceeded"})
		return
	}
	w.queue.Put(task)
}

func (w *DownloadWorker) retryWithoutBump(task *FragmentTask, state *FileState) {
	state.SetStatus(StatusRetryingNetwork)
	time.Sleep(networkRetryDelay)
	w.queue.TaskDone()
	w.queue.Put(task)
}
