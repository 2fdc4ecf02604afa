package upload

import (
	"context"
	"time"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/pause"
	"github.com/rescale-labs/ultratransfer/internal/queue"
	"github.com/rescale-labs/ultratransfer/internal/throttle"
)

const (
	maxRequestRetries  = 5
	uploadRequeueSleep = 50 * time.Millisecond
	uploadNetworkRetry = 5 * time.Second
)

// uploadRegistry is the read side of UltraUploader's long-lived state,
// including the shared DiscordUploader - resolved per call rather than
// captured at worker construction, since the first worker pool starts
// before CheckCanUpload has produced one.
type uploadRegistry interface {
	uploadState(fileID string) (*FileUploadState, bool)
	discordUploader() *DiscordUploader
}

// UploadWorker (C12) pulls DiscordRequest values off a shared queue and
// drives each to completion, requeue, or failure.
type UploadWorker struct {
	queue       *queue.Queue[*DiscordRequest]
	throttle    *throttle.State
	globalPause *pause.Gate
	reg         uploadRegistry
	fileIDs     func(req *DiscordRequest) []string
}

func newUploadWorker(q *queue.Queue[*DiscordRequest], th *throttle.State, globalPause *pause.Gate, reg uploadRegistry, fileIDs func(*DiscordRequest) []string) *UploadWorker {
	return &UploadWorker{queue: q, throttle: th, globalPause: globalPause, reg: reg, fileIDs: fileIDs}
}

// Run drains the queue until it receives a nil sentinel request.
func (w *UploadWorker) Run(ctx context.Context) {
	for {
		req := w.queue.Get()
		if req == nil {
			w.queue.TaskDone()
			return
		}
		w.handle(ctx, req)
	}
}

func (w *UploadWorker) handle(ctx context.Context, req *DiscordRequest) {
	ids := w.fileIDs(req)
	states := make([]*FileUploadState, 0, len(ids))
	for _, id := range ids {
		if s, ok := w.reg.uploadState(id); ok {
			states = append(states, s)
		}
	}

	for _, s := range states {
		if s.Cancelled() {
			w.queue.TaskDone()
			return
		}
	}
	for _, s := range states {
		if !w.globalPause.IsOpen() || !s.Pause.IsOpen() {
			w.queue.TaskDone()
			time.Sleep(uploadRequeueSleep)
			w.queue.Put(req)
			return
		}
	}

	discord := w.reg.discordUploader()
	if discord == nil {
		w.queue.TaskDone()
		time.Sleep(uploadRequeueSleep)
		w.queue.Put(req)
		return
	}

	for _, s := range states {
		s.SetStatus(StatusUploading)
	}

	if err := discord.Upload(ctx, req); err != nil {
		w.onError(req, states, err)
		return
	}

	var sent int64
	for _, att := range req.Attachments {
		sent += att.Size()
	}
	w.throttle.SignalBytes(sent)

	for i, att := range req.Attachments {
		fileID := ids[i]
		if s, ok := w.reg.uploadState(fileID); ok {
			if s.RecordUpload(att.Kind) {
				s.SetStatus(StatusCompleted)
			}
		}
	}
	w.queue.TaskDone()
}

func (w *UploadWorker) onError(req *DiscordRequest, states []*FileUploadState, err error) {
	switch e := err.(type) {
	case *apiclient.RateLimitError:
		w.retryWithWait(req, states, e.Wait)
	case *apiclient.ServiceUnavailableError:
		w.retryWithWait(req, states, e.Wait)
	case *apiclient.NetworkError:
		w.retryWithoutBump(req, states)
	case *apiclient.ServerTimeoutError:
		w.retryWithoutBump(req, states)
	default:
		for _, s := range states {
			s.Fail(err)
		}
		w.queue.TaskDone()
	}
}

func (w *UploadWorker) retryWithWait(req *DiscordRequest, states []*FileUploadState, wait time.Duration) {
	w.throttle.SignalError()
	for _, s := range states {
		s.SetStatus(StatusRetryingServer)
	}
	time.Sleep(wait)

	req.Retries++
	w.queue.TaskDone()
	if req.Retries >= maxRequestRetries {
		for _, s := range states {
			s.Fail(&apiclient.ConfigurationError{Msg: "upload retry limit exceeded"})
		}
		return
	}
	w.queue.Put(req)
}

func (w *UploadWorker) retryWithoutBump(req *DiscordRequest, states []*FileUploadState) {
	for _, s := range states {
		s.SetStatus(StatusRetryingNetwork)
	}
	time.Sleep(uploadNetworkRetry)
	w.queue.TaskDone()
	w.queue.Put(req)
}
