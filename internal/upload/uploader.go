package upload

import (
	"context"
	"sync"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/autoscaler"
	"github.com/rescale-labs/ultratransfer/internal/cipher"
	"github.com/rescale-labs/ultratransfer/internal/pause"
	"github.com/rescale-labs/ultratransfer/internal/queue"
	"github.com/rescale-labs/ultratransfer/internal/throttle"
)

const (
	minUploadWorkers = 1
)

// UltraUploader is the top-level upload coordinator: it owns the input and
// upload queues, the long-lived per-file state map, the worker pool, and
// the AutoScaler that sizes it.
//
// CanUpload is fetched per destination folder and cached; the bin-packing
// limits it returns (max_attachments, max_size, webhooks) are account-wide
// in practice, so the first successful check seeds the shared Config and
// DiscordUploader for every folder checked afterward.
type UltraUploader struct {
	client *apiclient.Client

	inputQueue  *queue.Queue[*UploadInput]
	uploadQueue *queue.Queue[*DiscordRequest]

	throttle *throttle.State
	scaler   *autoscaler.AutoScaler

	globalPause *pause.Gate

	mu            sync.Mutex
	states        map[string]*FileUploadState
	checkedFolder map[string]bool
	config        *Config
	discord       *DiscordUploader
	prepare       *PrepareRequestWorker

	uploadWorkers int
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewUltraUploader builds an uploader against client with a pool sized
// between min and max upload workers. CheckCanUpload must be called for a
// folder before any file is queued to it.
func NewUltraUploader(client *apiclient.Client, maxWorkers int) *UltraUploader {
	ctx, cancel := context.WithCancel(context.Background())

	u := &UltraUploader{
		client:        client,
		inputQueue:    queue.New[*UploadInput](),
		uploadQueue:   queue.New[*DiscordRequest](),
		throttle:      throttle.New(throttle.DefaultWindow),
		globalPause:   pause.NewGate(),
		states:        make(map[string]*FileUploadState),
		checkedFolder: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	for i := 0; i < minUploadWorkers; i++ {
		u.startUploadWorker()
	}

	u.scaler = autoscaler.New(u.throttle, minUploadWorkers, maxWorkers, minUploadWorkers,
		u.startUploadWorker,
		u.killOneUploadWorker,
	)
	u.scaler.Start()

	return u
}

// CheckCanUpload fetches and caches the upload policy for folderID. Upload
// returns ErrCheckCanUploadRequired for any folder this hasn't been called
// for first.
func (u *UltraUploader) CheckCanUpload(ctx context.Context, folderID string) error {
	resp, err := u.client.CanUpload(ctx, folderID)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	u.checkedFolder[folderID] = true
	if u.config == nil {
		u.config = &Config{
			Webhooks:         resp.Webhooks,
			Extensions:       resp.Extensions,
			AttachmentName:   resp.AttachmentName,
			MaxAttachments:   resp.MaxAttachments,
			MaxSize:          resp.MaxSize,
			EncryptionMethod: cipher.AESCTR,
		}
		u.discord = NewDiscordUploader(resp.Webhooks, resp.AttachmentName)
		u.prepare = NewPrepareRequestWorker(u.config, NoopMediaProber{}, nil, u.uploadQueue)
		go u.prepare.Run(u.inputQueue, u.register)
	}
	return nil
}

func (u *UltraUploader) register(fileID string, state *FileUploadState, _ OnUploadCompleteFunc) {
	u.mu.Lock()
	u.states[fileID] = state
	u.mu.Unlock()
}

func (u *UltraUploader) startUploadWorker() {
	u.mu.Lock()
	u.uploadWorkers++
	u.mu.Unlock()
	w := newUploadWorker(u.uploadQueue, u.throttle, u.globalPause, u, requestFileIDs)
	go w.Run(u.ctx)
}

func (u *UltraUploader) killOneUploadWorker() {
	u.mu.Lock()
	if u.uploadWorkers > 0 {
		u.uploadWorkers--
	}
	u.mu.Unlock()
	u.uploadQueue.Put(nil)
}

func (u *UltraUploader) uploadState(fileID string) (*FileUploadState, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	s, ok := u.states[fileID]
	return s, ok
}

func (u *UltraUploader) discordUploader() *DiscordUploader {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.discord
}

// requestFileIDs recovers the owning file id for each attachment in req, so
// UploadWorker can look up and update the right FileUploadState once the
// request completes.
func requestFileIDs(req *DiscordRequest) []string {
	ids := make([]string, len(req.Attachments))
	for i, att := range req.Attachments {
		ids[i] = att.FileID
	}
	return ids
}

// Upload scans path (file or directory) and enqueues its contents for
// upload to folderID. CheckCanUpload must have been called for folderID
// first. onComplete fires once per file, when that file's upload reaches a
// terminal status.
func (u *UltraUploader) Upload(path, folderID string, onComplete OnUploadCompleteFunc) error {
	u.mu.Lock()
	checked := u.checkedFolder[folderID]
	u.mu.Unlock()
	if !checked {
		return apiclient.ErrCheckCanUploadRequired
	}

	u.inputQueue.Put(&UploadInput{Path: path, DestFolderID: folderID, OnComplete: onComplete})
	return nil
}

// PauseAll closes the global pause gate.
func (u *UltraUploader) PauseAll() {
	u.globalPause.Close()
	u.forEachState(func(s *FileUploadState) {
		if s.Status() == StatusUploading {
			s.SetStatus(StatusPaused)
		}
	})
}

// ResumeAll reopens the global pause gate.
func (u *UltraUploader) ResumeAll() {
	u.globalPause.Open()
	u.forEachState(func(s *FileUploadState) {
		if s.Status() == StatusPaused {
			s.SetStatus(StatusUploading)
		}
	})
}

// PauseFile closes one file's per-file pause gate.
func (u *UltraUploader) PauseFile(fileID string) {
	if s, ok := u.uploadState(fileID); ok {
		s.Pause.Close()
		s.SetStatus(StatusPaused)
	}
}

// ResumeFile reopens one file's per-file pause gate.
func (u *UltraUploader) ResumeFile(fileID string) {
	if s, ok := u.uploadState(fileID); ok {
		s.Pause.Open()
		s.SetStatus(StatusUploading)
	}
}

// CancelFile marks fileID cancelled.
func (u *UltraUploader) CancelFile(fileID string) {
	if s, ok := u.uploadState(fileID); ok {
		s.Cancel()
	}
}

// GetState returns a point-in-time snapshot of one file's progress.
func (u *UltraUploader) GetState(fileID string) (UploadSnapshot, bool) {
	s, ok := u.uploadState(fileID)
	if !ok {
		return UploadSnapshot{}, false
	}
	return s.Snapshot(), true
}

// GetAllStates returns a point-in-time snapshot of every registered file's
// progress, keyed by file id.
func (u *UltraUploader) GetAllStates() map[string]UploadSnapshot {
	u.mu.Lock()
	ids := make([]string, 0, len(u.states))
	for id := range u.states {
		ids = append(ids, id)
	}
	u.mu.Unlock()

	out := make(map[string]UploadSnapshot, len(ids))
	for _, id := range ids {
		if s, ok := u.uploadState(id); ok {
			out[id] = s.Snapshot()
		}
	}
	return out
}

func (u *UltraUploader) forEachState(fn func(*FileUploadState)) {
	u.mu.Lock()
	states := make([]*FileUploadState, 0, len(u.states))
	for _, s := range u.states {
		states = append(states, s)
	}
	u.mu.Unlock()
	for _, s := range states {
		fn(s)
	}
}

// Shutdown stops the AutoScaler, retires every worker with a sentinel, and
// waits for both queues to drain before returning.
func (u *UltraUploader) Shutdown() {
	u.scaler.Stop()

	u.mu.Lock()
	prepareStarted := u.config != nil
	u.mu.Unlock()

	// PrepareRequestWorker only starts once CheckCanUpload has run; with no
	// consumer draining inputQueue, a sentinel would never be picked up and
	// Join would block forever.
	if prepareStarted {
		u.inputQueue.Put(nil)
		u.inputQueue.Join()
	}

	u.mu.Lock()
	workers := u.uploadWorkers
	u.mu.Unlock()
	for i := 0; i < workers; i++ {
		u.uploadQueue.Put(nil)
	}
	u.uploadQueue.Join()
	u.cancel()
}
