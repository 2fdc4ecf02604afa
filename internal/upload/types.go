// Package upload implements UltraUploader: scanning local files, splitting
// them into attachment-sized encrypted chunks, packing them into requests
// respecting host limits, and uploading them to the attachment host.
package upload

import (
	"sync"

	"github.com/rescale-labs/ultratransfer/internal/cipher"
	"github.com/rescale-labs/ultratransfer/internal/pause"
)

// Config is the upload-side host policy snapshot, taken from the first
// successful CheckCanUpload; later checks do not replace it.
type Config struct {
	Webhooks         []string
	Extensions       []string
	AttachmentName   string
	MaxAttachments   int
	MaxSize          int64
	EncryptionMethod cipher.Method
}

// Crypto is a fresh per-chunk-group cipher key/iv pair, generated with a
// cryptographically strong RNG. Plain carries neither.
type Crypto struct {
	Method cipher.Method
	Key    []byte
	IV     []byte
}

// AttachmentKind distinguishes the three attachment variants PrepareRequestWorker emits.
type AttachmentKind int

const (
	KindChunk AttachmentKind = iota
	KindThumbnail
	KindSubtitle
)

// Attachment is one piece of encrypted payload destined for a single
// multipart field in a DiscordRequest.
type Attachment struct {
	Kind       AttachmentKind
	FileID     string // the owning file's id, for state lookup once the request completes
	FrontendID string // unique per attachment; combined with config.AttachmentName for the wire filename
	Data       []byte
	Crypto     Crypto

	// Chunk-only fields.
	Sequence int   // 1-based, dense within a file's chunk stream
	Offset   int64 // plaintext byte offset within the file

	// Subtitle-only fields.
	Language string
	IsForced bool
}

// Size is the wire size of the attachment's payload.
func (a Attachment) Size() int64 { return int64(len(a.Data)) }

// DiscordRequest is one outbound multipart POST: an ordered batch of
// attachments plus retry bookkeeping. RequestID is generated fresh per
// request (never a shared default), matching the invariant that it must be
// unique across the engine's lifetime.
type DiscordRequest struct {
	RequestID   string
	Attachments []Attachment
	Retries     int
}

// FileUploadStatus is the sticky lifecycle state of one file's upload.
type FileUploadStatus int

const (
	StatusScanning FileUploadStatus = iota
	StatusReady
	StatusUploading
	StatusPaused
	StatusRetryingNetwork
	StatusRetryingServer
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s FileUploadStatus) String() string {
	switch s {
	case StatusScanning:
		return "SCANNING"
	case StatusReady:
		return "READY"
	case StatusUploading:
		return "UPLOADING"
	case StatusPaused:
		return "PAUSED"
	case StatusRetryingNetwork:
		return "RETRYING_NETWORK"
	case StatusRetryingServer:
		return "RETRYING_SERVER"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is one of the sticky terminal statuses.
func (s FileUploadStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// FileUploadState is the mutable progress record for one file's upload. A
// file is fully uploaded once every expected counter has been matched by
// its uploaded counterpart; onComplete fires exactly once, the moment the
// status first becomes terminal.
type FileUploadState struct {
	mu sync.Mutex

	FileID string

	ExpectedChunks    int
	ExpectedSubtitles int
	ExpectedThumbnail int
	UploadedChunks    int
	UploadedSubtitles int
	UploadedThumbnail int
	status            FileUploadStatus
	err               error

	cancel     *pause.Token
	Pause      *pause.Gate
	onComplete OnUploadCompleteFunc
	fired      bool
}

// NewFileUploadState returns a state in SCANNING, before the file's total
// attachment counts are known. onComplete may be nil.
func NewFileUploadState(fileID string, onComplete OnUploadCompleteFunc) *FileUploadState {
	return &FileUploadState{
		FileID:     fileID,
		status:     StatusScanning,
		cancel:     pause.NewToken(),
		Pause:      pause.NewGate(),
		onComplete: onComplete,
	}
}

func (s *FileUploadState) Status() FileUploadStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *FileUploadState) SetStatus(next FileUploadStatus) {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.status = next
	s.mu.Unlock()
	s.maybeFire()
}

// maybeFire invokes onComplete the first time status is observed terminal.
// A panicking callback is recovered so one caller's bug can't wedge a
// worker goroutine.
func (s *FileUploadState) maybeFire() {
	s.mu.Lock()
	if s.fired || !s.status.IsTerminal() || s.onComplete == nil {
		s.mu.Unlock()
		return
	}
	s.fired = true
	cb := s.onComplete
	id := s.FileID
	s.mu.Unlock()

	defer func() { recover() }()
	cb(id, s)
}

func (s *FileUploadState) Error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *FileUploadState) Fail(err error) {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.status = StatusFailed
	s.err = err
	s.mu.Unlock()
	s.maybeFire()
}

func (s *FileUploadState) Cancel() {
	s.cancel.Cancel()
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.status = StatusCancelled
	s.mu.Unlock()
	s.maybeFire()
}

func (s *FileUploadState) Cancelled() bool {
	return s.cancel.Cancelled()
}

// SetExpected records the total attachment counts once scanning finishes.
func (s *FileUploadState) SetExpected(chunks, subtitles, thumbnail int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExpectedChunks = chunks
	s.ExpectedSubtitles = subtitles
	s.ExpectedThumbnail = thumbnail
}

// RecordUpload increments the counter matching kind and reports whether
// every expected attachment for this file has now been uploaded.
func (s *FileUploadState) RecordUpload(kind AttachmentKind) (fullyUploaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case KindChunk:
		s.UploadedChunks++
	case KindThumbnail:
		s.UploadedThumbnail++
	case KindSubtitle:
		s.UploadedSubtitles++
	}
	return s.UploadedChunks == s.ExpectedChunks &&
		s.UploadedSubtitles == s.ExpectedSubtitles &&
		s.UploadedThumbnail == s.ExpectedThumbnail
}

// UploadSnapshot is an immutable point-in-time copy of a FileUploadState.
type UploadSnapshot struct {
	ExpectedChunks    int
	ExpectedSubtitles int
	ExpectedThumbnail int
	UploadedChunks    int
	UploadedSubtitles int
	UploadedThumbnail int
	Status            FileUploadStatus
	Err               error
}

func (s *FileUploadState) Snapshot() UploadSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return UploadSnapshot{
		ExpectedChunks:    s.ExpectedChunks,
		ExpectedSubtitles: s.ExpectedSubtitles,
		ExpectedThumbnail: s.ExpectedThumbnail,
		UploadedChunks:    s.UploadedChunks,
		UploadedSubtitles: s.UploadedSubtitles,
		UploadedThumbnail: s.UploadedThumbnail,
		Status:            s.status,
		Err:               s.err,
	}
}

// OnUploadCompleteFunc is invoked exactly once per file when its upload
// reaches a terminal status.
type OnUploadCompleteFunc func(fileID string, state *FileUploadState)
