// Package download implements UltraDownloader: planning, fetching,
// decrypting, verifying, and finalizing multi-fragment files stored on the
// attachment host.
package download

import (
	"sync"

	"github.com/rescale-labs/ultratransfer/internal/cipher"
	"github.com/rescale-labs/ultratransfer/internal/pause"
)

// FragmentInfo identifies one contiguous byte range of a file living as one
// attachment on the host. Immutable.
type FragmentInfo struct {
	MessageID    string
	AttachmentID string
	Offset       int64
	Sequence     int // 1-based
	Size         int64
}

// FileInfo is the download plan for one file, immutable after the metadata
// fetch that produced it.
//
// Invariant: sum(Fragments[i].Size) == Size; Fragments[i].Offset ==
// sum(Fragments[0..i].Size); Sequence is dense 1..N.
type FileInfo struct {
	ID               string
	Name             string
	EncryptionMethod cipher.Method
	Size             int64
	Crc32            uint32
	Key              []byte
	IV               []byte
	Password         string
	Fragments        []FragmentInfo
}

// Status is the sticky lifecycle state of one file's download.
type Status int

const (
	StatusQueued Status = iota
	StatusPending
	StatusDownloading
	StatusPaused
	StatusRetryingNetwork
	StatusRetryingServer
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "QUEUED"
	case StatusPending:
		return "PENDING"
	case StatusDownloading:
		return "DOWNLOADING"
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
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// FileState is the mutable progress record for one file's download, guarded
// by its own lock so workers on different fragments of the same file don't
// contend with the coordinator's polling reads. onComplete fires exactly
// once, the moment the status first becomes terminal, regardless of which
// method (SetStatus/Fail/Cancel) drove the transition.
type FileState struct {
	mu sync.Mutex

	FileID string

	FragmentsTotal      int
	FragmentsDownloaded int
	SizeTotal           int64
	BytesDownloaded     int64
	status              Status
	err                 error

	cancel     *pause.Token
	Pause      *pause.Gate
	onComplete OnCompleteFunc
	fired      bool
}

// NewFileState builds the initial state for a plan with the given fragment
// count and total size; status is set by the caller once matched/missing
// fragments are known (see TaskPlanner). onComplete may be nil.
func NewFileState(fileID string, fragmentsTotal int, sizeTotal int64, onComplete OnCompleteFunc) *FileState {
	return &FileState{
		FileID:         fileID,
		FragmentsTotal: fragmentsTotal,
		SizeTotal:      sizeTotal,
		status:         StatusPending,
		cancel:         pause.NewToken(),
		Pause:          pause.NewGate(),
		onComplete:     onComplete,
	}
}

// Status returns the current status.
func (s *FileState) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions the status unless it is already terminal (sticky).
func (s *FileState) SetStatus(next Status) {
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
func (s *FileState) maybeFire() {
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

// Error returns the last recorded error, if any.
func (s *FileState) Error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Fail transitions to FAILED (unless already terminal) and records err.
func (s *FileState) Fail(err error) {
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

// Cancel marks the file cancelled; sticky and non-reversible.
func (s *FileState) Cancel() {
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

// Cancelled reports whether Cancel has been called.
func (s *FileState) Cancelled() bool {
	return s.cancel.Cancelled()
}

// RecordFragment marks one fragment complete, advancing counters. Returns
// true if this call caused the file to become fully downloaded.
func (s *FileState) RecordFragment(size int64) (fullyDownloaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FragmentsDownloaded++
	s.BytesDownloaded += size
	return s.FragmentsDownloaded == s.FragmentsTotal
}

// Snapshot is an immutable point-in-time copy of a FileState, for callers
// that poll GetState/GetAllStates.
type Snapshot struct {
	FragmentsTotal      int
	FragmentsDownloaded int
	SizeTotal           int64
	BytesDownloaded     int64
	Status              Status
	Err                 error
}

// Snapshot copies out the current state under lock.
func (s *FileState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		FragmentsTotal:      s.FragmentsTotal,
		FragmentsDownloaded: s.FragmentsDownloaded,
		SizeTotal:           s.SizeTotal,
		BytesDownloaded:     s.BytesDownloaded,
		Status:              s.status,
		Err:                 s.err,
	}
}

// OnCompleteFunc is invoked exactly once per file_id when its download
// reaches a terminal status. Every invocation is wrapped in a deferred
// recover so a misbehaving callback cannot crash a worker goroutine.
type OnCompleteFunc func(fileID string, state *FileState)

// FileRecord is immutable after creation: the on-disk layout for one file's
// download. The completion callback lives on FileState instead, since it
// must fire on failure/cancellation paths that never reach a finalizer.
type FileRecord struct {
	FileInfo   FileInfo
	FileDir    string // temp_root/file_id; holds N.part and the merged file
	MergedPath string // file_dir/<name>.encrypted
	OutputDir  string // user-requested destination directory
	OutputPath string // output_dir/<name>, set once finalize succeeds
}

// FragmentTask is one unit of work for a DownloadWorker. Retries is the
// only mutable field, owned exclusively by the worker currently holding the
// task (tasks are single-consumer at any instant).
type FragmentTask struct {
	FileID       string
	FileName     string
	Fragment     FragmentInfo
	FilePassword string
	Retries      int
}
