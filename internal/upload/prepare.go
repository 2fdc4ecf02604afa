package upload

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/rescale-labs/ultratransfer/internal/cipher"
	"github.com/rescale-labs/ultratransfer/internal/queue"
)

// earlyFlushDivisor is the bin-packer's "avoid stranding a tail" heuristic:
// flush the current bin early when what's left in it is smaller than
// max_size/earlyFlushDivisor but the file still has more than that left to
// send, rather than force a poorly-utilized extra request later.
const earlyFlushDivisor = 3

// MediaProber is the pluggable collaborator for thumbnail/subtitle-track
// discovery. Extraction itself (codec probing, demuxing) is out of scope;
// PrepareRequestWorker only calls this interface and encrypts what it's
// given.
type MediaProber interface {
	// Thumbnail returns a single representative still frame for path, or
	// ok=false if path isn't a recognized video type or has none.
	Thumbnail(path string) (data []byte, ok bool, err error)
	// Subtitles returns zero or more embedded text tracks for path.
	Subtitles(path string) ([]SubtitleTrack, error)
}

// SubtitleTrack is one embedded text track MediaProber reports.
type SubtitleTrack struct {
	Data     []byte
	Language string
	IsForced bool
}

// NoopMediaProber reports no thumbnails or subtitles for any file, the
// correct behavior when probing isn't wired up (e.g. the CLI's default).
type NoopMediaProber struct{}

func (NoopMediaProber) Thumbnail(string) ([]byte, bool, error)    { return nil, false, nil }
func (NoopMediaProber) Subtitles(string) ([]SubtitleTrack, error) { return nil, nil }

// UploadInput is one item PrepareRequestWorker scans: a local path (file or
// directory) destined for folderID.
type UploadInput struct {
	Path          string
	DestFolderID  string
	OnComplete    OnUploadCompleteFunc
}

// folderCreator creates a remote subfolder for a local directory before
// PrepareRequestWorker descends into it.
type folderCreator interface {
	CreateFolder(parentID, name string) (folderID string, err error)
}

// requestBuilder accumulates attachments into DiscordRequest bins,
// flushing to out whenever adding the next attachment would exceed
// max_attachments or max_size.
type requestBuilder struct {
	maxAttachments int
	maxSize        int64
	out            *queue.Queue[*DiscordRequest]

	current     []Attachment
	currentSize int64
}

func newRequestBuilder(maxAttachments int, maxSize int64, out *queue.Queue[*DiscordRequest]) *requestBuilder {
	return &requestBuilder{maxAttachments: maxAttachments, maxSize: maxSize, out: out}
}

// Add appends att to the current bin, flushing first if it would overflow
// max_attachments or max_size.
func (b *requestBuilder) Add(att Attachment) {
	if len(b.current) >= b.maxAttachments || b.currentSize+att.Size() > b.maxSize {
		b.Flush()
	}
	b.current = append(b.current, att)
	b.currentSize += att.Size()
}

// RemainingInBin is how much payload the current bin can still accept
// before it would overflow max_size.
func (b *requestBuilder) RemainingInBin() int64 {
	return b.maxSize - b.currentSize
}

// Flush emits the current bin as a DiscordRequest (if non-empty) and
// starts a fresh one.
func (b *requestBuilder) Flush() {
	if len(b.current) == 0 {
		return
	}
	b.out.Put(&DiscordRequest{
		RequestID:   newRequestID(),
		Attachments: b.current,
	})
	b.current = nil
	b.currentSize = 0
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable (no entropy
		// source); fall back to the zero id rather than panic so a
		// request is still emitted, just without a unique id.
		return ""
	}
	return hex.EncodeToString(buf)
}

// PrepareRequestWorker (C11) pulls UploadInput off an input queue, scans
// each path, and emits DiscordRequest values onto an upload queue via a
// requestBuilder.
type PrepareRequestWorker struct {
	config  *Config
	prober  MediaProber
	folders folderCreator
	builder *requestBuilder
}

// NewPrepareRequestWorker builds a worker against cfg's current bin limits
// and encryption method, emitting onto out.
func NewPrepareRequestWorker(cfg *Config, prober MediaProber, folders folderCreator, out *queue.Queue[*DiscordRequest]) *PrepareRequestWorker {
	if prober == nil {
		prober = NoopMediaProber{}
	}
	return &PrepareRequestWorker{
		config:  cfg,
		prober:  prober,
		folders: folders,
		builder: newRequestBuilder(cfg.MaxAttachments, cfg.MaxSize, out),
	}
}

// Run drains in until it receives a nil sentinel UploadInput, registering a
// FileUploadState per file via register and flushing any partial bin on
// exit.
func (w *PrepareRequestWorker) Run(in *queue.Queue[*UploadInput], register func(fileID string, state *FileUploadState, onComplete OnUploadCompleteFunc)) {
	for {
		item := in.Get()
		if item == nil {
			in.TaskDone()
			w.builder.Flush()
			return
		}
		w.process(item, register)
		in.TaskDone()
	}
}

func (w *PrepareRequestWorker) process(item *UploadInput, register func(string, *FileUploadState, OnUploadCompleteFunc)) {
	info, err := os.Stat(item.Path)
	if err != nil {
		return
	}

	if info.IsDir() {
		w.processDirectory(item, register)
		return
	}
	w.processFile(item.Path, item.DestFolderID, item.OnComplete, register)
}

func (w *PrepareRequestWorker) processDirectory(item *UploadInput, register func(string, *FileUploadState, OnUploadCompleteFunc)) {
	entries, err := os.ReadDir(item.Path)
	if err != nil {
		return
	}

	folderID := item.DestFolderID
	if w.folders != nil {
		if id, err := w.folders.CreateFolder(item.DestFolderID, filepath.Base(item.Path)); err == nil {
			folderID = id
		}
	}

	for _, entry := range entries {
		child := &UploadInput{
			Path:         filepath.Join(item.Path, entry.Name()),
			DestFolderID: folderID,
			OnComplete:   item.OnComplete,
		}
		w.process(child, register)
	}
}

func (w *PrepareRequestWorker) processFile(path, folderID string, onComplete OnUploadCompleteFunc, register func(string, *FileUploadState, OnUploadCompleteFunc)) {
	fileID := newRequestID()
	state := NewFileUploadState(fileID, onComplete)
	register(fileID, state, onComplete)

	var expectedThumbnail, expectedSubtitles int

	if thumb, ok, err := w.prober.Thumbnail(path); err == nil && ok {
		if att, err := w.buildAttachment(fileID, KindThumbnail, thumb); err == nil {
			w.builder.Add(att)
			expectedThumbnail = 1
		}
	}

	if tracks, err := w.prober.Subtitles(path); err == nil {
		for _, track := range tracks {
			if att, err := w.buildSubtitleAttachment(fileID, track); err == nil {
				w.builder.Add(att)
				expectedSubtitles++
			}
		}
	}

	chunks, err := w.streamFileChunks(fileID, path)
	if err != nil {
		state.Fail(err)
		return
	}

	state.SetExpected(chunks, expectedSubtitles, expectedThumbnail)
	state.SetStatus(StatusReady)
}

func (w *PrepareRequestWorker) buildAttachment(fileID string, kind AttachmentKind, data []byte) (Attachment, error) {
	crypto, err := NewCrypto(w.config.EncryptionMethod)
	if err != nil {
		return Attachment{}, err
	}
	sc, err := cipher.New(crypto.Method, crypto.Key, crypto.IV, 0)
	if err != nil {
		return Attachment{}, err
	}
	return Attachment{
		Kind:       kind,
		FileID:     fileID,
		FrontendID: newRequestID(),
		Data:       sc.Transform(data),
		Crypto:     crypto,
	}, nil
}

func (w *PrepareRequestWorker) buildSubtitleAttachment(fileID string, track SubtitleTrack) (Attachment, error) {
	att, err := w.buildAttachment(fileID, KindSubtitle, track.Data)
	if err != nil {
		return Attachment{}, err
	}
	att.Language = track.Language
	att.IsForced = track.IsForced
	return att, nil
}

// streamFileChunks reads path in chunks sized to fit the current bin,
// encrypting each under one cipher stream shared across the whole file (the
// stream is never re-seeded per chunk), and returns the number of chunks
// emitted.
func (w *PrepareRequestWorker) streamFileChunks(fileID, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	remainingInFile := info.Size()

	crypto, err := NewCrypto(w.config.EncryptionMethod)
	if err != nil {
		return 0, err
	}
	sc, err := cipher.New(crypto.Method, crypto.Key, crypto.IV, 0)
	if err != nil {
		return 0, err
	}

	var sequence int
	var offset int64
	maxSize := w.config.MaxSize

	for remainingInFile > 0 {
		remainingInBin := w.builder.RemainingInBin()
		chunkSize := remainingInBin
		if remainingInFile < chunkSize {
			chunkSize = remainingInFile
		}
		// Early-flush heuristic: don't strand a small tail in an almost-
		// full bin if the file has more than a third of max_size left.
		if remainingInBin < maxSize/earlyFlushDivisor && maxSize/earlyFlushDivisor < remainingInFile {
			w.builder.Flush()
			remainingInBin = w.builder.RemainingInBin()
			chunkSize = remainingInBin
			if remainingInFile < chunkSize {
				chunkSize = remainingInFile
			}
		}
		if chunkSize <= 0 {
			w.builder.Flush()
			continue
		}

		buf := make([]byte, chunkSize)
		if _, err := io.ReadFull(f, buf); err != nil {
			return sequence, err
		}

		sequence++
		att := Attachment{
			Kind:       KindChunk,
			FileID:     fileID,
			FrontendID: newRequestID(),
			Data:       sc.Transform(buf),
			Crypto:     crypto,
			Sequence:   sequence,
			Offset:     offset,
		}
		w.builder.Add(att)

		offset += chunkSize
		remainingInFile -= chunkSize
	}

	return sequence, nil
}
