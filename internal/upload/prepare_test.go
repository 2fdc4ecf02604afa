package upload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rescale-labs/ultratransfer/internal/cipher"
	"github.com/rescale-labs/ultratransfer/internal/queue"
)

func TestRequestBuilderFlushesOnSizeOverflow(t *testing.T) {
	out := queue.New[*DiscordRequest]()
	b := newRequestBuilder(3, 100, out)

	b.Add(Attachment{FrontendID: "a", Data: make([]byte, 40)})
	b.Add(Attachment{FrontendID: "b", Data: make([]byte, 40)})
	b.Add(Attachment{FrontendID: "c", Data: make([]byte, 40)})
	b.Flush()

	var reqs []*DiscordRequest
	for out.Len() > 0 {
		r := out.Get()
		out.TaskDone()
		reqs = append(reqs, r)
	}

	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if len(reqs[0].Attachments) != 2 {
		t.Fatalf("expected first request to hold 2 attachments (80 bytes), got %d", len(reqs[0].Attachments))
	}
	if len(reqs[1].Attachments) != 1 {
		t.Fatalf("expected second request to hold the remaining 1 attachment, got %d", len(reqs[1].Attachments))
	}
}

func TestRequestBuilderFlushesOnAttachmentCountOverflow(t *testing.T) {
	out := queue.New[*DiscordRequest]()
	b := newRequestBuilder(2, 1000, out)

	b.Add(Attachment{FrontendID: "a", Data: make([]byte, 10)})
	b.Add(Attachment{FrontendID: "b", Data: make([]byte, 10)})
	b.Add(Attachment{FrontendID: "c", Data: make([]byte, 10)})
	b.Flush()

	var reqs []*DiscordRequest
	for out.Len() > 0 {
		r := out.Get()
		out.TaskDone()
		reqs = append(reqs, r)
	}

	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if len(reqs[0].Attachments) != 2 || len(reqs[1].Attachments) != 1 {
		t.Fatalf("unexpected bin sizes: %d, %d", len(reqs[0].Attachments), len(reqs[1].Attachments))
	}
}

func TestPrepareRequestWorkerStreamsFileIntoChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mkv")
	content := make([]byte, 25)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	out := queue.New[*DiscordRequest]()
	cfg := &Config{MaxAttachments: 10, MaxSize: 10, EncryptionMethod: cipher.Plain}
	w := NewPrepareRequestWorker(cfg, NoopMediaProber{}, nil, out)

	in := queue.New[*UploadInput]()
	in.Put(&UploadInput{Path: path, DestFolderID: "folder1"})

	var registered *FileUploadState
	done := make(chan struct{})
	go func() {
		in.Put(nil)
		w.Run(in, func(fileID string, state *FileUploadState, onComplete OnUploadCompleteFunc) {
			registered = state
		})
		close(done)
	}()
	<-done

	if registered == nil {
		t.Fatal("expected a FileUploadState to be registered")
	}
	if registered.Status() != StatusReady {
		t.Fatalf("expected status READY, got %s", registered.Status())
	}
	if registered.ExpectedChunks != 3 {
		t.Fatalf("expected 3 chunks (10+10+5 bytes over a 25-byte file), got %d", registered.ExpectedChunks)
	}

	var reqs []*DiscordRequest
	for out.Len() > 0 {
		r := out.Get()
		out.TaskDone()
		reqs = append(reqs, r)
	}

	var gotChunks int
	var rebuilt []byte
	sequences := map[int][]byte{}
	for _, req := range reqs {
		for _, att := range req.Attachments {
			gotChunks++
			sequences[att.Sequence] = att.Data
		}
	}
	if gotChunks != 3 {
		t.Fatalf("expected 3 chunk attachments total, got %d", gotChunks)
	}
	for i := 1; i <= 3; i++ {
		rebuilt = append(rebuilt, sequences[i]...)
	}
	if string(rebuilt) != string(content) {
		t.Fatalf("reassembled chunks do not match source file")
	}
}
