package download

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/pause"
	"github.com/rescale-labs/ultratransfer/internal/util/buffers"
)

// pausePollInterval is how often FragmentDownloader re-checks a closed
// pause gate while streaming a fragment body.
const pausePollInterval = 100 * time.Millisecond

// FragmentDownloader resolves one fragment's signed URL and streams it to
// disk, honoring pause and cancellation at chunk granularity.
type FragmentDownloader struct {
	client     *apiclient.Client
	httpClient *http.Client
}

// NewFragmentDownloader builds a downloader that resolves signed URLs via
// client and fetches their bodies with its own plain HTTP client (the
// signed URL points at the host's CDN, not the authenticated API).
func NewFragmentDownloader(client *apiclient.Client) *FragmentDownloader {
	return &FragmentDownloader{
		client:     client,
		httpClient: &http.Client{Timeout: 0}, // fragment bodies can be large; no blanket deadline
	}
}

// Download streams one fragment to destPath, polling globalPause and
// filePause every pausePollInterval and stopping early (returning bytes
// written so far, no error) if cancel fires mid-stream.
func (d *FragmentDownloader) Download(ctx context.Context, task *FragmentTask, destPath string, globalPause, filePause *pause.Gate, cancel *pause.Token) (int64, error) {
	if cancel.Cancelled() {
		return 0, nil
	}

	url, err := d.client.AttachmentSignedURL(ctx, task.Fragment.AttachmentID, task.FilePassword)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &apiclient.NetworkError{Err: err}
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, &apiclient.ServerTimeoutError{Err: err}
		}
		return 0, &apiclient.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return 0, &apiclient.AttachmentNotFoundError{AttachmentID: task.Fragment.AttachmentID}
	case http.StatusTooManyRequests:
		return 0, &apiclient.RateLimitError{Wait: retryAfterOrDefault(resp)}
	case http.StatusServiceUnavailable:
		return 0, &apiclient.ServiceUnavailableError{Wait: apiclient.ServiceUnavailableWait}
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &apiclient.NetworkError{Err: io.ErrUnexpectedEOF}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	return d.stream(ctx, resp.Body, out, globalPause, filePause, cancel)
}

func (d *FragmentDownloader) stream(ctx context.Context, src io.Reader, dst io.Writer, globalPause, filePause *pause.Gate, cancel *pause.Token) (int64, error) {
	buf := buffers.GetChunkBuffer()
	defer buffers.PutChunkBuffer(buf)

	var written int64
	for {
		if cancel.Cancelled() {
			return written, nil
		}
		if !globalPause.IsOpen() || !filePause.IsOpen() {
			select {
			case <-ctx.Done():
				return written, ctx.Err()
			case <-cancel.Done():
				return written, nil
			case <-time.After(pausePollInterval):
			}
			continue
		}

		n, readErr := src.Read(*buf)
		if n > 0 {
			if _, writeErr := dst.Write((*buf)[:n]); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, &apiclient.ServerTimeoutError{Err: readErr}
			}
			return written, &apiclient.NetworkError{Err: readErr}
		}
	}
}

func retryAfterOrDefault(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return apiclient.DefaultRateLimitWait
}
