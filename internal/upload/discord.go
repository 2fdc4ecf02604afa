package upload

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
)

// DiscordUploader builds and sends the multipart POST that lands a
// DiscordRequest's attachments on the attachment host.
type DiscordUploader struct {
	httpClient     *http.Client
	webhooks       []string
	attachmentName string
	next           uint64 // round-robin cursor over webhooks
}

// NewDiscordUploader builds an uploader posting to webhooks (round-robin)
// with the given attachment name prefix.
func NewDiscordUploader(webhooks []string, attachmentName string) *DiscordUploader {
	return &DiscordUploader{
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		webhooks:       webhooks,
		attachmentName: attachmentName,
	}
}

func (u *DiscordUploader) selectWebhook() (string, error) {
	if len(u.webhooks) == 0 {
		return "", fmt.Errorf("upload: no webhooks configured")
	}
	if len(u.webhooks) == 1 {
		return u.webhooks[0], nil
	}
	i := atomic.AddUint64(&u.next, 1) - 1
	return u.webhooks[i%uint64(len(u.webhooks))], nil
}

// Upload POSTs req's attachments as one multipart/form-data request. The
// wire filename for each attachment is attachment_name + "_" + frontend_id
// (already a hex string) so the host's filename hygiene doesn't mangle
// anything that matters to reassembly.
func (u *DiscordUploader) Upload(ctx context.Context, req *DiscordRequest) error {
	webhook, err := u.selectWebhook()
	if err != nil {
		return err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for i, att := range req.Attachments {
		filename := u.attachmentName + "_" + att.FrontendID
		part, err := writer.CreatePart(partHeader(fmt.Sprintf("files[%d]", i), filename))
		if err != nil {
			return err
		}
		if _, err := part.Write(att.Data); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, &body)
	if err != nil {
		return &apiclient.NetworkError{Err: err}
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return &apiclient.ServerTimeoutError{Err: err}
		}
		return &apiclient.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		wait := apiclient.DefaultRateLimitWait
		if secs := resp.Header.Get("Retry-After"); secs != "" {
			if n, err := strconv.Atoi(secs); err == nil {
				wait = time.Duration(n) * time.Second
			}
		}
		return &apiclient.RateLimitError{Wait: wait}
	case http.StatusServiceUnavailable:
		return &apiclient.ServiceUnavailableError{Wait: apiclient.ServiceUnavailableWait}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func partHeader(fieldName, filename string) (h map[string][]string) {
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fieldName, filename)},
		"Content-Type":        {"application/octet-stream"},
	}
}
