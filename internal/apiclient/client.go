// Package apiclient is the authenticated REST client for the backend
// collaborator described in SPEC_FULL.md §6: login, user profile, discord
// settings, canUpload, fragment metadata, and signed fragment URLs. Item/
// folder/share CRUD and other non-core surface area is intentionally not
// implemented here.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale-labs/ultratransfer/internal/config"
	"github.com/rescale-labs/ultratransfer/internal/logging"
	"github.com/rescale-labs/ultratransfer/internal/ratelimit"
)

// requestTimeout bounds a single HTTP round trip, per SPEC_FULL.md §5
// ("HTTP client... timeouts 10s per request").
const requestTimeout = 10 * time.Second

// Client is a thin, authenticated REST client over the backend's JSON API.
type Client struct {
	httpClient *nethttp.Client
	baseURL    string
	authToken  string
	limiter    *ratelimit.RateLimiter
	logger     *logging.Logger
}

// retryLogger routes retryablehttp's internal logging through our own
// logger instead of the standard library logger.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, kv ...interface{}) { l.logger.Error().Fields(kvFields(kv)).Msg(msg) }
func (l *retryLogger) Info(msg string, kv ...interface{})  { l.logger.Debug().Fields(kvFields(kv)).Msg(msg) }
func (l *retryLogger) Debug(msg string, kv ...interface{}) { l.logger.Debug().Fields(kvFields(kv)).Msg(msg) }
func (l *retryLogger) Warn(msg string, kv ...interface{})  { l.logger.Warn().Fields(kvFields(kv)).Msg(msg) }

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprintf("%v", kv[i])
		fields[key] = kv[i+1]
	}
	return fields
}

// New builds a Client against cfg.APIBaseURL. It fails fast if the base URL
// is empty; everything else (auth token) can be supplied afterward via
// SetAuthToken.
func New(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("api base URL is empty — check configuration")
	}
	if logger == nil {
		logger = logging.NewDefault()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 5
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = &retryLogger{logger: logger}
	retryClient.HTTPClient.Timeout = requestTimeout

	return &Client{
		httpClient: retryClient.StandardClient(),
		baseURL:    strings.TrimSuffix(cfg.APIBaseURL, "/"),
		limiter:    ratelimit.NewDefault(),
		logger:     logger,
	}, nil
}

// SetAuthToken installs the bearer-style session token used by every
// subsequent request.
func (c *Client) SetAuthToken(token string) { c.authToken = token }

// AuthToken returns the currently installed session token.
func (c *Client) AuthToken() string { return c.authToken }

func readBody(body io.ReadCloser) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("(failed to read response body: %v)", err)
	}
	return string(data)
}

// doRequest issues one authenticated request, honoring the rate limiter and
// setting the optional per-resource password header.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, resourcePassword string) (*nethttp.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Token "+c.authToken)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if resourcePassword != "" {
		req.Header.Set("x-resource-password", resourcePassword)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ServerTimeoutError{Err: err}
		}
		return nil, &NetworkError{Err: err}
	}

	switch resp.StatusCode {
	case 429:
		wait := DefaultRateLimitWait
		if secs := resp.Header.Get("Retry-After"); secs != "" {
			if n, err := strconv.Atoi(secs); err == nil {
				wait = time.Duration(n) * time.Second
			}
		}
		c.limiter.SetCooldown(wait)
		resp.Body.Close()
		return nil, &RateLimitError{Wait: wait}
	case 503:
		resp.Body.Close()
		return nil, &ServiceUnavailableError{Wait: ServiceUnavailableWait}
	case 401:
		resp.Body.Close()
		return nil, &UnauthorizedError{}
	}

	return resp, nil
}

func decodeJSON(resp *nethttp.Response, out interface{}) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// LoginResponse is the wire shape returned by auth/token/login.
type LoginResponse struct {
	AuthToken string `json:"auth_token"`
	DeviceID  string `json:"device_id"`
}

// Login exchanges a username/password for a session token.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodPost, "/auth/token/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	if err != nil {
		return LoginResponse{}, err
	}
	if resp.StatusCode != nethttp.StatusOK && resp.StatusCode != nethttp.StatusCreated {
		body := readBody(resp.Body)
		return LoginResponse{}, fmt.Errorf("login failed: status %d: %s", resp.StatusCode, body)
	}
	var out LoginResponse
	if err := decodeJSON(resp, &out); err != nil {
		return LoginResponse{}, err
	}
	c.authToken = out.AuthToken
	return out, nil
}

// UserProfile is the wire shape returned by user/me.
type UserProfile struct {
	ID                    string `json:"id"`
	Username              string `json:"username"`
	Root                  string `json:"root"`
	MaxDiscordMessageSize int64  `json:"maxDiscordMessageSize"`
}

// GetUserProfile fetches the current user's profile.
func (c *Client) GetUserProfile(ctx context.Context) (*UserProfile, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, "/user/me", nil, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != nethttp.StatusOK {
		body := readBody(resp.Body)
		return nil, fmt.Errorf("get user profile failed: status %d: %s", resp.StatusCode, body)
	}
	var profile UserProfile
	if err := decodeJSON(resp, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// DiscordSettings is the wire shape returned by user/discordSettings: the
// attachment host capacity available to this account.
type DiscordSettings struct {
	BotCount int `json:"bot_count"`
}

// GetDiscordSettings fetches attachment-host capacity for this account.
func (c *Client) GetDiscordSettings(ctx context.Context) (*DiscordSettings, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, "/user/discordSettings", nil, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != nethttp.StatusOK {
		body := readBody(resp.Body)
		return nil, fmt.Errorf("get discord settings failed: status %d: %s", resp.StatusCode, body)
	}
	var settings DiscordSettings
	if err := decodeJSON(resp, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// CanUploadResponse is the wire shape returned by user/canUpload/{folder_id}.
type CanUploadResponse struct {
	CanUpload      bool     `json:"can_upload"`
	LockFrom       string   `json:"lockFrom"`
	Webhooks       []string `json:"webhooks"`
	AttachmentName string   `json:"attachment_name"`
	Extensions     []string `json:"extensions"`
	MaxAttachments int      `json:"max_attachments"`
	MaxSize        int64    `json:"max_size"`
}

// CanUpload checks whether uploads are allowed into folderID and returns the
// upload configuration (webhooks, attachment limits) for that folder.
func (c *Client) CanUpload(ctx context.Context, folderID string) (*CanUploadResponse, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, "/user/canUpload/"+folderID, nil, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != nethttp.StatusOK {
		body := readBody(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("canUpload failed: status %d: %s", resp.StatusCode, body)
	}
	var out CanUploadResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	if !out.CanUpload {
		return &out, &UploadNotAllowedError{FolderID: folderID}
	}
	return &out, nil
}

// FragmentDTO is the wire shape of one fragment within FileInfoDTO.
type FragmentDTO struct {
	MessageID    string `json:"message_id"`
	AttachmentID string `json:"attachment_id"`
	Offset       int64  `json:"offset"`
	Sequence     int    `json:"sequence"`
	Size         int64  `json:"size"`
}

// FileInfoDTO is the wire shape of one file returned by the ultraDownload
// metadata endpoint.
type FileInfoDTO struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	EncryptionMethod  string        `json:"encryption_method"`
	Size              int64         `json:"size"`
	Crc32             uint32        `json:"crc32"`
	Key               string        `json:"key,omitempty"`
	IV                string        `json:"iv,omitempty"`
	Password          string        `json:"password,omitempty"`
	Fragments         []FragmentDTO `json:"fragments"`
}

// UltraDownloadMetadata resolves a batch of item IDs (with any required
// resource passwords) into their fragment plans.
func (c *Client) UltraDownloadMetadata(ctx context.Context, ids []string, requiredPasswords map[string]string) ([]FileInfoDTO, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodPost, "/items/ultraDownload", map[string]interface{}{
		"ids":                ids,
		"required_passwords": requiredPasswords,
	}, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != nethttp.StatusOK {
		body := readBody(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ultraDownload metadata fetch failed: status %d: %s", resp.StatusCode, body)
	}
	var out []FileInfoDTO
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AttachmentSignedURLResponse is the wire shape returned when fetching a
// fragment's signed download URL.
type AttachmentSignedURLResponse struct {
	URL string `json:"url"`
}

// AttachmentSignedURL fetches a signed, time-limited URL for one fragment.
func (c *Client) AttachmentSignedURL(ctx context.Context, attachmentID, resourcePassword string) (string, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, "/items/ultraDownload/attachments/"+attachmentID, nil, resourcePassword)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == nethttp.StatusNotFound {
		resp.Body.Close()
		return "", &AttachmentNotFoundError{AttachmentID: attachmentID}
	}
	if resp.StatusCode != nethttp.StatusOK {
		body := readBody(resp.Body)
		resp.Body.Close()
		return "", fmt.Errorf("attachment URL fetch failed: status %d: %s", resp.StatusCode, body)
	}
	var out AttachmentSignedURLResponse
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}
