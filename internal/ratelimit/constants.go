// Package ratelimit provides a token-bucket rate limiter used to pace
// outbound REST calls to the backend collaborator. This is a distinct
// concern from internal/throttle, which is an observation-only signal
// AutoScaler reads; RateLimiter is an admission gate callers wait on
// before they act.
package ratelimit

// Target rate for calls against the backend's REST surface (§6): login,
// profile, discord settings, canUpload, metadata fetch, attachment URL
// fetch. Kept conservative since the attachment-host webhook calls
// (DiscordUploader) are paced separately by their own 429/503 handling,
// not this limiter.
const (
	// DefaultRatePerSec is the sustained request rate.
	DefaultRatePerSec = 5.0

	// DefaultBurstCapacity allows a short burst (e.g. a metadata fetch
	// immediately followed by several attachment URL fetches) before
	// settling into the sustained rate.
	DefaultBurstCapacity = 20.0
)
