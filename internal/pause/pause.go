// Package pause provides the two synchronization primitives the transfer
// engine uses in place of a single general-purpose event: a resettable
// binary latch for pause/resume, and a one-shot token for cancellation.
package pause

import "sync"

// Gate is a resettable binary latch, open by default. Workers call Wait or
// IsOpen to check whether they should proceed; a closed gate means "paused".
// Unlike a sync.Cond, any number of readers can poll IsOpen without holding a
// lock across a blocking wait, which matches the engine's poll-at-chunk-
// granularity design instead of an instantaneous wake-up.
type Gate struct {
	mu   sync.Mutex
	open bool
}

// NewGate returns a Gate that starts open (unpaused).
func NewGate() *Gate {
	return &Gate{open: true}
}

// Close pauses the gate.
func (g *Gate) Close() {
	g.mu.Lock()
	g.open = false
	g.mu.Unlock()
}

// Open resumes the gate.
func (g *Gate) Open() {
	g.mu.Lock()
	g.open = true
	g.mu.Unlock()
}

// IsOpen reports whether the gate currently lets work proceed.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Token is a one-shot, non-resettable cancellation signal. Closing it more
// than once is safe; it only ever transitions open -> closed.
type Token struct {
	once sync.Once
	ch   chan struct{}
}

// NewToken returns an unfired Token.
func NewToken() *Token {
	return &Token{ch: make(chan struct{})}
}

// Cancel fires the token. Idempotent.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.ch) })
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once Cancel has been called, for use
// in select statements alongside other suspension points.
func (t *Token) Done() <-chan struct{} {
	return t.ch
}
