package pause

import "testing"

func TestGateDefaultOpen(t *testing.T) {
	g := NewGate()
	if !g.IsOpen() {
		t.Fatal("gate should start open")
	}
}

func TestGateCloseOpen(t *testing.T) {
	g := NewGate()
	g.Close()
	if g.IsOpen() {
		t.Fatal("gate should be closed")
	}
	g.Open()
	if !g.IsOpen() {
		t.Fatal("gate should be open again")
	}
}

func TestTokenCancelIdempotent(t *testing.T) {
	tok := NewToken()
	if tok.Cancelled() {
		t.Fatal("token should not start cancelled")
	}
	tok.Cancel()
	tok.Cancel() // must not panic
	if !tok.Cancelled() {
		t.Fatal("token should be cancelled")
	}
	select {
	case <-tok.Done():
	default:
		t.Fatal("Done channel should be closed")
	}
}
