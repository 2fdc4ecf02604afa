package cipher

import (
	"bytes"
	"testing"
)

func TestPlainIsIdentity(t *testing.T) {
	sc, err := New(Plain, nil, nil, 1234)
	if err != nil {
		t.Fatal(err)
	}
	in := []byte("hello fragment")
	out := sc.Transform(in)
	if !bytes.Equal(in, out) {
		t.Fatalf("plain transform modified input: %q", out)
	}
}

func TestAESCTRSeekMatchesContinuousStream(t *testing.T) {
	key := make([]byte, KeySize)
	iv := make([]byte, AESIVSize)
	for i := range key {
		key[i] = byte(i)
	}

	plaintext := make([]byte, 64)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	full, err := New(AESCTR, key, iv, 0)
	if err != nil {
		t.Fatal(err)
	}
	ciphertext := full.Transform(plaintext)

	// Seek to byte 16 (one full block) and decrypt the remainder; must match
	// the continuous encryption from that point on.
	seeked, err := New(AESCTR, key, iv, 16)
	if err != nil {
		t.Fatal(err)
	}
	recovered := seeked.Transform(ciphertext[16:])
	if !bytes.Equal(recovered, plaintext[16:]) {
		t.Fatalf("seeked AES-CTR decrypt mismatch:\n got  %x\n want %x", recovered, plaintext[16:])
	}
}

func TestAESCTRSeekWithinBlock(t *testing.T) {
	key := make([]byte, KeySize)
	iv := make([]byte, AESIVSize)
	plaintext := make([]byte, 32)
	for i := range plaintext {
		plaintext[i] = byte(100 + i)
	}

	full, _ := New(AESCTR, key, iv, 0)
	ciphertext := full.Transform(plaintext)

	// Seek to a non-block-aligned offset.
	const offset = 5
	seeked, err := New(AESCTR, key, iv, offset)
	if err != nil {
		t.Fatal(err)
	}
	recovered := seeked.Transform(ciphertext[offset:])
	if !bytes.Equal(recovered, plaintext[offset:]) {
		t.Fatalf("mid-block seek mismatch:\n got  %x\n want %x", recovered, plaintext[offset:])
	}
}

func TestChaCha20SeekMatchesContinuousStream(t *testing.T) {
	key := make([]byte, KeySize)
	nonce := make([]byte, ChaCha20NonceSize)
	for i := range key {
		key[i] = byte(255 - i)
	}

	plaintext := make([]byte, 200)
	for i := range plaintext {
		plaintext[i] = byte(i * 3)
	}

	full, err := New(ChaCha20Method, key, nonce, 0)
	if err != nil {
		t.Fatal(err)
	}
	ciphertext := full.Transform(plaintext)

	const offset = 64 // one block
	seeked, err := New(ChaCha20Method, key, nonce, offset)
	if err != nil {
		t.Fatal(err)
	}
	recovered := seeked.Transform(ciphertext[offset:])
	if !bytes.Equal(recovered, plaintext[offset:]) {
		t.Fatalf("seeked ChaCha20 decrypt mismatch:\n got  %x\n want %x", recovered, plaintext[offset:])
	}
}

func TestChaCha20SeekWithinBlock(t *testing.T) {
	key := make([]byte, KeySize)
	nonce := make([]byte, ChaCha20NonceSize)
	plaintext := make([]byte, 150)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	full, _ := New(ChaCha20Method, key, nonce, 0)
	ciphertext := full.Transform(plaintext)

	const offset = 70 // one block + 6 bytes
	seeked, err := New(ChaCha20Method, key, nonce, offset)
	if err != nil {
		t.Fatal(err)
	}
	recovered := seeked.Transform(ciphertext[offset:])
	if !bytes.Equal(recovered, plaintext[offset:]) {
		t.Fatalf("mid-block ChaCha20 seek mismatch:\n got  %x\n want %x", recovered, plaintext[offset:])
	}
}

func TestRejectsWrongKeySizes(t *testing.T) {
	if _, err := New(AESCTR, make([]byte, 10), make([]byte, AESIVSize), 0); err == nil {
		t.Fatal("expected error for short AES key")
	}
	if _, err := New(AESCTR, make([]byte, KeySize), make([]byte, 8), 0); err == nil {
		t.Fatal("expected error for short AES IV")
	}
	if _, err := New(ChaCha20Method, make([]byte, KeySize), make([]byte, AESIVSize), 0); err == nil {
		t.Fatal("expected error for ChaCha20 nonce sized like an AES IV")
	}
}

func TestAdvanceCounterWraps(t *testing.T) {
	iv := make([]byte, 2)
	iv[0] = 0xff
	iv[1] = 0xff
	out := advanceCounter(iv, 1)
	if out[0] != 0x00 || out[1] != 0x00 {
		t.Fatalf("expected counter to wrap to zero, got %x", out)
	}
}
