// Package buffers provides reusable byte buffers to reduce heap allocations
// and GC pressure during fragment download/decrypt and upload/encrypt
// streaming.
package buffers

import "sync"

const (
	// ChunkSize is the buffer size used for streaming fragment bodies and
	// concatenating .part files.
	ChunkSize = 1 << 20 // 1 MiB

	// DecryptChunkSize is the buffer size FileFinalizer uses when
	// decrypting the merged ciphertext into the final plaintext file, per
	// SPEC_FULL.md §4.7.
	DecryptChunkSize = 8 << 10 // 8 KiB
)

var (
	chunkPool = &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, ChunkSize)
			return &buf
		},
	}

	decryptPool = &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, DecryptChunkSize)
			return &buf
		},
	}
)

// GetChunkBuffer retrieves a ChunkSize buffer from the pool. The buffer must
// be returned via PutChunkBuffer when done.
func GetChunkBuffer() *[]byte {
	return chunkPool.Get().(*[]byte)
}

// PutChunkBuffer returns a buffer to the pool. Only buffers of exactly
// ChunkSize are pooled; others are dropped for the GC to collect.
func PutChunkBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == ChunkSize {
		chunkPool.Put(buf)
	}
}

// GetDecryptBuffer retrieves a DecryptChunkSize buffer from the pool, used
// by FileFinalizer's decrypt loop.
func GetDecryptBuffer() *[]byte {
	return decryptPool.Get().(*[]byte)
}

// PutDecryptBuffer returns a buffer to the pool.
func PutDecryptBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == DecryptChunkSize {
		decryptPool.Put(buf)
	}
}
