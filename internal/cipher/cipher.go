// Package cipher implements the seekable stream ciphers the transfer engine
// uses to encrypt and decrypt fragments independently of byte offset: AES-CTR
// and ChaCha20, plus a Plain passthrough. Seeking to offset N re-derives the
// keystream position N would have reached had the cipher run continuously
// from offset 0, without ever producing the bytes before N.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// Method identifies which stream cipher (if any) frames a chunk of data.
type Method int

const (
	// Plain performs no transformation.
	Plain Method = iota
	// AESCTR is AES in CTR mode with a 16-byte IV treated as a big-endian block counter.
	AESCTR
	// ChaCha20Method is RFC 8439-style ChaCha20 with a 12-byte nonce.
	ChaCha20Method
)

const (
	// KeySize is the key length in bytes for both AES-256-CTR and ChaCha20.
	KeySize = 32
	// AESIVSize is the IV length in bytes for AES-CTR.
	AESIVSize = aes.BlockSize // 16
	// ChaCha20NonceSize is the nonce length in bytes for ChaCha20 (distinct from AESIVSize).
	ChaCha20NonceSize = chacha20.NonceSize // 12
)

// StreamCipher transforms a byte stream starting at an arbitrary offset,
// without needing the bytes before that offset to have passed through it.
type StreamCipher struct {
	method Method
	stream stdcipher.Stream // nil for Plain
}

// New builds a StreamCipher for method, seeked so that the first call to
// Transform produces the keystream-XOR'd output that would correspond to
// plaintext/ciphertext byte startByte.
//
// For AES-CTR the 16-byte iv is treated as a big-endian integer counter: it
// is advanced by startByte/16 blocks, and the remaining startByte%16 bytes
// are discarded by feeding that many zero bytes through the cipher.
//
// For ChaCha20 the stored 12-byte nonce is combined with a 4-byte
// little-endian block counter (startByte/64) to form the initial counter
// state, and the remaining startByte%64 bytes are discarded the same way.
func New(method Method, key, iv []byte, startByte int64) (*StreamCipher, error) {
	switch method {
	case Plain:
		return &StreamCipher{method: Plain}, nil

	case AESCTR:
		if len(key) != KeySize {
			return nil, fmt.Errorf("cipher: AES-CTR key must be %d bytes, got %d", KeySize, len(key))
		}
		if len(iv) != AESIVSize {
			return nil, fmt.Errorf("cipher: AES-CTR iv must be %d bytes, got %d", AESIVSize, len(iv))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("cipher: %w", err)
		}
		seekedIV := advanceCounter(iv, startByte/int64(AESIVSize))
		stream := stdcipher.NewCTR(block, seekedIV)
		sc := &StreamCipher{method: AESCTR, stream: stream}
		sc.discard(int(startByte % int64(AESIVSize)))
		return sc, nil

	case ChaCha20Method:
		if len(key) != KeySize {
			return nil, fmt.Errorf("cipher: ChaCha20 key must be %d bytes, got %d", KeySize, len(key))
		}
		if len(iv) != ChaCha20NonceSize {
			return nil, fmt.Errorf("cipher: ChaCha20 nonce must be %d bytes, got %d", ChaCha20NonceSize, len(iv))
		}
		blockCounter := uint32(startByte / 64)
		stream, err := chacha20.NewUnauthenticatedCipher(key, iv)
		if err != nil {
			return nil, fmt.Errorf("cipher: %w", err)
		}
		stream.SetCounter(blockCounter)
		sc := &StreamCipher{method: ChaCha20Method, stream: stream}
		sc.discard(int(startByte % 64))
		return sc, nil

	default:
		return nil, fmt.Errorf("cipher: unsupported method %v", method)
	}
}

// advanceCounter treats iv as a big-endian unsigned integer and returns
// iv + blocks, wrapping modulo 2^(8*len(iv)) the way a fixed-width counter
// would.
func advanceCounter(iv []byte, blocks int64) []byte {
	out := make([]byte, len(iv))
	copy(out, iv)
	carry := blocks
	for i := len(out) - 1; i >= 0 && carry != 0; i-- {
		sum := int64(out[i]) + carry
		out[i] = byte(sum & 0xff)
		carry = sum >> 8
	}
	return out
}

func (sc *StreamCipher) discard(n int) {
	if n <= 0 || sc.stream == nil {
		return
	}
	zeros := make([]byte, n)
	sc.stream.XORKeyStream(zeros, zeros)
}

// Transform applies the cipher to src and returns the result. For Plain it
// returns src unchanged; for AES-CTR/ChaCha20 it XORs src with the next
// len(src) bytes of keystream, advancing the internal position.
func (sc *StreamCipher) Transform(src []byte) []byte {
	if sc.method == Plain || sc.stream == nil {
		return src
	}
	dst := make([]byte, len(src))
	sc.stream.XORKeyStream(dst, src)
	return dst
}

// Finalize returns any trailing bytes the cipher owes the caller. AES-CTR,
// ChaCha20 and Plain are all pure stream transforms with nothing to flush,
// so this always returns nil; it exists so callers that are agnostic to the
// method (and might later support a block-padded mode) have one place to
// call.
func (sc *StreamCipher) Finalize() []byte {
	return nil
}
