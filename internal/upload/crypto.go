package upload

import (
	"crypto/rand"
	"fmt"

	"github.com/rescale-labs/ultratransfer/internal/cipher"
)

// NewCrypto generates a fresh key/iv pair for method using a
// cryptographically strong RNG. Plain carries neither.
func NewCrypto(method cipher.Method) (Crypto, error) {
	switch method {
	case cipher.Plain:
		return Crypto{Method: cipher.Plain}, nil
	case cipher.AESCTR:
		key, err := randomBytes(cipher.KeySize)
		if err != nil {
			return Crypto{}, err
		}
		iv, err := randomBytes(cipher.AESIVSize)
		if err != nil {
			return Crypto{}, err
		}
		return Crypto{Method: cipher.AESCTR, Key: key, IV: iv}, nil
	case cipher.ChaCha20Method:
		key, err := randomBytes(cipher.KeySize)
		if err != nil {
			return Crypto{}, err
		}
		iv, err := randomBytes(cipher.ChaCha20NonceSize)
		if err != nil {
			return Crypto{}, err
		}
		return Crypto{Method: cipher.ChaCha20Method, Key: key, IV: iv}, nil
	default:
		return Crypto{}, fmt.Errorf("upload: unsupported encryption method %v", method)
	}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate random bytes: %w", err)
	}
	return b, nil
}
