package cipher

import (
	"crypto/rand"
	"fmt"
)

// GenerateKey returns a cryptographically random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cipher: generate key: %w", err)
	}
	return key, nil
}

// GenerateAESIV returns a cryptographically random 16-byte AES-CTR IV.
func GenerateAESIV() ([]byte, error) {
	iv := make([]byte, AESIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("cipher: generate AES IV: %w", err)
	}
	return iv, nil
}

// GenerateChaChaNonce returns a cryptographically random 12-byte ChaCha20 nonce.
func GenerateChaChaNonce() ([]byte, error) {
	nonce := make([]byte, ChaCha20NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cipher: generate ChaCha20 nonce: %w", err)
	}
	return nonce, nil
}
