package cache

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/gob"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// NonceSize is the size in bytes of the random nonce in front of every
	// sealed entry.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the size in bytes of the authentication tag.
	TagSize = chacha20poly1305.Overhead
)

func deriveKey(seed []byte) [chacha20poly1305.KeySize]byte {
	h := sha256.New()
	h.Write(seed)
	h.Write([]byte("stringfog-cache-encryption-v1"))
	var key [chacha20poly1305.KeySize]byte
	copy(key[:], h.Sum(nil))
	return key
}

// Encrypt serializes data with gob and seals it with ChaCha20-Poly1305
// under a key derived from seed.
func Encrypt(data any, seed []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return nil, fmt.Errorf("cache serialization failed: %v", err)
	}
	key := deriveKey(seed)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("cache: create aead: %w", err)
	}
	nonce := make([]byte, NonceSize, NonceSize+buf.Len()+TagSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %v", err)
	}
	return aead.Seal(nonce, nonce, buf.Bytes(), nil), nil
}

// Decrypt verifies and decodes a sealed entry into out.
func Decrypt(encrypted, seed []byte, out any) error {
	if len(encrypted) < NonceSize+TagSize {
		return fmt.Errorf("invalid encrypted cache: payload too short (%d bytes)", len(encrypted))
	}
	key := deriveKey(seed)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return fmt.Errorf("cache: create aead: %w", err)
	}
	plaintext, err := aead.Open(nil, encrypted[:NonceSize], encrypted[NonceSize:], nil)
	if err != nil {
		return fmt.Errorf("decryption failed (cache tampered or wrong key)")
	}
	if err := gob.NewDecoder(bytes.NewReader(plaintext)).Decode(out); err != nil {
		return fmt.Errorf("cache deserialization failed: %v", err)
	}
	return nil
}

// DeriveKey exposes the key derivation for testing and diagnostics.
func DeriveKey(seed []byte) [chacha20poly1305.KeySize]byte {
	return deriveKey(seed)
}
