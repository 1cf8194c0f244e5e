// Package vault encrypts and decrypts credential blobs with AES-256-GCM.
// Key material is supplied externally (environment or secret store); there
// is no compiled-in default key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

const keySize = 32

// CredentialError is returned for any encryption or decryption failure.
// It is always fatal to the calling operation.
type CredentialError struct {
	Op  string
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %s failed: %v", e.Op, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Vault performs symmetric encryption of authentication configuration.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault from hex- or base64-encoded 32-byte key material.
func New(keyMaterial string) (*Vault, error) {
	if keyMaterial == "" {
		return nil, &CredentialError{Op: "init", Err: fmt.Errorf("encryption key material is required")}
	}

	key, err := decodeKey(keyMaterial)
	if err != nil {
		return nil, &CredentialError{Op: "init", Err: err}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &CredentialError{Op: "init", Err: err}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &CredentialError{Op: "init", Err: err}
	}
	return &Vault{aead: aead}, nil
}

func decodeKey(material string) ([]byte, error) {
	if key, err := hex.DecodeString(material); err == nil && len(key) == keySize {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(material); err == nil && len(key) == keySize {
		return key, nil
	}
	return nil, fmt.Errorf("key material must decode to %d bytes (hex or base64)", keySize)
}

// GenerateKey returns fresh hex-encoded key material suitable for New.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", &CredentialError{Op: "keygen", Err: err}
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext). Empty
// input passes through unchanged.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", &CredentialError{Op: "encrypt", Err: err}
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Empty input passes through unchanged.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &CredentialError{Op: "decrypt", Err: err}
	}
	if len(raw) < v.aead.NonceSize() {
		return "", &CredentialError{Op: "decrypt", Err: fmt.Errorf("ciphertext shorter than nonce")}
	}
	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &CredentialError{Op: "decrypt", Err: err}
	}
	return string(plaintext), nil
}
