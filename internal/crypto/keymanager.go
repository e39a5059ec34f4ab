// Package crypto protects site credentials at rest and issues agent tokens.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	// ErrInvalidKeySize indicates the encryption key is not the correct size.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")
	// ErrInvalidCiphertext indicates the ciphertext is too short or malformed.
	ErrInvalidCiphertext = errors.New("ciphertext too short")
	// ErrDecryptionFailed indicates authentication of the ciphertext failed.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// KeyManager encrypts BackupPC passwords and api keys with AES-256-GCM.
type KeyManager struct {
	aead cipher.AEAD
}

// NewKeyManager creates a KeyManager from a 32 byte master key.
func NewKeyManager(masterKey []byte) (*KeyManager, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &KeyManager{aead: aead}, nil
}

// MasterKeyFromHex decodes the ENCRYPTION_KEY setting.
func MasterKeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return key, nil
}

// Encrypt returns nonce || ciphertext || tag.
func (km *KeyManager) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, km.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return km.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt.
func (km *KeyManager) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := km.aead.NonceSize()
	if len(ciphertext) < ns+km.aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := km.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptString encrypts s to base64. An empty string stays empty so unset
// credentials remain distinguishable.
func (km *KeyManager) EncryptString(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	ct, err := km.Encrypt([]byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptString reverses EncryptString.
func (km *KeyManager) DecryptString(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	pt, err := km.Decrypt(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// GenerateMasterKey returns a random key suitable for ENCRYPTION_KEY (hex encode it).
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return key, nil
}
