package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func testKeyManager(t *testing.T) *KeyManager {
	t.Helper()
	key, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey() error: %v", err)
	}
	km, err := NewKeyManager(key)
	if err != nil {
		t.Fatalf("NewKeyManager() error: %v", err)
	}
	return km
}

func TestNewKeyManager_InvalidKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33} {
		if _, err := NewKeyManager(make([]byte, size)); !errors.Is(err, ErrInvalidKeySize) {
			t.Errorf("size %d: expected ErrInvalidKeySize, got %v", size, err)
		}
	}
}

func TestKeyManager_EncryptDecrypt(t *testing.T) {
	km := testKeyManager(t)
	plaintext := []byte("backuppc-password")

	ct1, err := km.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	ct2, _ := km.Encrypt(plaintext)
	if bytes.Equal(ct1, ct2) {
		t.Error("two encryptions should use different nonces")
	}

	got, err := km.Decrypt(ct1)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestKeyManager_DecryptTampered(t *testing.T) {
	km := testKeyManager(t)
	ct, _ := km.Encrypt([]byte("secret"))
	ct[len(ct)-1] ^= 0xff

	if _, err := km.Decrypt(ct); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
	if _, err := km.Decrypt([]byte("short")); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestKeyManager_Strings(t *testing.T) {
	km := testKeyManager(t)

	enc, err := km.EncryptString("api-key-123")
	if err != nil {
		t.Fatalf("EncryptString() error: %v", err)
	}
	if strings.Contains(enc, "api-key-123") {
		t.Error("ciphertext leaks plaintext")
	}
	dec, err := km.DecryptString(enc)
	if err != nil || dec != "api-key-123" {
		t.Errorf("DecryptString() = %q, %v", dec, err)
	}

	empty, err := km.EncryptString("")
	if err != nil || empty != "" {
		t.Errorf("empty plaintext should stay empty, got %q, %v", empty, err)
	}
	if dec, err := km.DecryptString(""); err != nil || dec != "" {
		t.Errorf("empty ciphertext should decrypt to empty, got %q, %v", dec, err)
	}
	if _, err := km.DecryptString("!!not-base64!!"); err == nil {
		t.Error("expected decode error")
	}
}

func TestKeyManager_WrongKey(t *testing.T) {
	a, b := testKeyManager(t), testKeyManager(t)
	enc, _ := a.EncryptString("secret")
	if _, err := b.DecryptString(enc); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed with another key, got %v", err)
	}
}

func TestMasterKeyFromHex(t *testing.T) {
	key, _ := GenerateMasterKey()
	got, err := MasterKeyFromHex(" " + hex.EncodeToString(key) + "\n")
	if err != nil || !bytes.Equal(got, key) {
		t.Errorf("MasterKeyFromHex() = %x, %v", got, err)
	}
	if _, err := MasterKeyFromHex("abcd"); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("expected ErrInvalidKeySize, got %v", err)
	}
	if _, err := MasterKeyFromHex("zz"); err == nil {
		t.Error("expected hex decode error")
	}
}
