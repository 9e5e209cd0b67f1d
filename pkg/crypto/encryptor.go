// Package crypto encrypts the credential blob stored in an Account's
// fields column (spec.md §3's Account.fields), so Postgres never holds a
// task's API keys or passwords in plaintext. Scoped to exactly that one
// job: envelope encryption with a fresh per-call data key, the rest of a
// generic crypto library's surface trimmed away.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// KeySize is the AES-256 key length in bytes, for both the master key
	// and each call's generated data key.
	KeySize = 32

	// nonceSize is the GCM nonce length in bytes.
	nonceSize = 12
)

var (
	ErrInvalidKey       = errors.New("invalid encryption key: must be 32 bytes (64 hex characters)")
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or key")
	ErrNoMasterKey      = errors.New("master encryption key not configured")
)

// Encryptor encrypts and decrypts Account.Fields blobs under a master
// key, read once from ENCRYPTION_KEY at process start.
type Encryptor struct {
	masterKey []byte
}

// NewEncryptor builds an Encryptor from the ENCRYPTION_KEY environment
// variable (64 hex characters). Falls back to a fixed development key
// when unset, matching the dev-mode convenience the rest of this
// repository's pkg/config defaults follow -- never rely on this fallback
// outside local development.
func NewEncryptor() (*Encryptor, error) {
	keyHex := os.Getenv("ENCRYPTION_KEY")
	if keyHex == "" {
		keyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key hex: %w", err)
	}

	return NewEncryptorWithKey(key)
}

// NewEncryptorWithKey builds an Encryptor from an explicit key, mainly
// for tests that need a deterministic master key.
func NewEncryptorWithKey(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Encryptor{masterKey: key}, nil
}

// EncryptedData is the envelope stored in the accounts.fields column:
// credentials sealed under a one-time data key, which is itself sealed
// under the master key.
type EncryptedData struct {
	Ciphertext   []byte `json:"ciphertext"`
	EncryptedDEK []byte `json:"encrypted_dek"`
	DataNonce    []byte `json:"data_nonce"`
	DEKNonce     []byte `json:"dek_nonce"`
}

// Encrypt seals data (the JSON-encoded Account.Fields map) under a fresh
// data key, then seals that data key under the master key -- so rotating
// the master key never requires re-encrypting every account's
// credentials, only re-wrapping their data keys.
func (e *Encryptor) Encrypt(data []byte) (*EncryptedData, error) {
	dek := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("generating data key: %w", err)
	}
	defer zero(dek)

	ciphertext, dataNonce, err := seal(dek, data)
	if err != nil {
		return nil, fmt.Errorf("encrypting account fields: %w", err)
	}

	if e.masterKey == nil {
		return nil, ErrNoMasterKey
	}
	encryptedDEK, dekNonce, err := seal(e.masterKey, dek)
	if err != nil {
		return nil, fmt.Errorf("wrapping data key: %w", err)
	}

	return &EncryptedData{
		Ciphertext:   ciphertext,
		EncryptedDEK: encryptedDEK,
		DataNonce:    dataNonce,
		DEKNonce:     dekNonce,
	}, nil
}

// Decrypt reverses Encrypt: unwrap the data key with the master key, then
// open the ciphertext with it.
func (e *Encryptor) Decrypt(ed *EncryptedData) ([]byte, error) {
	if e.masterKey == nil {
		return nil, ErrNoMasterKey
	}

	dek, err := open(e.masterKey, ed.EncryptedDEK, ed.DEKNonce)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	defer zero(dek)

	plaintext, err := open(dek, ed.Ciphertext, ed.DataNonce)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

func seal(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func open(key, ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != nonceSize {
		return nil, ErrDecryptionFailed
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
