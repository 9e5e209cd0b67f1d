// Package apikey mints and verifies Ergo's opaque bearer tokens, per
// spec.md §6: `er1.<22-char-base64-uuid>.<22-char-base64-random>`
// (49 characters total). Only the SHA3-512 hash of the full key is
// stored, alongside the first 16 characters as an indexable lookup
// prefix -- the key itself is never persisted or logged.
package apikey

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

const (
	// Prefix is the fixed version tag every minted key starts with.
	Prefix = "er1"

	// PrefixLen is how many characters of the full key are stored
	// unhashed as a lookup index (spec.md §6).
	PrefixLen = 16

	segmentBytes = 16 // uuid and random segments are both 16 raw bytes, 22 base64 chars
)

var b64 = base64.RawURLEncoding

var (
	// ErrMalformed is returned when a presented key doesn't match the
	// er1.<uuid>.<random> shape at all.
	ErrMalformed = errors.New("apikey: malformed key")
)

// Key is a freshly minted API key: Token is shown to the caller exactly
// once, Hash and LookupPrefix are what gets stored.
type Key struct {
	Token        string
	Hash         [64]byte
	LookupPrefix string
}

// New mints a key bound to the given uuid (the entity the key
// authenticates as, e.g. an org or service account id).
func New(id uuid.UUID) (Key, error) {
	random := make([]byte, segmentBytes)
	if _, err := rand.Read(random); err != nil {
		return Key{}, fmt.Errorf("apikey: generating random segment: %w", err)
	}

	idBytes, err := id.MarshalBinary()
	if err != nil {
		return Key{}, fmt.Errorf("apikey: marshaling id: %w", err)
	}

	token := strings.Join([]string{Prefix, b64.EncodeToString(idBytes), b64.EncodeToString(random)}, ".")
	return newKey(token), nil
}

func newKey(token string) Key {
	return Key{
		Token:        token,
		Hash:         sha3.Sum512([]byte(token)),
		LookupPrefix: lookupPrefix(token),
	}
}

func lookupPrefix(token string) string {
	if len(token) < PrefixLen {
		return token
	}
	return token[:PrefixLen]
}

// ParseID recovers the bound uuid from a key's token without needing
// the stored hash, so a caller can look up which entity presented the
// key before verifying it matches that entity's stored hash.
func ParseID(token string) (uuid.UUID, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != Prefix {
		return uuid.Nil, ErrMalformed
	}
	idBytes, err := b64.DecodeString(parts[1])
	if err != nil || len(idBytes) != segmentBytes {
		return uuid.Nil, ErrMalformed
	}
	return uuid.FromBytes(idBytes)
}

// Verify reports whether token hashes to storedHash.
func Verify(token string, storedHash [64]byte) bool {
	got := sha3.Sum512([]byte(token))
	return subtle.ConstantTimeCompare(got[:], storedHash[:]) == 1
}
