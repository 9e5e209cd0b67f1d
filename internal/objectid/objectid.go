// Package objectid implements Ergo's prefixed object identifiers: a type
// tag plus a 128-bit UUID, serialized externally as a short prefix
// followed by the UUID encoded in URL-safe base64 without padding.
package objectid

import (
	"bytes"
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind identifies the entity type an ObjectId belongs to. Rust's original
// used a const generic parameter selecting a prefix string; Go has no
// equivalent compile-time string constant, so Kind is a small int with a
// prefix lookup table instead.
type Kind uint8

const (
	KindTask Kind = iota
	KindOrg
	KindRole
	KindUser
	KindInput
	KindAction
	KindInputCategory
	KindActionCategory
	KindAccount
	KindTaskTrigger
	KindTaskTemplate
	KindNotifyEndpoint
	KindNotifyListener
)

var prefixes = map[Kind]string{
	KindTask:           "tsk",
	KindOrg:            "org",
	KindRole:           "rl",
	KindUser:           "usr",
	KindInput:          "inp",
	KindAction:         "act",
	KindInputCategory:  "icat",
	KindActionCategory: "acat",
	KindAccount:        "acct",
	KindTaskTrigger:    "trg",
	KindTaskTemplate:   "tmpl",
	KindNotifyEndpoint: "ne",
	KindNotifyListener: "nl",
}

var ErrInvalidPrefix = errors.New("objectid: invalid prefix")
var ErrDecodeFailure = errors.New("objectid: failed to decode")

// ID is an opaque, prefixed object identifier. The zero value is not a
// valid id.
type ID struct {
	kind Kind
	uuid uuid.UUID
}

// New mints a fresh random id of the given kind.
func New(kind Kind) ID {
	return ID{kind: kind, uuid: uuid.New()}
}

// FromUUID wraps an existing UUID with a kind, for ids loaded from
// Postgres columns that store the raw UUID.
func FromUUID(kind Kind, u uuid.UUID) ID {
	return ID{kind: kind, uuid: u}
}

// Kind returns the id's type tag.
func (id ID) Kind() Kind { return id.kind }

// UUID returns the underlying UUID.
func (id ID) UUID() uuid.UUID { return id.uuid }

// IsZero reports whether this is the unset zero value.
func (id ID) IsZero() bool { return id.uuid == uuid.Nil }

func (id ID) prefix() string {
	p, ok := prefixes[id.kind]
	if !ok {
		return ""
	}
	return p
}

// String renders the prefixed, base64url-nopad form (prefix + 22 chars).
func (id ID) String() string {
	return id.prefix() + base64.RawURLEncoding.EncodeToString(id.uuid[:])
}

// Parse parses the prefixed string form for a specific kind.
func Parse(kind Kind, s string) (ID, error) {
	prefix, ok := prefixes[kind]
	if !ok {
		return ID{}, ErrInvalidPrefix
	}
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return ID{}, fmt.Errorf("%w: expected %q", ErrInvalidPrefix, prefix)
	}
	u, err := decodeSuffix(s[len(prefix):])
	if err != nil {
		return ID{}, err
	}
	return ID{kind: kind, uuid: u}, nil
}

// ParseAny parses the prefixed form, trying every known kind, for
// contexts where the expected kind isn't known up front (e.g. a generic
// audit log reader). Parsing accepts the raw UUID form as a fallback for
// interoperability with JSON originating from the database, where a
// `jsonb_build_object` call may emit the bare UUID instead of the
// prefixed string.
func ParseAny(s string) (ID, error) {
	for kind, prefix := range prefixes {
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			if u, err := decodeSuffix(s[len(prefix):]); err == nil {
				return ID{kind: kind, uuid: u}, nil
			}
		}
	}
	if u, err := uuid.Parse(s); err == nil {
		return ID{uuid: u}, nil
	}
	return ID{}, ErrDecodeFailure
}

func decodeSuffix(s string) (uuid.UUID, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return uuid.UUID{}, ErrDecodeFailure
	}
	u, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.UUID{}, ErrDecodeFailure
	}
	return u, nil
}

// MarshalJSON serializes into the prefixed string form.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON is not directly usable on ID alone since the kind isn't
// known from the JSON value; callers decode into a kind-specific wrapper
// type instead (see TaskID etc. below) whose UnmarshalJSON knows its kind.

// Value implements driver.Valuer, storing as a raw Postgres uuid.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return id.uuid.String(), nil
}

// ScanInto populates id from a database value for a known kind.
func ScanInto(id *ID, kind Kind, src any) error {
	switch v := src.(type) {
	case nil:
		*id = ID{}
		return nil
	case []byte:
		u, err := uuid.ParseBytes(v)
		if err != nil {
			return err
		}
		*id = ID{kind: kind, uuid: u}
		return nil
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		*id = ID{kind: kind, uuid: u}
		return nil
	default:
		return fmt.Errorf("objectid: cannot scan %T", src)
	}
}

// Equal reports whether two ids refer to the same kind and UUID.
func (id ID) Equal(other ID) bool {
	return id.kind == other.kind && bytes.Equal(id.uuid[:], other.uuid[:])
}
