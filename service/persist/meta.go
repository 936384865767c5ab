package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

type MetaKind int

const (
	MetaKindString MetaKind = iota
	MetaKindStructured
)

// Codec names written next to meta values so a stored value can be decoded without guessing.
const (
	MetaCodecString = "string"
	MetaCodecJSON   = "json"
)

// MetaValue is a metadata value that is either a plain string or a structured value.
// The zero value is the empty string.
type MetaValue struct {
	kind MetaKind
	str  string
	raw  json.RawMessage
}

func StringMeta(s string) MetaValue {
	return MetaValue{kind: MetaKindString, str: s}
}

// StructuredMeta encodes v as a structured value.
func StructuredMeta(v any) (MetaValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return MetaValue{}, fmt.Errorf("encoding meta value: %w", err)
	}
	return MetaValue{kind: MetaKindStructured, raw: b}, nil
}

func MustStructuredMeta(v any) MetaValue {
	m, err := StructuredMeta(v)
	if err != nil {
		panic(err)
	}
	return m
}

func (m MetaValue) Kind() MetaKind { return m.kind }

// IsZero reports whether the value is empty: an empty string, or a structured null, empty list or empty object.
func (m MetaValue) IsZero() bool {
	if m.kind == MetaKindString {
		return strings.TrimSpace(m.str) == ""
	}
	trimmed := bytes.TrimSpace(m.raw)
	switch string(trimmed) {
	case "", "null", "[]", "{}", `""`:
		return true
	}
	return false
}

// String returns the string value, or the encoded form of a structured value.
func (m MetaValue) String() string {
	if m.kind == MetaKindString {
		return m.str
	}
	return string(m.raw)
}

// Decode unmarshals a structured value into dst. A string value is decoded as a JSON string.
func (m MetaValue) Decode(dst any) error {
	if m.kind == MetaKindString {
		b, err := json.Marshal(m.str)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
	return json.Unmarshal(m.raw, dst)
}

func (m MetaValue) Equal(other MetaValue) bool {
	return m.kind == other.kind && m.String() == other.String()
}

// Encode returns the codec name and payload to persist.
func (m MetaValue) Encode() (codec string, payload string) {
	if m.kind == MetaKindStructured {
		return MetaCodecJSON, string(m.raw)
	}
	return MetaCodecString, m.str
}

// DecodeMeta rebuilds a MetaValue from a persisted codec and payload.
func DecodeMeta(codec string, payload string) (MetaValue, error) {
	switch codec {
	case MetaCodecString, "":
		return StringMeta(payload), nil
	case MetaCodecJSON:
		if !json.Valid([]byte(payload)) {
			return MetaValue{}, fmt.Errorf("invalid json meta payload")
		}
		return MetaValue{kind: MetaKindStructured, raw: json.RawMessage(payload)}, nil
	}
	return MetaValue{}, fmt.Errorf("unknown meta codec %q", codec)
}

func (m MetaValue) MarshalJSON() ([]byte, error) {
	if m.kind == MetaKindStructured {
		return m.raw, nil
	}
	return json.Marshal(m.str)
}

var metaKeySanitizer = regexp.MustCompile(`(?i)[^a-z0-9_]`)

// SanitizeMetaKey strips every character outside [a-zA-Z0-9_].
func SanitizeMetaKey(key string) string {
	return metaKeySanitizer.ReplaceAllString(key, "")
}

var errMetaNotFound ErrMetaNotFound

type ErrMetaNotFound struct{}

func (e ErrMetaNotFound) Unwrap() error { return notFoundError }
func (e ErrMetaNotFound) Error() string { return "meta not found" }

type ErrMetaNotFoundByKey struct {
	OwnerID DBID
	Key     string
}

func (e ErrMetaNotFoundByKey) Unwrap() error { return errMetaNotFound }
func (e ErrMetaNotFoundByKey) Error() string {
	return fmt.Sprintf("meta not found for owner=%s key=%s", e.OwnerID, e.Key)
}
