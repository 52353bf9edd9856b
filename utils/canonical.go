package utils

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// CanonicalJSON renders a value as JSON with object keys sorted
// lexicographically at every depth. Two structurally equal values always
// produce the same string regardless of key insertion order. MySQL JSON
// columns may reorder object keys on round-trip, so hashing naive marshal
// output would make the same logical event hash differently after read-back.
//
// Arrays keep their order; numbers keep their original textual form
// (decoded as json.Number, never through float64); nil and JSON null both
// encode as "null".
func CanonicalJSON(v any) (string, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// CanonicalizeRawJSON canonicalizes an already-encoded JSON document. Input
// with anything but whitespace after the first value is rejected: two inputs
// must never canonicalize identically unless they are the same document.
func CanonicalizeRawJSON(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "null", nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		return "", errors.New("trailing data after JSON value")
	}
	return CanonicalJSON(v)
}

// Sha256Hex returns the lowercase hex SHA-256 of s.
func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case json.Number:
		buf.WriteString(t.String())
	case float64:
		// Only reachable when callers hand us a decoded value that did not
		// use UseNumber. Marshal keeps the shortest round-trippable form.
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case int:
		buf.WriteString(strconv.Itoa(t))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case []any:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case json.RawMessage:
		s, err := CanonicalizeRawJSON(t)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	default:
		// Structs and other composites: round-trip through JSON so the
		// map/slice cases above apply.
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("canonical encode %T: %w", v, err)
		}
		s, err := CanonicalizeRawJSON(b)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	}
	return nil
}
