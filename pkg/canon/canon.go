// Package canon implements the single canonical encoder used by every
// hashed or signed structure in heartwood: identity documents, sigrefs
// snapshots, and COB entries.
//
// Determinism is a correctness property here, not a style preference
// (see spec §9 Design Notes), so there is exactly one encoder and every
// package that hashes or signs a value goes through it.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Marshal renders v as pretty-printed JSON with sorted object keys, LF
// line endings, and a trailing newline. Go's encoding/json already sorts
// map[string]T keys during marshaling; round-tripping through
// map[string]interface{} normalizes struct values (whose field order is
// otherwise declaration order) onto the same footing.
func Marshal(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, fmt.Errorf("canon: normalize: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("canon: encode: %w", err)
	}

	out := buf.Bytes()
	// json.Encoder.Encode already appends a single "\n"; strip any extra
	// trailing whitespace so callers get exactly one trailing newline.
	out = bytes.TrimRight(out, "\n")
	out = append(out, '\n')
	return out, nil
}

// normalize marshals then unmarshals v into a generic interface{} tree so
// that every map at every depth is re-marshaled with sorted keys.
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

// Hash returns the SHA-256 digest of the canonical encoding of v.
func Hash(v interface{}) ([32]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// Equal reports whether two values canonicalize to the same bytes.
func Equal(a, b interface{}) (bool, error) {
	ab, err := Marshal(a)
	if err != nil {
		return false, err
	}
	bb, err := Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}
