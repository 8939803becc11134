// Copyright 2025 heartwood contributors
//
// Package cob implements the Collaborative Object engine: typed,
// append-only, Ed25519-signed action DAGs that encode issues, patches,
// jobs, and (via pkg/identity) the repository identity itself.
//
// The engine is schema-agnostic: it knows how to hash, sign, store, and
// fold entries, but the accumulator shape and the action reducers are
// registered per type (spec §4.2, §9 "Dynamic action payloads").
package cob

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/radicle-collab/heartwood/pkg/radcrypto"
)

// ObjectID identifies a COB: the content hash of its creation entry.
type ObjectID = radcrypto.ObjectID

// EntryID identifies one DAG vertex: the content hash of its full
// canonical serialization (including the author's signature).
type EntryID = radcrypto.ObjectID

// Manifest pins the type name and schema version an entry was authored
// against, carried inside the hashed/signed payload so a future schema
// migration can be detected rather than silently misfolded.
type Manifest struct {
	TypeName string `json:"typeName"`
	Version  int    `json:"version"`
}

// Entry is one vertex of a COB's history DAG.
type Entry struct {
	ID ObjectID `json:"-"`

	Type           string            `json:"type"`
	Actions        []json.RawMessage `json:"actions"`
	Parents        []EntryID         `json:"parents"`
	Author         radcrypto.NID     `json:"author"`
	TimestampMilli int64             `json:"timestamp"`
	Related        []string          `json:"related,omitempty"`
	IdentityAnchor string            `json:"identityAnchor,omitempty"`
	Manifest       Manifest          `json:"manifest"`
	Signature      string            `json:"signature"` // base64 Ed25519, present on every stored entry
}

// signingPayload is the subset of Entry the signature covers: everything
// except the signature field itself (spec §4.2).
type signingPayload struct {
	Type           string            `json:"type"`
	Actions        []json.RawMessage `json:"actions"`
	Parents        []EntryID         `json:"parents"`
	Author         radcrypto.NID     `json:"author"`
	TimestampMilli int64             `json:"timestamp"`
	Related        []string          `json:"related,omitempty"`
	IdentityAnchor string            `json:"identityAnchor,omitempty"`
	Manifest       Manifest          `json:"manifest"`
}

func (e *Entry) payload() signingPayload {
	return signingPayload{
		Type:           e.Type,
		Actions:        e.Actions,
		Parents:        e.Parents,
		Author:         e.Author,
		TimestampMilli: e.TimestampMilli,
		Related:        e.Related,
		IdentityAnchor: e.IdentityAnchor,
		Manifest:       e.Manifest,
	}
}

// normalizeParents sorts and deduplicates parent ids, per spec §4.2.
func normalizeParents(parents []EntryID) []EntryID {
	seen := make(map[EntryID]bool, len(parents))
	out := make([]EntryID, 0, len(parents))
	for _, p := range parents {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func normalizeRelated(related []string) []string {
	out := append([]string(nil), related...)
	sort.Strings(out)
	return out
}

// base64Sig / parseSig bridge the wire (base64 string) and signing
// (raw bytes) representations of Signature.
func base64Sig(sig []byte) string { return base64.StdEncoding.EncodeToString(sig) }

func parseSig(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("cob: decode signature: %w", err)
	}
	return b, nil
}
