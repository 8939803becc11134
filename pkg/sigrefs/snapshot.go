// Package sigrefs implements the per-peer signed-references protocol
// (spec §4.3): each peer signs a snapshot of every ref in its own
// namespace, and every other peer verifies that snapshot against the
// actual refs before trusting a fetch.
package sigrefs

import (
	"encoding/base64"
	"sort"
	"strings"
	"time"

	"github.com/radicle-collab/heartwood/pkg/canon"
	"github.com/radicle-collab/heartwood/pkg/raderr"
	"github.com/radicle-collab/heartwood/pkg/radcrypto"
	"github.com/radicle-collab/heartwood/pkg/store"
)

// RefEntry is one (name, object-hash) pair of a snapshot, sorted by name
// in the wire form (spec §6 "Sigrefs serialization").
type RefEntry struct {
	Name string `json:"name"`
	OID  string `json:"oid"`
}

// Snapshot is a single rad/sigrefs entry: a signed map of every ref held
// in the signer's namespace, excluding rad/sigrefs itself.
type Snapshot struct {
	RID       store.RID  `json:"rid"`
	Signer    string     `json:"signer"`
	Refs      []RefEntry `json:"refs"`
	Timestamp int64      `json:"timestamp"`
	Previous  *string    `json:"previous"`
	Signature string     `json:"signature"`
}

type signingPayload struct {
	RID       store.RID  `json:"rid"`
	Signer    string     `json:"signer"`
	Refs      []RefEntry `json:"refs"`
	Timestamp int64      `json:"timestamp"`
	Previous  *string    `json:"previous"`
}

func (s *Snapshot) payload() signingPayload {
	return signingPayload{RID: s.RID, Signer: s.Signer, Refs: s.Refs, Timestamp: s.Timestamp, Previous: s.Previous}
}

// sigrefsSuffix ends the ref a namespace's signed snapshot is published
// under; excluded from the snapshot's own map (spec §4.3).
const sigrefsSuffix = "/refs/rad/sigrefs"

// namespace returns the refname prefix of nid's whole namespace. The
// prefix also covers rad/sigrefs; callers skip that ref themselves.
func namespace(nid string) string {
	return store.NamespacePrefix(nid)
}

// Sign recomputes the caller's namespace snapshot from the current ref
// store and writes a new rad/sigrefs tip signed over it, per spec
// §4.3's sign(RID) contract operation.
func Sign(s *store.Store, rid store.RID, signer radcrypto.Keypair) (*Snapshot, error) {
	prefix := namespace(signer.NID.String())
	refs, err := s.ListRefs(rid, prefix)
	if err != nil {
		return nil, raderr.Wrap(raderr.KindStorageTransient, "list namespace refs", err)
	}

	entries := make([]RefEntry, 0, len(refs))
	for name, oid := range refs {
		if strings.HasSuffix(name, sigrefsSuffix) {
			continue
		}
		entries = append(entries, RefEntry{Name: name, OID: oid})
	}
	sortRefEntries(entries)

	var previous *string
	if tip, ok, err := s.ReadRef(rid, store.NamespacedSigrefs(signer.NID.String())); err != nil {
		return nil, raderr.Wrap(raderr.KindStorageTransient, "read previous sigrefs tip", err)
	} else if ok {
		previous = &tip
	}

	snap := &Snapshot{
		RID: rid, Signer: signer.NID.String(), Refs: entries,
		Timestamp: time.Now().UnixMilli(), Previous: previous,
	}
	payloadBytes, err := canon.Marshal(snap.payload())
	if err != nil {
		return nil, err
	}
	snap.Signature = base64.StdEncoding.EncodeToString(signer.Sign(payloadBytes))

	full, err := canon.Marshal(snap)
	if err != nil {
		return nil, err
	}
	if err := s.Transaction(rid, func(txn *store.Txn) error {
		hash, err := txn.WriteObject(full)
		if err != nil {
			return err
		}
		txn.SetRef(store.NamespacedSigrefs(signer.NID.String()), hash)
		return nil
	}); err != nil {
		return nil, raderr.Wrap(raderr.KindStorageTransient, "write sigrefs tip", err)
	}
	return snap, nil
}

func sortRefEntries(entries []RefEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}
