package cob

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/radicle-collab/heartwood/pkg/raderr"
	"github.com/radicle-collab/heartwood/pkg/radcrypto"
	"github.com/radicle-collab/heartwood/pkg/store"
)

// Engine is the schema-agnostic COB engine: it knows how to create,
// append to, and fold object DAGs, but defers accumulator shape and
// per-action authorization to the Registry (spec §4.2).
type Engine struct {
	store    *store.Store
	registry *Registry
}

// NewEngine builds a COB engine over a ref/object store and type
// registry.
func NewEngine(s *store.Store, registry *Registry) *Engine {
	return &Engine{store: s, registry: registry}
}

// Create appends a new object's first (root) entry, signed by author,
// and returns its ObjectID (which equals the entry's own EntryID).
func (e *Engine) Create(rid store.RID, typeName string, actions []json.RawMessage, author radcrypto.Keypair, identityAnchor string, related []string) (ObjectID, error) {
	id, err := e.Append(rid, typeName, "", actions, nil, author, identityAnchor, related)
	if err != nil {
		return "", err
	}
	return ObjectID(id), nil
}

// Append adds a new entry to an existing (or, when objectID is "", a
// brand-new) object's DAG. parents must already be known to the local
// object store (spec §4.2 "Parenting and DAG").
func (e *Engine) Append(rid store.RID, typeName string, objectID ObjectID, actions []json.RawMessage, parents []EntryID, author radcrypto.Keypair, identityAnchor string, related []string) (EntryID, error) {
	if _, ok := e.registry.Lookup(typeName); !ok {
		return "", raderr.New(raderr.KindNotFound, fmt.Sprintf("cob type %q not registered", typeName))
	}

	for _, p := range parents {
		if _, ok, err := e.store.ReadObject(rid, string(p)); err != nil {
			return "", raderr.Wrap(raderr.KindStorageTransient, "read parent entry", err)
		} else if !ok {
			return "", raderr.New(raderr.KindNotFound, fmt.Sprintf("parent entry %s not known locally", p))
		}
	}

	entry := &Entry{
		Type:           typeName,
		Actions:        actions,
		Parents:        normalizeParents(parents),
		Author:         author.NID,
		TimestampMilli: time.Now().UnixMilli(),
		Related:        normalizeRelated(related),
		IdentityAnchor: identityAnchor,
		Manifest:       Manifest{TypeName: typeName, Version: 1},
	}
	if err := sealEntry(entry, author); err != nil {
		return "", err
	}

	raw, err := encodeEntry(entry)
	if err != nil {
		return "", err
	}

	var effectiveObjectID ObjectID
	if objectID == "" {
		effectiveObjectID = ObjectID(entry.ID) // creation entry: object id == entry id
	} else {
		effectiveObjectID = objectID
	}

	if err := e.store.Transaction(rid, func(txn *store.Txn) error {
		if _, err := txn.WriteObject(raw); err != nil {
			return err
		}
		txn.SetRef(store.NamespacedCob(author.NID.String(), typeName, string(effectiveObjectID)), string(entry.ID))
		return nil
	}); err != nil {
		return "", raderr.Wrap(raderr.KindStorageTransient, "append cob entry", err)
	}

	return entry.ID, nil
}

// collectDAG walks every replicated namespace's tip for (typeName,
// objectID), following parent links backward, and returns every entry it
// can resolve locally.
func (e *Engine) collectDAG(rid store.RID, typeName string, objectID ObjectID) (map[EntryID]*Entry, error) {
	allRefs, err := e.store.ListRefs(rid, "refs/namespaces/")
	if err != nil {
		return nil, raderr.Wrap(raderr.KindStorageTransient, "list namespaces", err)
	}

	suffix := fmt.Sprintf("/refs/cobs/%s/%s", typeName, objectID)
	tips := make(map[EntryID]bool)
	for refname, tip := range allRefs {
		if strings.HasSuffix(refname, suffix) {
			tips[EntryID(tip)] = true
		}
	}
	if len(tips) == 0 {
		return nil, raderr.New(raderr.KindNotFound, fmt.Sprintf("cob %s/%s not found", typeName, objectID))
	}

	entries := make(map[EntryID]*Entry)
	queue := make([]EntryID, 0, len(tips))
	for id := range tips {
		queue = append(queue, id)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := entries[id]; seen {
			continue
		}
		raw, ok, err := e.store.ReadObject(rid, string(id))
		if err != nil {
			return nil, raderr.Wrap(raderr.KindStorageTransient, "read cob entry", err)
		}
		if !ok {
			continue // dangling reference; ignore per best-effort replication
		}
		entry, err := decodeEntry(id, raw)
		if err != nil {
			return nil, raderr.Wrap(raderr.KindVerificationFailed, "decode cob entry", err)
		}
		if err := verifyEntry(entry); err != nil {
			return nil, raderr.Wrap(raderr.KindVerificationFailed, "verify cob entry", err)
		}
		entries[id] = entry
		queue = append(queue, entry.Parents...)
	}
	return entries, nil
}

// Load materializes an object's current state by folding its DAG in
// deterministic order (spec §4.2).
func (e *Engine) Load(rid store.RID, typeName string, objectID ObjectID, ctx FoldContext) (interface{}, error) {
	spec, ok := e.registry.Lookup(typeName)
	if !ok {
		return nil, raderr.New(raderr.KindNotFound, fmt.Sprintf("cob type %q not registered", typeName))
	}
	entries, err := e.collectDAG(rid, typeName, objectID)
	if err != nil {
		return nil, err
	}
	return fold(spec, ctx, entries)
}

// Log returns an object's entries in the same deterministic topological
// order the fold uses.
func (e *Engine) Log(rid store.RID, typeName string, objectID ObjectID) ([]*Entry, error) {
	entries, err := e.collectDAG(rid, typeName, objectID)
	if err != nil {
		return nil, err
	}
	return topoSort(entries), nil
}

// Actions returns the entries in Log whose timestamp falls within
// [from, until). A zero time.Time on either bound means unbounded.
func (e *Engine) Actions(rid store.RID, typeName string, objectID ObjectID, from, until time.Time) ([]*Entry, error) {
	log, err := e.Log(rid, typeName, objectID)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(log))
	for _, entry := range log {
		ts := time.UnixMilli(entry.TimestampMilli)
		if !from.IsZero() && ts.Before(from) {
			continue
		}
		if !until.IsZero() && !ts.Before(until) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
