package cob

import (
	"encoding/json"

	"github.com/radicle-collab/heartwood/pkg/radcrypto"
)

// FoldContext carries the per-fold information a type's action reducers
// need to authorize actions (spec §4.2 "Authorization"). It is supplied
// by the caller of Engine.Load, not stored by the engine, since delegate
// membership belongs to the identity layer and changes over time.
type FoldContext struct {
	// IsDelegate reports whether nid is a delegate of the repository's
	// currently accepted identity document. Nil means "no delegates
	// known" (every delegate-gated action is ignored).
	IsDelegate func(nid radcrypto.NID) bool

	// ObjectAuthor is the author of the COB's creation entry, needed for
	// the "patch authors may edit their own patch" privilege.
	ObjectAuthor radcrypto.NID

	// ResolveBlob reads a content-addressed blob referenced by an action
	// (e.g. the identity type's candidate-document blob) out of the
	// repository's object store. Folding stays pure because blobs are
	// themselves content-addressed: the same hash always resolves to the
	// same bytes on every replica that has fetched it.
	ResolveBlob func(hash string) ([]byte, bool, error)
}

func (c FoldContext) isDelegate(nid radcrypto.NID) bool {
	if c.IsDelegate == nil {
		return false
	}
	return c.IsDelegate(nid)
}

func (c FoldContext) isObjectAuthor(nid radcrypto.NID) bool {
	return !c.ObjectAuthor.IsZero() && c.ObjectAuthor.Equal(nid)
}

// Reducer applies one action from one entry onto an accumulator. It
// returns false when the action is well-formed but the author was not
// authorized to emit it — such actions are folded over (stored, never
// erased) but contribute nothing to materialized state, per spec §4.2:
// "Unauthorized entries are ... ignored during fold."
type Reducer func(ctx FoldContext, acc interface{}, entry *Entry, action json.RawMessage) (applied bool, err error)

// TypeSpec is what a COB type registers with the Engine: how to build a
// fresh accumulator and how to fold one action into it. Unknown action
// "type" discriminators within a recognized COB type are skipped by
// Reducer itself (forward compatibility, spec §9).
type TypeSpec struct {
	NewAccumulator func() interface{}
	Reduce         Reducer
}

// Registry maps a COB type name to its TypeSpec.
type Registry struct {
	specs map[string]TypeSpec
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]TypeSpec)}
}

// Register adds or replaces the spec for a COB type.
func (r *Registry) Register(typeName string, spec TypeSpec) {
	r.specs[typeName] = spec
}

// Lookup returns the spec for a COB type, if registered.
func (r *Registry) Lookup(typeName string) (TypeSpec, bool) {
	s, ok := r.specs[typeName]
	return s, ok
}
