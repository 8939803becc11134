package identity

import (
	"encoding/base64"
	"encoding/json"
	"sort"

	"github.com/radicle-collab/heartwood/pkg/canon"
	"github.com/radicle-collab/heartwood/pkg/cob"
	"github.com/radicle-collab/heartwood/pkg/radcrypto"
)

// Type is the COB type name for the identity revision chain (spec §3/§6).
const Type = "xyz.radicle.id"

// Lifecycle states of an identity revision (spec §4.1).
const (
	StateActive   = "active"
	StateAccepted = "accepted"
	StateStale    = "stale"
	StateRedacted = "redacted"
)

// RevisionView is the materialized view of one identity revision.
type RevisionView struct {
	ID          string          `json:"id"`
	ParentID    string          `json:"parent"`
	Author      string          `json:"author"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	BlobHash    string          `json:"blob"`
	Document    Document        `json:"document"`
	Votes       map[string]bool `json:"votes"` // delegate NID string -> accept
	State       string          `json:"state"`
}

// State is the materialized accumulator for the identity COB: the
// genesis document plus every revision proposed against it.
type State struct {
	GenesisID       string                   `json:"genesisId"`
	GenesisDocument Document                 `json:"genesisDocument"`
	Revisions       map[string]*RevisionView `json:"revisions"`
	AcceptedID      string                   `json:"acceptedId"`
}

func newState() interface{} {
	return &State{Revisions: make(map[string]*RevisionView)}
}

// AcceptedDocument returns the document of the currently accepted
// revision (the genesis document if no revision has yet been accepted).
func (s *State) AcceptedDocument() Document {
	if s.AcceptedID == "" || s.AcceptedID == s.GenesisID {
		return s.GenesisDocument
	}
	return s.Revisions[s.AcceptedID].Document
}

// documentFor resolves the governing document for a parent reference: the
// genesis document if parentID is the genesis entry (or empty), else the
// named revision's candidate document.
func (s *State) documentFor(parentID string) (Document, bool) {
	if parentID == "" || parentID == s.GenesisID {
		return s.GenesisDocument, s.GenesisID != "" || parentID == ""
	}
	rv, ok := s.Revisions[parentID]
	if !ok {
		return Document{}, false
	}
	return rv.Document, true
}

type revisionAction struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Blob        string `json:"blob"`
	Parent      string `json:"parent"`
	Signature   string `json:"signature"`
}

// signRevision signs a's bit-exact wire fields (spec §6) with author,
// duplicating the authorization the surrounding cob.Entry itself already
// carries: §6 lists "signature" as a mandatory field of the revision
// action, independent of the entry-level signature.
func signRevision(a revisionAction, author radcrypto.Keypair) (string, error) {
	a.Signature = ""
	payload, err := canon.Marshal(a)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(author.Sign(payload)), nil
}

type voteAction struct {
	Type     string `json:"type"`
	Revision string `json:"revision"`
	Accept   bool   `json:"accept"`
}

type editAction struct {
	Type        string `json:"type"`
	Revision    string `json:"revision"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type redactAction struct {
	Type     string `json:"type"`
	Revision string `json:"revision"`
}

func resolveDocument(ctx cob.FoldContext, blobHash string) (Document, error) {
	if ctx.ResolveBlob == nil {
		return Document{}, errNoResolver
	}
	raw, ok, err := ctx.ResolveBlob(blobHash)
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, errBlobMissing
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// quorumMet reports whether the accept votes recorded for rv meet doc's
// threshold, counting at most one vote per distinct delegate of doc.
func quorumMet(doc Document, rv *RevisionView) bool {
	count := 0
	for _, delegate := range doc.Delegates {
		if accepted, voted := rv.Votes[delegate.String()]; voted && accepted {
			count++
		}
	}
	return count >= doc.Threshold
}

func reduceIdentity(ctx cob.FoldContext, accRaw interface{}, entry *cob.Entry, raw json.RawMessage) (bool, error) {
	state := accRaw.(*State)

	var disc struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return false, nil //nolint:nilerr
	}

	switch disc.Type {
	case "revision":
		var a revisionAction
		if err := json.Unmarshal(raw, &a); err != nil {
			return false, nil
		}
		doc, err := resolveDocument(ctx, a.Blob)
		if err != nil || doc.Validate() != nil {
			return false, nil
		}

		if state.GenesisID == "" && a.Parent == "" {
			// First-ever revision entry: this is the genesis document
			// itself, which needs no votes to take effect.
			state.GenesisID = string(entry.ID)
			state.GenesisDocument = doc
			state.AcceptedID = string(entry.ID)
			return true, nil
		}

		parentDoc, ok := state.documentFor(a.Parent)
		if !ok || !parentDoc.IsDelegate(entry.Author) {
			return false, nil // KindNotADelegate at the contract layer
		}

		// The author's own signature on the revision entry counts as
		// their acceptance vote (spec §8 S2): proposing is self-accepting.
		rv := &RevisionView{
			ID: string(entry.ID), ParentID: a.Parent, Author: entry.Author.String(),
			Title: a.Title, Description: a.Description, BlobHash: a.Blob,
			Document: doc, Votes: map[string]bool{entry.Author.String(): true}, State: StateActive,
		}
		state.Revisions[rv.ID] = rv

		if quorumMet(parentDoc, rv) {
			rv.State = StateAccepted
			acceptRevision(state, rv)
		}
		return true, nil

	case "vote":
		var a voteAction
		if err := json.Unmarshal(raw, &a); err != nil {
			return false, nil
		}
		rv, ok := state.Revisions[a.Revision]
		if !ok || rv.State != StateActive {
			return false, nil
		}
		parentDoc, ok := state.documentFor(rv.ParentID)
		if !ok || !parentDoc.IsDelegate(entry.Author) {
			return false, nil
		}
		rv.Votes[entry.Author.String()] = a.Accept

		if quorumMet(parentDoc, rv) {
			rv.State = StateAccepted
			acceptRevision(state, rv)
		}
		return true, nil

	case "edit":
		var a editAction
		if err := json.Unmarshal(raw, &a); err != nil {
			return false, nil
		}
		rv, ok := state.Revisions[a.Revision]
		if !ok || rv.State != StateActive || rv.Author != entry.Author.String() {
			return false, nil
		}
		rv.Title = a.Title
		rv.Description = a.Description
		return true, nil

	case "redact":
		var a redactAction
		if err := json.Unmarshal(raw, &a); err != nil {
			return false, nil
		}
		rv, ok := state.Revisions[a.Revision]
		if !ok || rv.State != StateActive || rv.Author != entry.Author.String() {
			return false, nil
		}
		rv.State = StateRedacted
		return true, nil

	default:
		return false, nil
	}
}

// acceptRevision promotes rv to the canonical accepted revision and
// transitions every sibling (same parent, still active) to stale, per
// spec §4.1's sibling-resolution rule. When this function runs inside a
// deterministic fold, the first revision that reaches quorum in fold
// order (topological, then timestamp, then entry hash) wins and every
// later sibling is already stale by the time its own votes arrive. The
// entry hash therefore decides only between entries with equal
// timestamps; sorting siblingIDs below fixes the order in which siblings
// are marked stale and does not affect which revision wins.
func acceptRevision(state *State, accepted *RevisionView) {
	state.AcceptedID = accepted.ID

	siblingIDs := make([]string, 0)
	for id, rv := range state.Revisions {
		if rv.ID == accepted.ID {
			continue
		}
		if rv.ParentID == accepted.ParentID && rv.State == StateActive {
			siblingIDs = append(siblingIDs, id)
		}
	}
	sort.Strings(siblingIDs)
	for _, id := range siblingIDs {
		state.Revisions[id].State = StateStale
	}
}

// Spec registers the identity COB type with a cob.Registry.
func Spec() cob.TypeSpec {
	return cob.TypeSpec{NewAccumulator: newState, Reduce: reduceIdentity}
}
