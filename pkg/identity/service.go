package identity

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/radicle-collab/heartwood/pkg/canon"
	"github.com/radicle-collab/heartwood/pkg/cob"
	"github.com/radicle-collab/heartwood/pkg/raderr"
	"github.com/radicle-collab/heartwood/pkg/radcrypto"
	"github.com/radicle-collab/heartwood/pkg/store"
)

// NewRegistry builds a cob.Registry carrying every core COB type plus
// the identity revision chain, closing the dependency cob itself cannot
// take on this package.
func NewRegistry() *cob.Registry {
	r := cob.NewCoreRegistry()
	r.Register(Type, Spec())
	return r
}

// Service implements the identity contract operations of spec §4.1:
// create, propose, vote, redact, edit, and the canonical-id/canonical-
// head read views.
type Service struct {
	store  *store.Store
	engine *cob.Engine
}

// NewService wires an identity Service over a ref+object store, using a
// registry built by NewRegistry (or one the caller has otherwise
// registered the identity type into).
func NewService(s *store.Store, registry *cob.Registry) *Service {
	return &Service{store: s, engine: cob.NewEngine(s, registry)}
}

func (svc *Service) foldContext(rid store.RID, objectAuthor radcrypto.NID, isDelegate func(radcrypto.NID) bool) cob.FoldContext {
	return cob.FoldContext{
		IsDelegate:   isDelegate,
		ObjectAuthor: objectAuthor,
		ResolveBlob: func(hash string) ([]byte, bool, error) {
			return svc.store.ReadObject(rid, hash)
		},
	}
}

// Create establishes a new identity chain: the genesis document is
// stored as a content-addressed blob and a root "revision" entry (with
// no parent) anchors it as the COB's first entry. The genesis document
// needs no votes to take effect (spec §4.1).
func (svc *Service) Create(rid store.RID, doc Document, author radcrypto.Keypair) (cob.ObjectID, error) {
	if err := doc.Validate(); err != nil {
		return "", raderr.Wrap(raderr.KindVerificationFailed, "invalid genesis document", err)
	}
	blob, err := canon.Marshal(doc)
	if err != nil {
		return "", raderr.Wrap(raderr.KindVerificationFailed, "canonicalize genesis document", err)
	}
	hash, err := svc.store.WriteObject(rid, blob)
	if err != nil {
		return "", raderr.Wrap(raderr.KindStorageTransient, "store genesis document", err)
	}
	project, err := doc.Project()
	if err != nil {
		return "", raderr.Wrap(raderr.KindVerificationFailed, "genesis document missing project payload", err)
	}
	genesis := revisionAction{Type: "revision", Title: project.Name, Blob: hash}
	sig, err := signRevision(genesis, author)
	if err != nil {
		return "", err
	}
	genesis.Signature = sig
	action, err := json.Marshal(genesis)
	if err != nil {
		return "", err
	}
	objectID, err := svc.engine.Create(rid, Type, []json.RawMessage{action}, author, "", nil)
	if err != nil {
		return "", err
	}

	if err := svc.store.Transaction(rid, func(txn *store.Txn) error {
		txn.SetRef(store.NamespacedRadRoot(author.NID.String()), string(objectID))
		return nil
	}); err != nil {
		return "", raderr.Wrap(raderr.KindStorageTransient, "write rad/root pointer", err)
	}
	return objectID, nil
}

// IdentityRoot resolves the identity COB's object ID for rid by
// scanning known namespaces for a rad/root pointer (spec §3: "rad/root
// — pointer to the genesis identity entry, the RID anchor"). Every
// peer that has fetched the identity chain carries the same pointer,
// since the genesis entry never changes.
func (svc *Service) IdentityRoot(rid store.RID) (cob.ObjectID, error) {
	refs, err := svc.store.ListRefs(rid, "refs/namespaces/")
	if err != nil {
		return "", raderr.Wrap(raderr.KindStorageTransient, "list namespaces", err)
	}
	for name, oid := range refs {
		if strings.HasSuffix(name, "/refs/rad/root") {
			return cob.ObjectID(oid), nil
		}
	}
	return "", raderr.New(raderr.KindNotFound, "no rad/root pointer known for this repository")
}

// Propose submits a candidate document as a new revision against
// parentID, the entry ID of the revision the author builds on (the
// genesis entry's ID if proposing against the initial document). The
// candidate's threshold is checked against the candidate's own delegate
// count up front, before any write, so a proposal that could never reach
// quorum is rejected immediately with KindConflictingThreshold rather
// than silently stored-but-dead.
func (svc *Service) Propose(rid store.RID, objectID cob.ObjectID, parentID cob.EntryID, title, description string, candidate Document, author radcrypto.Keypair, isDelegate func(radcrypto.NID) bool) (cob.EntryID, error) {
	if candidate.Threshold > len(candidate.Delegates) {
		return "", raderr.New(raderr.KindConflictingThreshold, "candidate threshold exceeds candidate delegate count")
	}
	if err := candidate.Validate(); err != nil {
		return "", raderr.Wrap(raderr.KindVerificationFailed, "invalid candidate document", err)
	}
	state, err := svc.load(rid, objectID, isDelegate)
	if err != nil {
		return "", err
	}
	parentDoc, ok := state.documentFor(string(parentID))
	if !ok {
		return "", raderr.New(raderr.KindNotFound, "parent revision not found")
	}
	if !parentDoc.IsDelegate(author.NID) {
		return "", raderr.New(raderr.KindNotADelegate, "author is not a delegate of the parent document")
	}

	blob, err := canon.Marshal(candidate)
	if err != nil {
		return "", err
	}
	hash, err := svc.store.WriteObject(rid, blob)
	if err != nil {
		return "", raderr.Wrap(raderr.KindStorageTransient, "store candidate document", err)
	}
	revision := revisionAction{Type: "revision", Title: title, Description: description, Blob: hash, Parent: string(parentID)}
	sig, err := signRevision(revision, author)
	if err != nil {
		return "", err
	}
	revision.Signature = sig
	a, err := json.Marshal(revision)
	if err != nil {
		return "", err
	}
	return svc.engine.Append(rid, Type, objectID, []json.RawMessage{a}, []cob.EntryID{parentID}, author, "", nil)
}

// Vote casts an accept/reject vote on a pending revision. The caller
// supplies isDelegate for the parent document's delegate set since the
// engine's FoldContext is evaluated fresh on every Load.
func (svc *Service) Vote(rid store.RID, objectID cob.ObjectID, revisionID cob.EntryID, accept bool, tips []cob.EntryID, author radcrypto.Keypair, isDelegate func(radcrypto.NID) bool) (cob.EntryID, error) {
	state, err := svc.load(rid, objectID, isDelegate)
	if err != nil {
		return "", err
	}
	if rv, ok := state.Revisions[string(revisionID)]; ok && rv.State == StateStale {
		return "", raderr.New(raderr.KindStale, "cannot vote on a stale revision")
	}
	a, err := json.Marshal(voteAction{Type: "vote", Revision: string(revisionID), Accept: accept})
	if err != nil {
		return "", err
	}
	return svc.engine.Append(rid, Type, objectID, []json.RawMessage{a}, tips, author, "", nil)
}

// Edit updates the title/description of a revision the caller still has
// active and authored themselves.
func (svc *Service) Edit(rid store.RID, objectID cob.ObjectID, revisionID cob.EntryID, title, description string, tips []cob.EntryID, author radcrypto.Keypair) (cob.EntryID, error) {
	state, err := svc.load(rid, objectID, nil)
	if err != nil {
		return "", err
	}
	if rv, ok := state.Revisions[string(revisionID)]; ok && rv.State == StateStale {
		return "", raderr.New(raderr.KindStale, "cannot edit a stale revision")
	}
	a, err := json.Marshal(editAction{Type: "edit", Revision: string(revisionID), Title: title, Description: description})
	if err != nil {
		return "", err
	}
	return svc.engine.Append(rid, Type, objectID, []json.RawMessage{a}, tips, author, "", nil)
}

// Redact withdraws a revision the caller authored, forfeiting any votes
// already cast for it (spec §9 ambiguity resolution (b)).
func (svc *Service) Redact(rid store.RID, objectID cob.ObjectID, revisionID cob.EntryID, tips []cob.EntryID, author radcrypto.Keypair) (cob.EntryID, error) {
	state, err := svc.load(rid, objectID, nil)
	if err != nil {
		return "", err
	}
	if rv, ok := state.Revisions[string(revisionID)]; ok && rv.State == StateStale {
		return "", raderr.New(raderr.KindStale, "cannot redact a stale revision")
	}
	a, err := json.Marshal(redactAction{Type: "redact", Revision: string(revisionID)})
	if err != nil {
		return "", err
	}
	return svc.engine.Append(rid, Type, objectID, []json.RawMessage{a}, tips, author, "", nil)
}

func (svc *Service) load(rid store.RID, objectID cob.ObjectID, isDelegate func(radcrypto.NID) bool) (*State, error) {
	ctx := svc.foldContext(rid, "", isDelegate)
	raw, err := svc.engine.Load(rid, Type, objectID, ctx)
	if err != nil {
		return nil, err
	}
	return raw.(*State), nil
}

// CanonicalID returns the currently accepted document of the identity
// chain rooted at objectID, per spec §4.1's canonical_id operation.
func (svc *Service) CanonicalID(rid store.RID, objectID cob.ObjectID, isDelegate func(radcrypto.NID) bool) (Document, error) {
	state, err := svc.load(rid, objectID, isDelegate)
	if err != nil {
		return Document{}, err
	}
	return state.AcceptedDocument(), nil
}

// Snapshot is the timestamped result of a canonical head election run,
// suitable for exposing over the read API.
type Snapshot struct {
	RID          store.RID `json:"rid"`
	DefaultBranch string   `json:"defaultBranch"`
	Head         string    `json:"head"`
	Delegates    []string  `json:"delegates"`
	Threshold    int       `json:"threshold"`
	ElectedAt    time.Time `json:"electedAt"`
}

func (svc *Service) describe(rid store.RID, doc Document, head string, at time.Time) (Snapshot, error) {
	project, err := doc.Project()
	if err != nil {
		return Snapshot{}, err
	}
	delegates := make([]string, 0, len(doc.Delegates))
	for _, d := range doc.Delegates {
		delegates = append(delegates, d.String())
	}
	return Snapshot{RID: rid, DefaultBranch: project.DefaultBranch, Head: head, Delegates: delegates, Threshold: doc.Threshold, ElectedAt: at}, nil
}

// CanonicalHead runs election over the currently accepted document's
// delegate set and the given branch tips (delegate NID string -> commit
// hash, typically read from each delegate's refs/namespaces/<nid>/refs/
// heads/<defaultBranch>), returning the elected commit as a Snapshot.
// Callers stamp ElectedAt themselves since this package may not call
// time.Now (kept deterministic for replay/testing).
func (svc *Service) CanonicalHead(rid store.RID, objectID cob.ObjectID, branchTips map[string]string, graph CommitGraph, isDelegate func(radcrypto.NID) bool, at time.Time) (Snapshot, error) {
	doc, err := svc.CanonicalID(rid, objectID, isDelegate)
	if err != nil {
		return Snapshot{}, err
	}
	head, err := ElectCanonicalHead(doc, branchTips, graph)
	if err != nil {
		return Snapshot{}, err
	}
	return svc.describe(rid, doc, head, at)
}
