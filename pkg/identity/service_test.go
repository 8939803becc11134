package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radicle-collab/heartwood/pkg/cob"
	"github.com/radicle-collab/heartwood/pkg/radcrypto"
	"github.com/radicle-collab/heartwood/pkg/store"
)

func mustKeypair(t *testing.T) radcrypto.Keypair {
	t.Helper()
	kp, err := radcrypto.GenerateKeypair()
	require.NoError(t, err)
	return kp
}

func projectPayload(t *testing.T, name, branch string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(ProjectPayload{Name: name, DefaultBranch: branch})
	require.NoError(t, err)
	return raw
}

func genesisDoc(t *testing.T, delegates []radcrypto.NID, threshold int) Document {
	return Document{
		Payload:   map[string]json.RawMessage{ProjectPayloadKey: projectPayload(t, "heartwood", "master")},
		Delegates: delegates,
		Threshold: threshold,
	}
}

func isDelegateOf(doc Document) func(radcrypto.NID) bool {
	return func(nid radcrypto.NID) bool { return doc.IsDelegate(nid) }
}

// TestQuorumUpdateAccepted is scenario S1 from spec §8: a revision
// proposed by one delegate and voted accept by enough other delegates
// reaches quorum and becomes canonical.
func TestQuorumUpdateAccepted(t *testing.T) {
	s := store.NewMemory()
	rid := store.RID("rad:zs1")
	a, b, c := mustKeypair(t), mustKeypair(t), mustKeypair(t)
	doc := genesisDoc(t, []radcrypto.NID{a.NID, b.NID, c.NID}, 2)

	svc := NewService(s, NewRegistry())
	objID, err := svc.Create(rid, doc, a)
	require.NoError(t, err)

	isDel := isDelegateOf(doc)
	state, err := svc.load(rid, objID, isDel)
	require.NoError(t, err)
	genesisID := cob.EntryID(state.GenesisID)

	candidate := doc
	candidate.Threshold = 3

	revID, err := svc.Propose(rid, objID, genesisID, "raise threshold", "", candidate, b, isDel)
	require.NoError(t, err)

	_, err = svc.Vote(rid, objID, revID, true, []cob.EntryID{revID}, a, isDel)
	require.NoError(t, err)
	_, err = svc.Vote(rid, objID, revID, true, []cob.EntryID{revID}, c, isDel)
	require.NoError(t, err)

	accepted, err := svc.CanonicalID(rid, objID, isDel)
	require.NoError(t, err)
	assert.Equal(t, 3, accepted.Threshold)
}

// TestStaleSibling is scenario S2: two competing revisions proposed
// against the same parent; once one reaches quorum the other
// transitions to stale even though it still has outstanding votes.
func TestStaleSibling(t *testing.T) {
	s := store.NewMemory()
	rid := store.RID("rad:zs2")
	a, b, c := mustKeypair(t), mustKeypair(t), mustKeypair(t)
	doc := genesisDoc(t, []radcrypto.NID{a.NID, b.NID, c.NID}, 2)

	svc := NewService(s, NewRegistry())
	objID, err := svc.Create(rid, doc, a)
	require.NoError(t, err)
	isDel := isDelegateOf(doc)
	state, err := svc.load(rid, objID, isDel)
	require.NoError(t, err)
	genesisID := cob.EntryID(state.GenesisID)

	winner := doc
	winner.Threshold = 3
	loser := doc
	loser.Payload = map[string]json.RawMessage{ProjectPayloadKey: projectPayload(t, "renamed", "master")}

	winID, err := svc.Propose(rid, objID, genesisID, "winner", "", winner, a, isDel)
	require.NoError(t, err)
	loseID, err := svc.Propose(rid, objID, genesisID, "loser", "", loser, b, isDel)
	require.NoError(t, err)

	_, err = svc.Vote(rid, objID, winID, true, []cob.EntryID{winID, loseID}, b, isDel)
	require.NoError(t, err)
	_, err = svc.Vote(rid, objID, winID, true, []cob.EntryID{winID, loseID}, c, isDel)
	require.NoError(t, err)

	state, err = svc.load(rid, objID, isDel)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, state.Revisions[string(winID)].State)
	assert.Equal(t, StateStale, state.Revisions[string(loseID)].State)
}

// TestRedactForfeitsVotes is the redaction half of spec §9 ambiguity
// resolution (b): a withdrawn revision cannot later reach quorum even
// if enough accept votes were cast before the redaction.
func TestRedactForfeitsVotes(t *testing.T) {
	s := store.NewMemory()
	rid := store.RID("rad:zs3")
	a, b, c := mustKeypair(t), mustKeypair(t), mustKeypair(t)
	doc := genesisDoc(t, []radcrypto.NID{a.NID, b.NID, c.NID}, 3)

	svc := NewService(s, NewRegistry())
	objID, err := svc.Create(rid, doc, a)
	require.NoError(t, err)
	isDel := isDelegateOf(doc)
	state, err := svc.load(rid, objID, isDel)
	require.NoError(t, err)
	genesisID := cob.EntryID(state.GenesisID)

	candidate := doc
	candidate.Threshold = 1

	revID, err := svc.Propose(rid, objID, genesisID, "short-lived", "", candidate, a, isDel)
	require.NoError(t, err)
	_, err = svc.Vote(rid, objID, revID, true, []cob.EntryID{revID}, b, isDel)
	require.NoError(t, err)

	_, err = svc.Redact(rid, objID, revID, []cob.EntryID{revID}, a)
	require.NoError(t, err)

	state, err = svc.load(rid, objID, isDel)
	require.NoError(t, err)
	assert.Equal(t, StateRedacted, state.Revisions[string(revID)].State)
	assert.NotEqual(t, string(revID), state.AcceptedID)
}
