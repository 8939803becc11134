package cob

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radicle-collab/heartwood/pkg/radcrypto"
	"github.com/radicle-collab/heartwood/pkg/store"
)

func mustKeypair(t *testing.T) radcrypto.Keypair {
	t.Helper()
	kp, err := radcrypto.GenerateKeypair()
	require.NoError(t, err)
	return kp
}

func action(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// TestIssueMaterializationDeterministic is the S6 scenario from spec §8:
// comment -> react -> comment must fold into a stable, order-independent
// materialization.
func TestIssueMaterializationDeterministic(t *testing.T) {
	s := store.NewMemory()
	rid := store.RID("rad:ztest")
	engine := NewEngine(s, NewCoreRegistry())
	author := mustKeypair(t)

	e1, err := engine.Create(rid, IssueType, []json.RawMessage{
		action(t, map[string]string{"type": "comment", "body": "x"}),
	}, author, "", nil)
	require.NoError(t, err)

	e2, err := engine.Append(rid, IssueType, ObjectID(e1), []json.RawMessage{
		action(t, map[string]interface{}{"type": "comment.react", "id": string(e1), "reaction": "✨", "active": true}),
	}, []EntryID{EntryID(e1)}, author, "", nil)
	require.NoError(t, err)

	_, err = engine.Append(rid, IssueType, ObjectID(e1), []json.RawMessage{
		action(t, map[string]string{"type": "comment", "body": "y"}),
	}, []EntryID{e2}, author, "", nil)
	require.NoError(t, err)

	ctx := FoldContext{IsDelegate: func(radcrypto.NID) bool { return true }, ObjectAuthor: author.NID}
	stateRaw, err := engine.Load(rid, IssueType, ObjectID(e1), ctx)
	require.NoError(t, err)
	state := stateRaw.(*IssueState)

	require.Len(t, state.Comments, 2)
	assert.Equal(t, "x", state.Comments[0].Body)
	assert.Equal(t, string(e1), state.Comments[0].ID)
	require.Len(t, state.Comments[0].Reactions, 1)
	assert.Equal(t, "✨", state.Comments[0].Reactions[0].Emoji)
	assert.True(t, state.Comments[0].Reactions[0].Active)
	assert.Equal(t, "y", state.Comments[1].Body)
	assert.Len(t, state.Timeline, 3)

	// Re-loading must be byte-identical (fold purity, spec invariant 5).
	stateRaw2, err := engine.Load(rid, IssueType, ObjectID(e1), ctx)
	require.NoError(t, err)
	b1, _ := json.Marshal(state)
	b2, _ := json.Marshal(stateRaw2)
	assert.JSONEq(t, string(b1), string(b2))
}

func TestAppendRejectsUnknownParent(t *testing.T) {
	s := store.NewMemory()
	rid := store.RID("rad:ztest")
	engine := NewEngine(s, NewCoreRegistry())
	author := mustKeypair(t)

	_, err := engine.Append(rid, IssueType, "missing", []json.RawMessage{
		action(t, map[string]string{"type": "comment", "body": "x"}),
	}, []EntryID{"doesnotexist"}, author, "", nil)
	assert.Error(t, err)
}

func TestUnauthorizedActionIgnoredDuringFold(t *testing.T) {
	s := store.NewMemory()
	rid := store.RID("rad:ztest")
	engine := NewEngine(s, NewCoreRegistry())
	author := mustKeypair(t)
	outsider := mustKeypair(t)

	e1, err := engine.Create(rid, IssueType, []json.RawMessage{
		action(t, map[string]string{"type": "comment", "body": "x"}),
	}, author, "", nil)
	require.NoError(t, err)

	_, err = engine.Append(rid, IssueType, ObjectID(e1), []json.RawMessage{
		action(t, map[string]string{"type": "edit", "title": "hijacked"}),
	}, []EntryID{EntryID(e1)}, outsider, "", nil)
	require.NoError(t, err) // entry is stored...

	ctx := FoldContext{IsDelegate: func(radcrypto.NID) bool { return false }, ObjectAuthor: author.NID}
	stateRaw, err := engine.Load(rid, IssueType, ObjectID(e1), ctx)
	require.NoError(t, err)
	state := stateRaw.(*IssueState)
	assert.Empty(t, state.Title, "edit by a non-delegate, non-author must be ignored during fold")
}
