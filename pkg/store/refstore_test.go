package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionCommitAndRollback(t *testing.T) {
	s := NewMemory()
	rid := RID("rad:ztest")

	err := s.Transaction(rid, func(txn *Txn) error {
		txn.SetRef("refs/namespaces/n1/refs/heads/master", "abc123")
		return nil
	})
	require.NoError(t, err)

	oid, ok, err := s.ReadRef(rid, "refs/namespaces/n1/refs/heads/master")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", oid)

	// A failing transaction must leave the store untouched.
	failErr := s.Transaction(rid, func(txn *Txn) error {
		txn.SetRef("refs/namespaces/n1/refs/heads/master", "def456")
		return assert.AnError
	})
	assert.Error(t, failErr)

	oid, ok, err = s.ReadRef(rid, "refs/namespaces/n1/refs/heads/master")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", oid, "rolled-back transaction must not be visible")
}

func TestWriteObjectIdempotent(t *testing.T) {
	s := NewMemory()
	rid := RID("rad:ztest")

	h1, err := s.WriteObject(rid, []byte("hello"))
	require.NoError(t, err)
	h2, err := s.WriteObject(rid, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	data, ok, err := s.ReadObject(rid, h1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
}

func TestListRefsPrefix(t *testing.T) {
	s := NewMemory()
	rid := RID("rad:ztest")

	require.NoError(t, s.Transaction(rid, func(txn *Txn) error {
		txn.SetRef("refs/namespaces/n1/refs/heads/master", "h1")
		txn.SetRef("refs/namespaces/n1/refs/cobs/xyz.radicle.issue/obj1", "h2")
		txn.SetRef("refs/namespaces/n2/refs/heads/master", "h3")
		return nil
	}))

	refs, err := s.ListRefs(rid, "refs/namespaces/n1/refs/")
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Equal(t, "h1", refs["refs/namespaces/n1/refs/heads/master"])
}
