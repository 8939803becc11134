package sigrefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radicle-collab/heartwood/pkg/raderr"
	"github.com/radicle-collab/heartwood/pkg/radcrypto"
	"github.com/radicle-collab/heartwood/pkg/store"
)

type alwaysAcceptable struct {
	private  bool
	allowed  map[string]bool
}

func (a alwaysAcceptable) AcceptableIDTip(string) bool { return true }
func (a alwaysAcceptable) Private() bool               { return a.private }
func (a alwaysAcceptable) IsDelegateOrAllowed(nid radcrypto.NID) bool {
	return a.allowed[nid.String()]
}

func mustKeypair(t *testing.T) radcrypto.Keypair {
	t.Helper()
	kp, err := radcrypto.GenerateKeypair()
	require.NoError(t, err)
	return kp
}

// TestSignAndVerifyRoundTrip checks a freshly signed namespace verifies
// cleanly (spec invariant 1: the snapshot matches the actual refs).
func TestSignAndVerifyRoundTrip(t *testing.T) {
	s := store.NewMemory()
	rid := store.RID("rad:zsig")
	peer := mustKeypair(t)

	require.NoError(t, s.Transaction(rid, func(txn *store.Txn) error {
		txn.SetRef(store.NamespacedHead(peer.NID.String(), "master"), "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
		return nil
	}))
	_, err := Sign(s, rid, peer)
	require.NoError(t, err)

	received, err := s.ListRefs(rid, "refs/namespaces/")
	require.NoError(t, err)

	err = Verify(s, rid, peer.NID, received, alwaysAcceptable{})
	assert.NoError(t, err)
}

// TestTamperedRefDetected is scenario S4 from spec §8: the actual
// heads/master ref doesn't match what the signed snapshot lists.
func TestTamperedRefDetected(t *testing.T) {
	s := store.NewMemory()
	rid := store.RID("rad:zsig2")
	peer := mustKeypair(t)

	require.NoError(t, s.Transaction(rid, func(txn *store.Txn) error {
		txn.SetRef(store.NamespacedHead(peer.NID.String(), "master"), "1111111111111111111111111111111111111111")
		return nil
	}))
	_, err := Sign(s, rid, peer)
	require.NoError(t, err)

	received, err := s.ListRefs(rid, "refs/namespaces/")
	require.NoError(t, err)
	received[store.NamespacedHead(peer.NID.String(), "master")] = "2222222222222222222222222222222222222222"

	err = Verify(s, rid, peer.NID, received, alwaysAcceptable{})
	require.Error(t, err)
	assert.True(t, raderr.Is(err, raderr.KindVerificationFailed))
}

// TestPrivateRepoRequiresAllowListing is scenario S5: a signer outside
// the private repository's delegate/allow set is rejected by rule 6.
func TestPrivateRepoRequiresAllowListing(t *testing.T) {
	s := store.NewMemory()
	rid := store.RID("rad:zsig3")
	peer := mustKeypair(t)

	require.NoError(t, s.Transaction(rid, func(txn *store.Txn) error {
		txn.SetRef(store.NamespacedHead(peer.NID.String(), "master"), "3333333333333333333333333333333333333333")
		return nil
	}))
	_, err := Sign(s, rid, peer)
	require.NoError(t, err)

	received, err := s.ListRefs(rid, "refs/namespaces/")
	require.NoError(t, err)

	err = Verify(s, rid, peer.NID, received, alwaysAcceptable{private: true, allowed: map[string]bool{}})
	require.Error(t, err)
	assert.True(t, raderr.Is(err, raderr.KindUnauthorized))

	err = Verify(s, rid, peer.NID, received, alwaysAcceptable{private: true, allowed: map[string]bool{peer.NID.String(): true}})
	assert.NoError(t, err)
}
