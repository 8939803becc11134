package sigrefs

import (
	"github.com/radicle-collab/heartwood/pkg/raderr"
	"github.com/radicle-collab/heartwood/pkg/radcrypto"
	"github.com/radicle-collab/heartwood/pkg/store"
)

// Fork copies the canonical default-branch head into the local peer's
// own namespace and re-signs the namespace, per spec §4.3: "It is the
// prerequisite for a non-delegate peer to contribute changes or for a
// delegate to be counted in canonical election."
func Fork(s *store.Store, rid store.RID, defaultBranch string, signer radcrypto.Keypair) (*Snapshot, error) {
	head, ok, err := s.ReadRef(rid, store.CanonicalHead(defaultBranch))
	if err != nil {
		return nil, raderr.Wrap(raderr.KindStorageTransient, "read canonical head", err)
	}
	if !ok {
		return nil, raderr.New(raderr.KindNotFound, "no canonical head to fork from")
	}

	if err := s.Transaction(rid, func(txn *store.Txn) error {
		txn.SetRef(store.NamespacedHead(signer.NID.String(), defaultBranch), head)
		return nil
	}); err != nil {
		return nil, raderr.Wrap(raderr.KindStorageTransient, "write forked branch ref", err)
	}

	return Sign(s, rid, signer)
}
