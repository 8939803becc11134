package store

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/radicle-collab/heartwood/pkg/raderr"
)

// Txn is a single atomic transaction over one repository's refs. All ref
// writes of one operation — updating a COB tip, signing refs, advancing
// rad/id — are grouped into one Txn so that readers outside the
// transaction always see either the pre- or post-state, never a partial
// one (spec §4.4).
type Txn struct {
	store *Store
	rid   RID

	// staged/deleted accumulate this transaction's ref writes until
	// Transaction commits them as a single batch.
	staged  map[string]string
	deleted map[string]bool
}

// Transaction runs fn against a fresh Txn for rid, holding that
// repository's exclusive write lock for the duration. If fn returns an
// error, every staged ref write is discarded and the refs are left
// exactly as they were; objects fn already wrote through Txn.WriteObject
// stay in the object store. If fn returns nil, every staged ref write is
// applied in a single CometBFT batch.
func (s *Store) Transaction(rid RID, fn func(*Txn) error) error {
	l := s.repoLock(rid)
	l.Lock()
	defer l.Unlock()

	txn := &Txn{
		store:   s,
		rid:     rid,
		staged:  make(map[string]string),
		deleted: make(map[string]bool),
	}

	if err := fn(txn); err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for name, oid := range txn.staged {
		if err := batch.Set(refKey(rid, name), []byte(oid)); err != nil {
			return raderr.Wrap(raderr.KindStorageTransient, "stage ref write", err)
		}
	}
	for name := range txn.deleted {
		if _, ok := txn.staged[name]; ok {
			continue // re-written after delete within the same txn
		}
		if err := batch.Delete(refKey(rid, name)); err != nil {
			return raderr.Wrap(raderr.KindStorageTransient, "stage ref delete", err)
		}
	}

	if err := writeBatch(batch); err != nil {
		return raderr.Wrap(raderr.KindStorageTransient, "commit ref transaction", err)
	}
	return nil
}

func writeBatch(b dbm.Batch) error {
	if err := b.WriteSync(); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// SetRef stages a ref update.
func (t *Txn) SetRef(refname, oid string) {
	delete(t.deleted, refname)
	t.staged[refname] = oid
}

// DeleteRef stages a ref removal (used by `clean`/pruning).
func (t *Txn) DeleteRef(refname string) {
	delete(t.staged, refname)
	t.deleted[refname] = true
}

// WriteObject writes a content-addressed object immediately (objects are
// idempotent and never rewritten, so they do not need to participate in
// the ref batch — spec §4.4).
func (t *Txn) WriteObject(data []byte) (string, error) {
	return t.store.WriteObject(t.rid, data)
}
