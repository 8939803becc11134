package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/radicle-collab/heartwood/pkg/radcrypto"
)

// RID aliases radcrypto.RID so callers of this package don't need a
// second import for the repository identifier type.
type RID = radcrypto.RID

const (
	refKeyPrefix = "ref/"
	objKeyPrefix = "obj/"
)

// Store is the per-process ref+object store for every repository the
// node replicates. It offers per-repository exclusive write transactions;
// ref reads take the same repository lock in shared (read) mode, so they
// wait for an in-progress transaction and never see it half-applied.
// Object reads take no lock.
type Store struct {
	db dbm.DB

	mu    sync.Mutex // guards the per-repo lock map
	locks map[RID]*sync.RWMutex
}

// New wraps an existing CometBFT database as a Store.
func New(db dbm.DB) *Store {
	return &Store{db: db, locks: make(map[RID]*sync.RWMutex)}
}

// NewMemory returns a non-persistent Store, used by tests.
func NewMemory() *Store {
	return New(dbm.NewMemDB())
}

func (s *Store) repoLock(rid RID) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[rid]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[rid] = l
	}
	return l
}

func refKey(rid RID, refname string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", refKeyPrefix, rid, refname))
}

func objKey(rid RID, hash string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", objKeyPrefix, rid, hash))
}

// ReadRef returns the object hash a ref currently points to.
func (s *Store) ReadRef(rid RID, refname string) (string, bool, error) {
	l := s.repoLock(rid)
	l.RLock()
	defer l.RUnlock()
	return s.readRefLocked(rid, refname)
}

func (s *Store) readRefLocked(rid RID, refname string) (string, bool, error) {
	v, err := s.db.Get(refKey(rid, refname))
	if err != nil {
		return "", false, fmt.Errorf("store: read ref %s: %w", refname, err)
	}
	if v == nil {
		return "", false, nil
	}
	return string(v), true, nil
}

// ListRefs returns every ref under the given refname prefix (e.g.
// "refs/namespaces/<NID>/refs/" or "" for all refs in the repository), mapped
// to its current object hash.
func (s *Store) ListRefs(rid RID, prefix string) (map[string]string, error) {
	l := s.repoLock(rid)
	l.RLock()
	defer l.RUnlock()
	return s.listRefsLocked(rid, prefix)
}

func (s *Store) listRefsLocked(rid RID, prefix string) (map[string]string, error) {
	base := refKey(rid, prefix)
	out := make(map[string]string)
	err := iterate(s.db, base, func(key, value []byte) bool {
		name := strings.TrimPrefix(string(key), string(refKeyPrefix)+string(rid)+"/")
		out[name] = string(value)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("store: list refs %s: %w", prefix, err)
	}
	return out, nil
}

func iterate(db dbm.DB, prefix []byte, fn func(key, value []byte) bool) error {
	it, err := db.Iterator(prefix, dbm.PrefixEndBytes(prefix))
	if err != nil {
		return err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if !fn(append([]byte(nil), it.Key()...), append([]byte(nil), it.Value()...)) {
			break
		}
	}
	return it.Error()
}

// ReadObject reads a content-addressed blob by its hash.
func (s *Store) ReadObject(rid RID, hash string) ([]byte, bool, error) {
	v, err := s.db.Get(objKey(rid, hash))
	if err != nil {
		return nil, false, fmt.Errorf("store: read object %s: %w", hash, err)
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// WriteObject idempotently stores data, keyed by its content hash. Per
// spec §4.4, object writes are idempotent and objects are never
// rewritten — writing the same bytes twice is a no-op on the second
// write.
func (s *Store) WriteObject(rid RID, data []byte) (string, error) {
	hash := string(radcrypto.HashEntry(data))
	existing, ok, err := s.ReadObject(rid, hash)
	if err != nil {
		return "", err
	}
	if ok {
		if string(existing) != string(data) {
			return "", fmt.Errorf("store: hash collision writing object %s", hash)
		}
		return hash, nil
	}
	if err := s.db.SetSync(objKey(rid, hash), data); err != nil {
		return "", fmt.Errorf("store: write object %s: %w", hash, err)
	}
	return hash, nil
}

// ListRepositories returns every RID with at least one ref recorded in
// the store, discovered by scanning the ref-key namespace rather than
// kept in a separate index. Node startup uses this to run repository-
// wide maintenance (replication pruning, metrics) without a caller-
// supplied repo list.
func (s *Store) ListRepositories() ([]RID, error) {
	seen := make(map[RID]bool)
	err := iterate(s.db, []byte(refKeyPrefix), func(key, _ []byte) bool {
		rest := strings.TrimPrefix(string(key), refKeyPrefix)
		if idx := strings.Index(rest, "/"); idx > 0 {
			seen[RID(rest[:idx])] = true
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("store: list repositories: %w", err)
	}
	out := make([]RID, 0, len(seen))
	for rid := range seen {
		out = append(out, rid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// SortedRefNames returns the names of refs in ascending order.
func SortedRefNames(refs map[string]string) []string {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
