package sigrefs

import (
	"strings"

	"github.com/radicle-collab/heartwood/pkg/radcrypto"
	"github.com/radicle-collab/heartwood/pkg/store"
)

// Scope is a local replication policy deciding which peer namespaces a
// node stores (spec §4.3 "Replication scopes").
type Scope string

const (
	// ScopeAll replicates any namespace offered by a remote.
	ScopeAll Scope = "all"
	// ScopeFollowed replicates the local peer plus explicitly followed NIDs.
	ScopeFollowed Scope = "followed"
	// ScopeDelegates replicates only delegates of the current identity.
	ScopeDelegates Scope = "delegates"
)

// Policy evaluates whether a given peer's namespace should be kept
// under the node's current replication scope.
type Policy struct {
	Scope    Scope
	Local    radcrypto.NID
	Followed map[string]bool
	IsDelegate func(radcrypto.NID) bool
}

// Allows reports whether nid's namespace should be replicated under p.
func (p Policy) Allows(nid radcrypto.NID) bool {
	switch p.Scope {
	case ScopeAll:
		return true
	case ScopeDelegates:
		return nid.Equal(p.Local) || (p.IsDelegate != nil && p.IsDelegate(nid))
	case ScopeFollowed:
		fallthrough
	default:
		return nid.Equal(p.Local) || p.Followed[nid.String()]
	}
}

// Clean prunes every namespace in rid's ref store that the current
// policy no longer allows. Which namespaces are kept is decided by
// Policy.Allows alone: under ScopeFollowed a delegate that is not
// followed is pruned as well, and under ScopeDelegates only the local
// peer and NIDs for which p.IsDelegate reports true are kept.
func Clean(s *store.Store, rid store.RID, p Policy) error {
	all, err := s.ListRefs(rid, "refs/namespaces/")
	if err != nil {
		return err
	}

	toDelete := make(map[string]bool)
	for refname := range all {
		nidStr := namespaceOwner(refname)
		if nidStr == "" {
			continue
		}
		nid, err := radcrypto.ParseNID(nidStr)
		if err != nil {
			continue
		}
		if !p.Allows(nid) {
			toDelete[refname] = true
		}
	}
	if len(toDelete) == 0 {
		return nil
	}
	return s.Transaction(rid, func(txn *store.Txn) error {
		for refname := range toDelete {
			txn.DeleteRef(refname)
		}
		return nil
	})
}

// namespaceOwner extracts the NID segment of a
// "refs/namespaces/<nid>/refs/..." refname, or "" if refname doesn't
// match that shape.
func namespaceOwner(refname string) string {
	const prefix = "refs/namespaces/"
	if !strings.HasPrefix(refname, prefix) {
		return ""
	}
	rest := refname[len(prefix):]
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return rest[:idx]
	}
	return ""
}
