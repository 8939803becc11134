package sigrefs

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/radicle-collab/heartwood/pkg/canon"
	"github.com/radicle-collab/heartwood/pkg/raderr"
	"github.com/radicle-collab/heartwood/pkg/radcrypto"
	"github.com/radicle-collab/heartwood/pkg/store"
)

// IdentityView is the minimal view of the local node's currently
// accepted identity that Verify's rules 5 and 6 need. Supplying it as
// an interface keeps this package free of a direct dependency on
// pkg/identity (which itself depends on pkg/cob, not pkg/sigrefs).
type IdentityView interface {
	// AcceptableIDTip reports whether candidateTip is an ancestor of
	// (or equal to) the rad/id tip the local node has already accepted,
	// or is itself a revision the local node could now newly accept.
	AcceptableIDTip(candidateTip string) bool
	// IsDelegateOrAllowed reports private-repo visibility (rule 6).
	IsDelegateOrAllowed(nid radcrypto.NID) bool
	// Private reports whether the repository's accepted document marks
	// it private; rule 6 is skipped entirely for public repositories.
	Private() bool
}

// Verify implements spec §4.3's six verification rules against a
// snapshot received during a fetch and the actual refs of the received
// namespace, plus an object-reachability check against the local
// object store. All rules must hold before the caller commits any ref
// write; Verify performs no writes itself.
func Verify(s *store.Store, rid store.RID, nid radcrypto.NID, received map[string]string, identity IdentityView) error {
	snapshotRefname := store.NamespacedSigrefs(nid.String())
	tipHash, ok := received[snapshotRefname]
	if !ok {
		return raderr.New(raderr.KindVerificationFailed, "rad/sigrefs missing from fetched namespace")
	}
	raw, ok, err := s.ReadObject(rid, tipHash)
	if err != nil {
		return raderr.Wrap(raderr.KindStorageTransient, "read fetched sigrefs object", err)
	}
	if !ok {
		return raderr.New(raderr.KindVerificationFailed, "rad/sigrefs tip object not found")
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return raderr.Wrap(raderr.KindVerificationFailed, "decode sigrefs snapshot", err)
	}

	// Rule 1: signature verifies under the namespace's NID.
	sig, err := base64.StdEncoding.DecodeString(snap.Signature)
	if err != nil {
		return raderr.Wrap(raderr.KindVerificationFailed, "decode sigrefs signature", err)
	}
	payloadBytes, err := canon.Marshal(snap.payload())
	if err != nil {
		return raderr.Wrap(raderr.KindVerificationFailed, "canonicalize sigrefs payload", err)
	}
	if err := nid.Verify(payloadBytes, sig); err != nil {
		return raderr.Wrap(raderr.KindVerificationFailed, "sigrefs signature invalid", err)
	}

	prefix := namespace(nid.String())

	// Rule 2: every listed refname is present, at exactly the listed hash.
	snapshotRefs := make(map[string]string, len(snap.Refs))
	for _, e := range snap.Refs {
		snapshotRefs[e.Name] = e.OID
	}
	for name, oid := range snapshotRefs {
		got, ok := received[name]
		if !ok || got != oid {
			return raderr.New(raderr.KindVerificationFailed, "snapshot mismatch: "+name)
		}
	}

	// Rule 3: no namespace ref exists that isn't listed in the snapshot.
	for name := range received {
		if name == snapshotRefname || !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := snapshotRefs[name]; !ok {
			return raderr.New(raderr.KindVerificationFailed, "unlisted ref in namespace: "+name)
		}
	}

	// Rule 4: the objects behind cobs/*, rad/root and rad/id refs are
	// present locally (the fetch is assumed to have already delivered the
	// objects; we only check presence, not content, since content is
	// covered by entry hashing). Branch refs (heads/*) and any other refs
	// are not checked against the object store.
	for name, oid := range snapshotRefs {
		if strings.Contains(name, "/refs/cobs/") || strings.HasSuffix(name, "/refs/rad/root") || strings.HasSuffix(name, "/refs/rad/id") {
			if _, ok, err := s.ReadObject(rid, oid); err != nil {
				return raderr.Wrap(raderr.KindStorageTransient, "check object reachability", err)
			} else if !ok {
				return raderr.New(raderr.KindVerificationFailed, "dangling object for ref: "+name)
			}
		}
	}

	// Rule 5: rad/id tip must be an ancestor of, or acceptable successor
	// to, the locally accepted identity tip.
	if idTip, ok := snapshotRefs[store.NamespacedRadID(nid.String())]; ok {
		if identity != nil && !identity.AcceptableIDTip(idTip) {
			return raderr.New(raderr.KindVerificationFailed, "rad/id tip is neither an ancestor nor a new acceptable revision")
		}
	}

	// Rule 6: private repositories require signer to be a delegate or on
	// the allow list.
	if identity != nil && identity.Private() && !identity.IsDelegateOrAllowed(nid) {
		return raderr.New(raderr.KindUnauthorized, "signer is not a delegate or allow-listed peer")
	}

	return nil
}
