package store

import "fmt"

// Bit-exact ref layout from spec §6:
//
//	refs/namespaces/<NID>/refs/heads/…
//	refs/namespaces/<NID>/refs/cobs/<type>/<object-id>
//	refs/namespaces/<NID>/refs/rad/{id,root,sigrefs}
//	refs/heads/<defaultBranch>          (canonical)
//	refs/rad/id                         (canonical)
//
// These helpers build the refname half of the key (the RID + repo is
// supplied separately to refKey/objKey), so every package agrees on the
// exact on-disk layout.

// NamespacePrefix returns "refs/namespaces/<nid>/refs/", the root of one
// peer's owned subtree.
func NamespacePrefix(nid string) string {
	return fmt.Sprintf("refs/namespaces/%s/refs/", nid)
}

// NamespacedHead returns a peer's own branch ref.
func NamespacedHead(nid, branch string) string {
	return NamespacePrefix(nid) + "heads/" + branch
}

// NamespacedCob returns the ref a peer uses to point at its tip of one
// COB's DAG.
func NamespacedCob(nid, cobType, objectID string) string {
	return fmt.Sprintf("%scobs/%s/%s", NamespacePrefix(nid), cobType, objectID)
}

// NamespacedRadID is the peer's pointer to the latest identity revision
// it has ratified.
func NamespacedRadID(nid string) string { return NamespacePrefix(nid) + "rad/id" }

// NamespacedRadRoot is the peer's pointer to the genesis identity entry.
func NamespacedRadRoot(nid string) string { return NamespacePrefix(nid) + "rad/root" }

// NamespacedSigrefs is the peer's signed refs snapshot tip.
func NamespacedSigrefs(nid string) string { return NamespacePrefix(nid) + "rad/sigrefs" }

// CanonicalHead is the top-level, derived default-branch ref.
func CanonicalHead(defaultBranch string) string { return "refs/heads/" + defaultBranch }

// CanonicalID is the top-level, derived canonical-identity ref.
const CanonicalID = "refs/rad/id"
