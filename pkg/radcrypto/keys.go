// Copyright 2025 heartwood contributors
//
// Package radcrypto implements the crypto & identifier primitives of the
// trust substrate: Ed25519 keypairs, did:key node identifiers (NID), the
// content-addressed repository identifier (RID), and signature
// verification. Every other package signs or verifies through this one.
package radcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
)

// Size constants.
const (
	PublicKeySize  = ed25519.PublicKeySize  // 32
	PrivateKeySize = ed25519.PrivateKeySize  // 64 (seed + public key, stdlib convention)
	SignatureSize  = ed25519.SignatureSize   // 64
)

// ErrInvalidSignature is returned by Verify when the signature does not
// match the message under the given public key.
var ErrInvalidSignature = errors.New("radcrypto: invalid signature")

// NID is a node identifier: an Ed25519 public key rendered as did:key:z….
type NID struct {
	pub ed25519.PublicKey
}

// Keypair is a process-lifetime signing resource: an NID plus the private
// key needed to sign on its behalf. Per the design notes, this is acquired
// once by the caller (the daemon's key store) and passed explicitly into
// every package that needs to sign — never held in a package-level
// singleton.
type Keypair struct {
	NID     NID
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a fresh Ed25519 keypair.
func GenerateKeypair() (Keypair, error) {
	return GenerateKeypairFrom(rand.Reader)
}

// GenerateKeypairFrom creates a keypair from the given entropy source,
// primarily so tests can use a deterministic reader.
func GenerateKeypairFrom(rnd io.Reader) (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rnd)
	if err != nil {
		return Keypair{}, fmt.Errorf("radcrypto: generate key: %w", err)
	}
	return Keypair{NID: NID{pub: pub}, Private: priv}, nil
}

// KeypairFromSeed reconstructs a keypair from a 32-byte Ed25519 seed, as
// read from the on-disk key store.
func KeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("radcrypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return Keypair{NID: NID{pub: pub}, Private: priv}, nil
}

// Sign signs msg with the keypair's private key.
func (k Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// NIDFromPublicKey wraps a raw 32-byte Ed25519 public key as an NID.
func NIDFromPublicKey(pub []byte) (NID, error) {
	if len(pub) != PublicKeySize {
		return NID{}, fmt.Errorf("radcrypto: public key must be %d bytes, got %d", PublicKeySize, len(pub))
	}
	cp := make([]byte, PublicKeySize)
	copy(cp, pub)
	return NID{pub: ed25519.PublicKey(cp)}, nil
}

// PublicKey returns the raw Ed25519 public key backing the NID.
func (n NID) PublicKey() ed25519.PublicKey { return n.pub }

// IsZero reports whether the NID has no key material.
func (n NID) IsZero() bool { return len(n.pub) == 0 }

// Verify reports whether sig is a valid Ed25519 signature over msg under
// this NID's public key.
func (n NID) Verify(msg, sig []byte) error {
	if len(sig) != SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(n.pub, msg, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// String renders the NID as did:key:z… — multibase-base58btc of the
// 0xed (ed25519-pub) multicodec varint prefix followed by the raw public
// key, per the multiformats did:key method.
func (n NID) String() string {
	prefix := varint.ToUvarint(uint64(multicodec.Ed25519Pub))
	buf := make([]byte, 0, len(prefix)+len(n.pub))
	buf = append(buf, prefix...)
	buf = append(buf, n.pub...)

	encoded, err := multibase.Encode(multibase.Base58BTC, buf)
	if err != nil {
		// multibase.Encode only fails for an unknown encoding constant,
		// which Base58BTC never is.
		panic(fmt.Sprintf("radcrypto: multibase encode: %v", err))
	}
	return "did:key:" + encoded
}

// ParseNID parses a did:key:z… string back into an NID.
func ParseNID(s string) (NID, error) {
	const prefix = "did:key:"
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return NID{}, fmt.Errorf("radcrypto: not a did:key: %q", s)
	}
	_, data, err := multibase.Decode(s[len(prefix):])
	if err != nil {
		return NID{}, fmt.Errorf("radcrypto: multibase decode: %w", err)
	}
	code, n, err := varint.FromUvarint(data)
	if err != nil {
		return NID{}, fmt.Errorf("radcrypto: varint decode: %w", err)
	}
	if multicodec.Code(code) != multicodec.Ed25519Pub {
		return NID{}, fmt.Errorf("radcrypto: unexpected multicodec %d, want ed25519-pub", code)
	}
	return NIDFromPublicKey(data[n:])
}

// Equal reports whether two NIDs carry the same public key.
func (n NID) Equal(o NID) bool {
	return string(n.pub) == string(o.pub)
}

// MarshalJSON renders the NID as its did:key string, so it can sit
// directly inside identity documents, COB actions, and sigrefs snapshots.
func (n NID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + n.String() + `"`), nil
}

// UnmarshalJSON parses a did:key string into an NID.
func (n *NID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("radcrypto: NID must be a JSON string")
	}
	parsed, err := ParseNID(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// RID is the repository identifier: a multibase-z multihash over the
// canonical serialization of the genesis identity entry.
type RID string

// NewRID computes the RID from the canonical bytes of a genesis identity
// entry.
func NewRID(genesisEntryCanonical []byte) (RID, error) {
	mh, err := multihash.Sum(genesisEntryCanonical, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("radcrypto: multihash sum: %w", err)
	}
	encoded, err := multibase.Encode(multibase.Base58BTC, mh)
	if err != nil {
		return "", fmt.Errorf("radcrypto: multibase encode: %w", err)
	}
	return RID("rad:" + encoded), nil
}

// String returns the rad:z… string form.
func (r RID) String() string { return string(r) }

// ObjectID is a content-addressed hash of a COB entry, rendered as hex
// (SHA-1, inherited from the underlying git-shaped object store, per
// spec §6).
type ObjectID string

// HashEntry computes the ObjectID (20-byte SHA-1 hex) of canonical entry
// bytes. SHA-1 here is a deliberate compatibility choice, matching the
// hash space of the commit/blob ids the entry's `related` field points
// into — not a cryptographic strength claim; entries are also
// Ed25519-signed.
func HashEntry(canonicalBytes []byte) ObjectID {
	h := sha1Sum(canonicalBytes)
	return ObjectID(hex.EncodeToString(h[:]))
}

func (o ObjectID) String() string { return string(o) }
