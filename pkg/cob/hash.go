package cob

import (
	"encoding/json"
	"fmt"

	"github.com/radicle-collab/heartwood/pkg/canon"
	"github.com/radicle-collab/heartwood/pkg/radcrypto"
)

// sealEntry signs e's payload with signer, sets e.Signature, and computes
// e.ID as the content hash of the full canonical serialization — the
// entry id is stable under round-trip (spec invariant 6).
func sealEntry(e *Entry, signer radcrypto.Keypair) error {
	payloadBytes, err := canon.Marshal(e.payload())
	if err != nil {
		return fmt.Errorf("cob: marshal entry payload: %w", err)
	}
	e.Signature = base64Sig(signer.Sign(payloadBytes))

	full, err := canon.Marshal(e)
	if err != nil {
		return fmt.Errorf("cob: marshal entry: %w", err)
	}
	e.ID = radcrypto.HashEntry(full)
	return nil
}

// verifyEntry checks that e's signature matches its author and that its
// id matches a round-trip re-hash of its canonical bytes.
func verifyEntry(e *Entry) error {
	sig, err := parseSig(e.Signature)
	if err != nil {
		return err
	}
	payloadBytes, err := canon.Marshal(e.payload())
	if err != nil {
		return fmt.Errorf("cob: marshal entry payload: %w", err)
	}
	if err := e.Author.Verify(payloadBytes, sig); err != nil {
		return fmt.Errorf("cob: entry %s: %w", e.ID, err)
	}

	full, err := canon.Marshal(e)
	if err != nil {
		return fmt.Errorf("cob: marshal entry: %w", err)
	}
	if got := radcrypto.HashEntry(full); got != e.ID {
		return fmt.Errorf("cob: entry id mismatch: stored %s, computed %s", e.ID, got)
	}
	return nil
}

// encodeEntry/decodeEntry move an Entry to/from the bytes stored in the
// content-addressed object store.
func encodeEntry(e *Entry) ([]byte, error) {
	return canon.Marshal(e)
}

func decodeEntry(id EntryID, data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("cob: decode entry %s: %w", id, err)
	}
	e.ID = id
	return &e, nil
}
