// Copyright 2025 heartwood contributors
//
// Package store implements the storage abstraction of spec §3/§4.4: a
// namespaced ref tree plus a content-addressed object store, with atomic
// multi-ref transactions. The underlying key/value engine is pluggable —
// in production it is backed by CometBFT's dbm.DB (goleveldb on disk,
// memdb for tests), following the same wrapping pattern the teacher used
// to put CometBFT's storage behind its own ledger.KV interface.
package store

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KV is the minimal key/value contract the ref/object store is built on.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Iterate calls fn for every key with the given prefix, in
	// lexicographic order, until fn returns false or the range ends.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

// dbAdapter wraps a CometBFT dbm.DB and exposes it through the KV
// interface. Store itself holds a dbm.DB directly and does not use KV.
type dbAdapter struct {
	db dbm.DB
}

// NewKVAdapter wraps an existing CometBFT database.
func NewKVAdapter(db dbm.DB) KV {
	return &dbAdapter{db: db}
}

// NewMemKV returns an in-process, non-persistent KV backed by a CometBFT
// memdb.
func NewMemKV() KV {
	return &dbAdapter{db: dbm.NewMemDB()}
}

func (a *dbAdapter) Get(key []byte) ([]byte, error) {
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (a *dbAdapter) Set(key, value []byte) error {
	return a.db.SetSync(key, value)
}

func (a *dbAdapter) Delete(key []byte) error {
	return a.db.DeleteSync(key)
}

func (a *dbAdapter) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	it, err := a.db.Iterator(prefix, dbm.PrefixEndBytes(prefix))
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		key := append([]byte(nil), it.Key()...)
		value := append([]byte(nil), it.Value()...)
		if !fn(key, value) {
			break
		}
	}
	return it.Error()
}
