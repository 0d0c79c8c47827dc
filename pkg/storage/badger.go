// Package storage provides storage engine implementations for vecdb.
//
// DiskBackend provides persistent disk-based storage using BadgerDB. Each
// vector is one key/value pair; the value is the binary record format
// described in record.go (a version byte, the dimensionality, the raw
// float64 vector body, and length-prefixed JSON metadata).
package storage

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// DiskBackend provides persistent storage using BadgerDB.
//
// Features:
//   - Persistent storage to disk, loaded back on re-open
//   - Thread-safe concurrent access (BadgerDB's own transactions)
//   - Low-memory tuning suitable for embedded/container deployments
//
// Key Structure:
//   - id -> encodeRecord(vector, metadata)
//
// Example:
//
//	backend, err := storage.NewDiskBackend("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer backend.Close()
//
//	id := storage.NewVectorID()
//	backend.StoreVector(id, []float64{0.1, 0.2, 0.3}, storage.Metadata{"label": "a"})
type DiskBackend struct {
	db *badger.DB
}

// DiskOptions configures the DiskBackend.
type DiskOptions struct {
	// DataDir is the directory for storing data files. Required unless
	// InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Useful for testing the
	// disk code path without touching the filesystem.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool

	// LowMemory enables memory-constrained settings, trading throughput
	// for a smaller resident set.
	LowMemory bool
}

// NewDiskBackend creates a persistent backend rooted at dataDir with
// default settings.
func NewDiskBackend(dataDir string) (*DiskBackend, error) {
	return NewDiskBackendWithOptions(DiskOptions{DataDir: dataDir})
}

// NewDiskBackendWithOptions creates a DiskBackend with custom tuning.
//
// Example:
//
//	backend, err := storage.NewDiskBackendWithOptions(storage.DiskOptions{
//		DataDir:    "./data/vectors",
//		SyncWrites: true, // fsync after every write
//	})
func NewDiskBackendWithOptions(opts DiskOptions) (*DiskBackend, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).
			WithValueLogFileSize(64 << 20).
			WithNumMemtables(2).
			WithNumLevelZeroTables(2).
			WithNumLevelZeroTablesStall(4).
			WithValueThreshold(1024).
			WithBlockCacheSize(32 << 20).
			WithIndexCacheSize(16 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &DiskBackend{db: db}, nil
}

// NewDiskBackendInMemory creates an in-memory BadgerDB, exercising the
// disk record codec without touching the filesystem. Useful for tests.
func NewDiskBackendInMemory() (*DiskBackend, error) {
	return NewDiskBackendWithOptions(DiskOptions{InMemory: true})
}

func (d *DiskBackend) StoreVector(id VectorID, vec []float64, meta Metadata) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}

	existed := false
	err := d.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(id))
		if err == nil {
			existed = true
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		record, encErr := encodeRecord(vec, meta)
		if encErr != nil {
			return encErr
		}
		return txn.Set([]byte(id), record)
	})
	if err != nil {
		return false, wrapErr("store_vector", err)
	}
	return !existed, nil
}

func (d *DiskBackend) RetrieveVector(id VectorID) (VectorWithMetadata, bool, error) {
	var vec []float64
	var meta Metadata
	found := false

	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			v, m, decErr := decodeRecord(val)
			if decErr != nil {
				return decErr
			}
			vec, meta = v, m
			return nil
		})
	})
	if err != nil {
		return VectorWithMetadata{}, false, wrapErr("retrieve_vector", err)
	}
	if !found {
		return VectorWithMetadata{}, false, nil
	}
	return VectorWithMetadata{ID: id, Vector: vec, Metadata: meta}, true, nil
}

func (d *DiskBackend) UpdateVector(id VectorID, vec []float64, meta Metadata) (bool, error) {
	existed := false
	err := d.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true

		raw, decErr := item.ValueCopy(nil)
		if decErr != nil {
			return decErr
		}
		existingVec, existingMeta, decErr2 := decodeRecord(raw)
		if decErr2 != nil {
			return decErr2
		}

		newVec := existingVec
		if vec != nil {
			newVec = vec
		}
		newMeta := existingMeta
		if meta != nil {
			newMeta = meta
		}

		record, encErr := encodeRecord(newVec, newMeta)
		if encErr != nil {
			return encErr
		}
		return txn.Set([]byte(id), record)
	})
	if err != nil {
		return false, wrapErr("update_vector", err)
	}
	return existed, nil
}

func (d *DiskBackend) DeleteVector(id VectorID) (bool, error) {
	existed := false
	err := d.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete([]byte(id))
	})
	if err != nil {
		return false, wrapErr("delete_vector", err)
	}
	return existed, nil
}

func (d *DiskBackend) ListVectors(limit int) ([]VectorID, error) {
	var ids []VectorID
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, VectorID(it.Item().KeyCopy(nil)))
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("list_vectors", err)
	}
	return ids, nil
}

// ListVectorIDsPaginated seeks Badger's key iterator to the cursor (the
// last-seen id) and walks forward pageSize entries. Badger's LSM-tree keys
// are naturally ordered, so this resumes a scan without re-sorting
// anything, unlike MemoryBackend.
func (d *DiskBackend) ListVectorIDsPaginated(pageSize int, cursor string) (Page[VectorID], error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	var page []VectorID
	var hasMore bool

	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		if cursor == "" {
			it.Rewind()
		} else {
			it.Seek([]byte(cursor))
			// Skip the cursor id itself; it was returned by the previous page.
			if it.Valid() && string(it.Item().Key()) == cursor {
				it.Next()
			}
		}

		for ; it.Valid(); it.Next() {
			if len(page) >= pageSize {
				hasMore = true
				break
			}
			page = append(page, VectorID(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return Page[VectorID]{}, wrapErr("list_vector_ids_paginated", err)
	}

	next := ""
	if hasMore && len(page) > 0 {
		next = string(page[len(page)-1])
	}

	return Page[VectorID]{Items: page, NextCursor: next, HasMore: hasMore}, nil
}

func (d *DiskBackend) Count() (int64, error) {
	var count int64
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, wrapErr("count", err)
	}
	return count, nil
}

func (d *DiskBackend) Close() error {
	return d.db.Close()
}
