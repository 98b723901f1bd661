// Package storage persists completed procurement runs for audit. Records are
// written once and never overwritten or deleted.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"agoranet/native/mandate"
	"agoranet/procure"
)

var (
	bucketRuns   = []byte("runs")
	bucketChains = []byte("chains")

	// ErrNotFound is returned when a run record does not exist.
	ErrNotFound = errors.New("archive: run not found")
	// ErrDuplicateRun rejects a second write for the same run id.
	ErrDuplicateRun = errors.New("archive: run already recorded")
)

// Archive is the BoltDB-backed audit store for receipts and mandate chains.
type Archive struct {
	db *bolt.DB
}

// Open initialises (and migrates) the archive at the given path.
func Open(path string, options *bolt.Options) (*Archive, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketChains} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// SaveRun records a completed receipt and its mandate chain. Writing the same
// run id twice fails: terminal audit records are immutable.
func (a *Archive) SaveRun(receipt *procure.Receipt) error {
	if receipt == nil || receipt.ID == "" {
		return fmt.Errorf("archive: receipt with id required")
	}
	encoded, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("archive: encode receipt: %w", err)
	}
	var chainEncoded []byte
	if receipt.Chain != nil {
		chainEncoded, err = json.Marshal(receipt.Chain)
		if err != nil {
			return fmt.Errorf("archive: encode chain: %w", err)
		}
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if runs.Get([]byte(receipt.ID)) != nil {
			return ErrDuplicateRun
		}
		if err := runs.Put([]byte(receipt.ID), encoded); err != nil {
			return err
		}
		if chainEncoded != nil {
			return tx.Bucket(bucketChains).Put([]byte(receipt.ID), chainEncoded)
		}
		return nil
	})
}

// GetRun loads the receipt recorded for the given run id.
func (a *Archive) GetRun(id string) (*procure.Receipt, error) {
	var receipt procure.Receipt
	err := a.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketRuns).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// GetChain loads the mandate chain recorded for the given run id.
func (a *Archive) GetChain(id string) (*mandate.Snapshot, error) {
	var snap mandate.Snapshot
	err := a.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketChains).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListRunIDs returns every recorded run id in key order.
func (a *Archive) ListRunIDs() ([]string, error) {
	ids := make([]string, 0)
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
