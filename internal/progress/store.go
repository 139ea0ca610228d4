// Package progress persists the last-synced block for every (indexer,
// contract, event, network) tuple in a BoltDB file, so a restart resumes
// exactly where the previous run left off instead of re-scanning from the
// configured start block.
package progress

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "progress"

// Key identifies one progress record. Unlike the teacher's single
// service-wide checkpoint, a record exists per event per contract per
// network so independently-scheduled event streams track their own
// watermark.
type Key struct {
	Indexer  string
	Contract string
	Event    string
	Network  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Indexer, k.Contract, k.Event, k.Network)
}

// Record is the persisted state for one Key.
type Record struct {
	LastSyncedBlock uint64    `json:"last_synced_block"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store wraps a BoltDB file holding every Key's Record.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the progress store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("progress: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("progress: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the record for key, and ok=false if none exists yet.
func (s *Store) Get(key Key) (Record, bool, error) {
	var rec Record
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key.String()))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("progress: get %s: %w", key, err)
	}
	return rec, found, nil
}

// GetOrStart returns the existing record for key, or a fresh one seeded at
// startBlock if none exists — it is not persisted until the first Advance.
func (s *Store) GetOrStart(key Key, startBlock uint64) (Record, error) {
	rec, ok, err := s.Get(key)
	if err != nil {
		return Record{}, err
	}
	if ok {
		return rec, nil
	}
	return Record{LastSyncedBlock: startBlock}, nil
}

// Advance writes a new LastSyncedBlock for key, keeping the watermark
// monotonically non-decreasing per §3: when concurrent (non-IndexInOrder)
// batches complete out of order, a later-block batch may be durably
// recorded before an earlier one finishes, so an Advance that arrives with
// a smaller block than what's already stored is a stale no-op rather than
// an error, matching the Postgres sink's own `WHERE last_synced_block <=
// EXCLUDED` upsert guard.
func (s *Store) Advance(key Key, block uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		var existing Record
		if data := b.Get([]byte(key.String())); data != nil {
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("progress: decode existing record for %s: %w", key, err)
			}
			if block <= existing.LastSyncedBlock {
				return nil
			}
		}

		rec := Record{LastSyncedBlock: block, UpdatedAt: time.Now()}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("progress: marshal record for %s: %w", key, err)
		}
		return b.Put([]byte(key.String()), data)
	})
}

// Close releases the underlying BoltDB file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats exposes BoltDB's own operational counters, same as the teacher's
// checkpoint store did.
func (s *Store) Stats() bbolt.Stats {
	return s.db.Stats()
}
