// Package jobstore persists the durable half of the agent context
// (spec §3 "Agent context", §9 Open Question: "last error and retry
// counters should survive an agent_stop/agent_start round-trip") in a
// bbolt database, the way the teacher persists cluster state in
// pkg/storage/boltdb.go: one bucket per entity, JSON-encoded values,
// CRUD wrapped in db.Update/db.View transactions.
package jobstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/ota-agent/pkg/otatypes"
)

var (
	bucketState   = []byte("agent_state")
	bucketHistory = []byte("session_history")
)

const stateKey = "current"

// State is the durable snapshot written after every session (spec §3
// "Agent context" fields that must outlive a restart): the last job
// document accepted, the last error seen, and the retry counters at
// the point the session ended.
type State struct {
	LastJob      otatypes.Job
	HasLastJob   bool
	LastError    string
	LastOutcome  otatypes.SessionOutcome
	RetryCount   int
	ConnectRetry int
	UpdatedAt    time.Time
}

// HistoryEntry is one completed session, read back through
// RecentHistory; `ota-agent status` does not display it (not named by
// spec.md directly, but a natural consequence of moving the "agent
// context" into a durable store per the Open Question decision in
// DESIGN.md).
type HistoryEntry struct {
	Outcome   otatypes.SessionOutcome
	Error     string
	Version   otatypes.Version
	EndedAt   time.Time
}

// Store is the bbolt-backed persistence layer for jobstore.State.
type Store struct {
	db *bolt.DB
}

// Open creates (or reopens) the agent's state database under dataDir,
// mirroring the teacher's NewBoltStore(dataDir) shape.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "ota-agent.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("jobstore: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketState, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes the current agent state, overwriting whatever was there
// (spec §9: "last error and retry counters should survive an
// agent_stop/agent_start round-trip").
func (s *Store) Save(st State) error {
	st.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return b.Put([]byte(stateKey), data)
	})
}

// Load returns the last-saved state. A fresh store (no prior session)
// returns the zero State and no error.
func (s *Store) Load() (State, error) {
	var st State
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		data := b.Get([]byte(stateKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &st)
	})
	return st, err
}

// AppendHistory records one completed session, keyed by its end time
// so a bucket Cursor walks entries in chronological order (the same
// sorted-key-as-index idiom the teacher leans on for bucketContainers
// listing by prefix).
func (s *Store) AppendHistory(e HistoryEntry) error {
	e.EndedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		key := []byte(e.EndedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"))
		return b.Put(key, data)
	})
}

// RecentHistory returns up to limit of the most recently recorded
// sessions, most recent first.
func (s *Store) RecentHistory(limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var e HistoryEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}
