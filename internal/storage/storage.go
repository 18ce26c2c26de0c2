// Package storage durably persists the portion of server state a host
// must recover after a crash: the current term, the vote cast this
// term, and the log. It is backed by a single bbolt file, following
// the same "one mmapped database, explicit buckets" shape the project
// elsewhere uses for its key-value backend, simplified here since the
// core never needs snapshotting or background compaction of this
// store: the log itself is the only thing that grows.
package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/gyuho/raftcore/raft/raftpb"
	bolt "go.etcd.io/bbolt"
)

var (
	hardStateBucket = []byte("hardstate")
	logBucket       = []byte("log")

	hardStateKey = []byte("current")
)

// Store is a bbolt-backed implementation of StorageStable (see
// cmd/raftnode for how the host loop uses it). All writes commit
// synchronously: the host must durably persist state before replying
// to a message, so batching writes behind a timer (the way the
// project's mvcc backend does for its general-purpose key-value
// store) would violate that contract here.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a Store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(hardStateBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: cannot initialize buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetHardState returns the last persisted HardState, or
// raftpb.EmptyHardState if none has ever been written.
func (s *Store) GetHardState() (raftpb.HardState, error) {
	var st raftpb.HardState
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(hardStateBucket).Get(hardStateKey)
		if v == nil {
			st = raftpb.EmptyHardState
			return nil
		}
		if len(v) != 24 {
			return fmt.Errorf("storage: corrupt hard state record (%d bytes)", len(v))
		}
		st.CurrentTerm = binary.BigEndian.Uint64(v[0:8])
		st.VotedFor = binary.BigEndian.Uint64(v[8:16])
		st.CommitIndex = binary.BigEndian.Uint64(v[16:24])
		return nil
	})
	return st, err
}

// SetHardState overwrites the persisted HardState. It must complete
// before the host replies to whatever request caused the change.
func (s *Store) SetHardState(st raftpb.HardState) error {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], st.CurrentTerm)
	binary.BigEndian.PutUint64(buf[8:16], st.VotedFor)
	binary.BigEndian.PutUint64(buf[16:24], st.CommitIndex)

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(hardStateBucket).Put(hardStateKey, buf)
	})
}

// Entries returns the persisted log entries with index in [lo, hi).
func (s *Store) Entries(lo, hi uint64) ([]raftpb.LogEntry, error) {
	var entries []raftpb.LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		for index := lo; index < hi; index++ {
			v := b.Get(encodeIndex(index))
			if v == nil {
				return fmt.Errorf("storage: missing log entry at index %d", index)
			}
			e, err := decodeEntry(index, v)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// Append persists entries, keyed by index. Any entry whose index is
// already present is overwritten, which is how a follower's log
// repair (truncate-then-append) is made durable one entry at a time.
func (s *Store) Append(entries []raftpb.LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		for _, e := range entries {
			if err := b.Put(encodeIndex(e.Index), encodeEntry(e)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastIndex returns the highest persisted log index, or 0 if no entry
// has ever been appended.
func (s *Store) LastIndex() (uint64, error) {
	var last uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(logBucket).Cursor().Last()
		if k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return last, err
}

// Truncate deletes every persisted entry with index strictly greater
// than after, mirroring raft.Log.truncatedAfter on the durable copy.
func (s *Store) Truncate(after uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)
		c := b.Cursor()
		for k, _ := c.Seek(encodeIndex(after + 1)); k != nil; k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func encodeIndex(index uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, index)
	return buf
}

func encodeEntry(e raftpb.LogEntry) []byte {
	buf := make([]byte, 16+len(e.Data))
	binary.BigEndian.PutUint64(buf[0:8], e.Index)
	binary.BigEndian.PutUint64(buf[8:16], e.Term)
	copy(buf[16:], e.Data)
	return buf
}

func decodeEntry(index uint64, v []byte) (raftpb.LogEntry, error) {
	if len(v) < 16 {
		return raftpb.LogEntry{}, fmt.Errorf("storage: corrupt entry record at index %d", index)
	}
	return raftpb.LogEntry{
		Index: binary.BigEndian.Uint64(v[0:8]),
		Term:  binary.BigEndian.Uint64(v[8:16]),
		Data:  append([]byte(nil), v[16:]...),
	}, nil
}

// StorageStable pins down the persistence contract raft.RaftState's
// host is expected to satisfy. It is declared here (not in the raft
// package) since raft itself never calls it: the host loop in
// cmd/raftnode reads and writes it directly around calls into raft.
type StorageStable interface {
	GetHardState() (raftpb.HardState, error)
	SetHardState(raftpb.HardState) error
	Entries(lo, hi uint64) ([]raftpb.LogEntry, error)
	Append(entries []raftpb.LogEntry) error
	Truncate(after uint64) error
}

var _ StorageStable = (*Store)(nil)
