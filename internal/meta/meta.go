package meta

import (
	"fmt"
	"sync"

	"github.com/abbycin/junkfs/internal/junkerr"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// pendingBatch is the in-memory set of buffered mutations described in
// spec.md §3/§4.1: puts shadow the persisted value, dels mask it. A key
// never appears in both at once (spec.md §8 invariant 4) — put/delete on
// the same key always clears the other map's entry first.
type pendingBatch struct {
	puts map[string][]byte
	dels map[string]struct{}
}

func newPendingBatch() pendingBatch {
	return pendingBatch{
		puts: make(map[string][]byte),
		dels: make(map[string]struct{}),
	}
}

func (b pendingBatch) empty() bool {
	return len(b.puts) == 0 && len(b.dels) == 0
}

// Meta is the metadata engine. It owns a bbolt database (the key-value
// backend of spec.md §1) and buffers mutations in a pending batch until
// commitPending applies them inside a single bbolt transaction.
type Meta struct {
	db  *bolt.DB
	log zerolog.Logger

	mu      sync.Mutex // guards pending; never held across a commit's I/O
	pending pendingBatch

	// fatal is set once commitPending has failed enough times in a row that
	// further mutations should fail fast rather than keep retrying silently.
	// spec.md §4.1: "A persistent commit failure is fatal."
	fatalMu     sync.Mutex
	consecutive int
	fatal       bool
}

const maxConsecutiveCommitFailures = 8

// Open opens (without formatting) the bbolt database at path and returns a
// Meta bound to it. Format writes the bucket named Bucket; until a store
// has it, reads find nothing and the first commit creates it.
func Open(path string, log zerolog.Logger) (*Meta, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open meta store: %v", junkerr.ErrIO, err)
	}

	m := &Meta{db: db, log: log, pending: newPendingBatch()}
	return m, nil
}

// Close closes the underlying store. Callers should commitPending first if
// they want buffered mutations to survive.
func (m *Meta) Close() error {
	return m.db.Close()
}

// get reads key, consulting the pending batch first: a pending delete
// masks the persisted value, a pending put shadows it. Falls through to a
// bbolt read-only transaction otherwise.
func (m *Meta) get(key []byte) (value []byte, found bool, err error) {
	m.mu.Lock()
	if _, deleted := m.pending.dels[string(key)]; deleted {
		m.mu.Unlock()
		return nil, false, nil
	}
	if v, ok := m.pending.puts[string(key)]; ok {
		m.mu.Unlock()
		return v, true, nil
	}
	m.mu.Unlock()

	err = m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(Bucket))
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			value = append([]byte(nil), v...)
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", junkerr.ErrIO, err)
	}
	return value, found, nil
}

// put buffers a write for key without touching the backing store.
func (m *Meta) put(key []byte, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending.dels, string(key))
	m.pending.puts[string(key)] = value
}

// delete buffers a deletion for key without touching the backing store.
func (m *Meta) delete(key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending.puts, string(key))
	m.pending.dels[string(key)] = struct{}{}
}

// scanPrefix merges a live bbolt prefix scan with the pending batch,
// returning the name suffix (after stripping prefix) -> value for every key
// that is visible after pending puts/dels are applied.
func (m *Meta) scanPrefix(prefix string) (map[string][]byte, error) {
	result := make(map[string][]byte)

	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(Bucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			result[string(k)] = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", junkerr.ErrIO, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.pending.puts {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			result[k] = v
		}
	}
	for k := range m.pending.dels {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(result, k)
		}
	}

	return result, nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// CommitPending atomically applies the current pending batch to bbolt in a
// single transaction, per spec.md §4.1 and the "pending buffer without
// clones" design note (spec.md §9): the live puts/dels maps are moved out
// (swapped for fresh empty ones) before the transaction starts, so new
// mutations accumulating concurrently are not blocked by — and do not
// inflate the memory cost of — an in-flight commit.
func (m *Meta) CommitPending() error {
	m.mu.Lock()
	batch := m.pending
	m.pending = newPendingBatch()
	m.mu.Unlock()

	if batch.empty() {
		return nil
	}

	if m.isFatal() {
		m.mergeBack(batch)
		return fmt.Errorf("%w: metadata store in fatal state, batch retained", junkerr.ErrIO)
	}

	err := m.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(Bucket))
		if err != nil {
			return err
		}
		for k, v := range batch.puts {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		for k := range batch.dels {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		m.recordFailure()
		m.mergeBack(batch)
		return fmt.Errorf("%w: commit pending: %v", junkerr.ErrIO, err)
	}

	m.recordSuccess()
	return nil
}

// mergeBack restores a drained batch that failed to commit into the live
// pending buffer, preferring whatever newer writes have already
// accumulated there (a key touched again since the batch was drained wins
// over the stale value from the failed batch).
func (m *Meta) mergeBack(batch pendingBatch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range batch.puts {
		if _, stillDeleted := m.pending.dels[k]; stillDeleted {
			continue
		}
		if _, newer := m.pending.puts[k]; newer {
			continue
		}
		m.pending.puts[k] = v
	}
	for k := range batch.dels {
		if _, newer := m.pending.puts[k]; newer {
			continue
		}
		if _, alreadyDel := m.pending.dels[k]; alreadyDel {
			continue
		}
		m.pending.dels[k] = struct{}{}
	}
}

// Sync commits the pending batch and durably flushes the backing store.
// DESIGN.md resolves spec.md §9's open question (whether fsync(datasync=
// false) implies committing pending, or only a durable flush) by doing
// both: drain pending, then fsync the bbolt file.
func (m *Meta) Sync() error {
	if err := m.CommitPending(); err != nil {
		return err
	}
	if err := m.db.Sync(); err != nil {
		return fmt.Errorf("%w: sync meta store: %v", junkerr.ErrIO, err)
	}
	return nil
}

func (m *Meta) isFatal() bool {
	m.fatalMu.Lock()
	defer m.fatalMu.Unlock()
	return m.fatal
}

func (m *Meta) recordFailure() {
	m.fatalMu.Lock()
	defer m.fatalMu.Unlock()
	m.consecutive++
	if m.consecutive >= maxConsecutiveCommitFailures {
		m.fatal = true
		m.log.Error().Int("consecutive_failures", m.consecutive).Msg("metadata store entering fatal state")
	}
}

func (m *Meta) recordSuccess() {
	m.fatalMu.Lock()
	defer m.fatalMu.Unlock()
	m.consecutive = 0
}
