package hash

import (
	"database/sql"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/hat-backup/hat/blob"
	"github.com/hat-backup/hat/internal/errs"
	"github.com/hat-backup/hat/internal/xlog"
	_ "modernc.org/sqlite"
)

// State is the lifecycle state of a HashEntry (spec §3).
type State int

const (
	Reserved State = iota
	Committed
)

// Entry is a HashEntry: {hash, level, payload, persistent_ref, state}.
type Entry struct {
	Hash          Hash
	Level         int64
	Payload       []byte
	PersistentRef *blob.Ref
	State         State
}

// ReserveOutcome reports which branch of Reserve's atomic decision fired.
type ReserveOutcome int

const (
	// ReserveOk means the caller's hash was unknown to the index and a
	// Reserved row now exists for it; the caller owns writing this chunk.
	ReserveOk ReserveOutcome = iota
	// HashKnown means an entry (Reserved or Committed) already existed;
	// the caller should piggy-back on it instead of writing a new chunk.
	HashKnown
)

// ErrRetry is returned by FetchPersistentRef when the entry is Reserved
// but not yet Committed. It carries errs.Retry and must never escape a
// caller that owns a bounded retry loop (see hashstore).
var ErrRetry = errs.New(errs.Retry, "hash entry reserved but not yet committed")

// Index is the persistent, crash-safe registry of known hashes mapped to
// their ChunkRefs, mediating the deduplication race between concurrent
// ingesters (spec §4.1). All state transitions are transactional; a
// periodic timer boundaries those transactions so a crash loses at most
// the last interval of reservations, never a committed entry (I2).
type Index struct {
	mu    sync.Mutex
	db    *sql.DB
	tx    *sql.Tx
	cache *fastcache.Cache

	flushEvery time.Duration
	lastFlush  time.Time
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// Open opens (creating if necessary) a hash index backed by a SQLite
// database at path. cacheBytes sizes an in-memory read cache for
// already-Committed rows (0 disables it).
func Open(path string, cacheBytes int) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "open hash index %s", path)
	}
	db.SetMaxOpenConns(1) // single writer; matches the original's single SQLite connection.

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Storage, err, "migrate hash index schema")
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Storage, err, "begin hash index transaction")
	}

	idx := &Index{
		db:         db,
		tx:         tx,
		flushEvery: 5 * time.Second,
		lastFlush:  time.Now(),
		stopCh:     make(chan struct{}),
	}
	if cacheBytes > 0 {
		idx.cache = fastcache.New(cacheBytes)
	}
	idx.wg.Add(1)
	go idx.flushLoop()
	return idx, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS hash_index (
	hash      BLOB PRIMARY KEY,
	level     INTEGER NOT NULL,
	payload   BLOB,
	blob_name BLOB,
	offset    INTEGER,
	length    INTEGER,
	kind      INTEGER,
	state     INTEGER NOT NULL
);
`

func (idx *Index) flushLoop() {
	defer idx.wg.Done()
	t := time.NewTicker(idx.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			idx.mu.Lock()
			if err := idx.flushLocked(); err != nil {
				xlog.Error("hash index periodic flush failed", "err", err)
			}
			idx.mu.Unlock()
		case <-idx.stopCh:
			return
		}
	}
}

// flushLocked commits the current transaction and opens a new one. Caller
// holds idx.mu.
func (idx *Index) flushLocked() error {
	if err := idx.tx.Commit(); err != nil {
		return errs.Wrap(errs.Storage, err, "commit hash index transaction")
	}
	tx, err := idx.db.Begin()
	if err != nil {
		return errs.Wrap(errs.Storage, err, "begin hash index transaction")
	}
	idx.tx = tx
	idx.lastFlush = time.Now()
	return nil
}

// Flush forces the pending transaction to commit immediately, for
// shutdown paths that must not lose a reservation window.
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.flushLocked()
}

// Close stops the periodic flush goroutine, commits any pending
// transaction, and closes the underlying database.
func (idx *Index) Close() error {
	close(idx.stopCh)
	idx.wg.Wait()
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.tx.Commit(); err != nil {
		idx.db.Close()
		return errs.Wrap(errs.Storage, err, "commit hash index transaction on close")
	}
	return idx.db.Close()
}

// Reserve is the single point of serialization for deduplication: if hash
// already has any entry, it returns HashKnown with that entry; otherwise
// it inserts a Reserved row and returns ReserveOk.
func (idx *Index) Reserve(entry Entry) (ReserveOutcome, Entry, error) {
	if !entry.Hash.Valid() {
		return 0, Entry{}, errs.New(errs.Message, "hash index: cannot reserve a zero-length hash")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing, err := idx.lookupLocked(entry.Hash)
	if err != nil {
		return 0, Entry{}, err
	}
	if existing != nil {
		return HashKnown, *existing, nil
	}

	_, err = idx.tx.Exec(
		`INSERT INTO hash_index (hash, level, payload, blob_name, offset, length, kind, state) VALUES (?, ?, ?, NULL, NULL, NULL, NULL, ?)`,
		entry.Hash.Bytes, entry.Level, entry.Payload, int(Reserved),
	)
	if err != nil {
		return 0, Entry{}, errs.Wrap(errs.Storage, err, "insert reserved hash entry")
	}
	entry.State = Reserved
	return ReserveOk, entry, nil
}

// UpdateReserved records a persistent_ref against a Reserved entry,
// keeping its state at Reserved: the blob write has returned a future
// locator, but durability (and therefore Commit) has not happened yet.
func (idx *Index) UpdateReserved(entry Entry) error {
	if entry.PersistentRef == nil {
		return errs.New(errs.Message, "hash index: update_reserved requires a persistent_ref")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	res, err := idx.tx.Exec(
		`UPDATE hash_index SET blob_name = ?, offset = ?, length = ?, kind = ? WHERE hash = ? AND state = ?`,
		entry.PersistentRef.Name, entry.PersistentRef.Offset, entry.PersistentRef.Length, int(entry.PersistentRef.Kind),
		entry.Hash.Bytes, int(Reserved),
	)
	if err != nil {
		return errs.Wrap(errs.Storage, err, "update reserved hash entry")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.Corruption, "hash index: update_reserved found no Reserved row for %s", entry.Hash)
	}
	return nil
}

// Commit transitions the entry to Committed. Idempotent when called twice
// with an equal chunkRef; a differing chunkRef on a second commit is a
// fatal contract violation (I1).
func (idx *Index) Commit(h Hash, ref blob.Ref) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var state int
	var blobName []byte
	var offset, length sql.NullInt64
	var kind sql.NullInt64
	row := idx.tx.QueryRow(`SELECT state, blob_name, offset, length, kind FROM hash_index WHERE hash = ?`, h.Bytes)
	if err := row.Scan(&state, &blobName, &offset, &length, &kind); err != nil {
		if err == sql.ErrNoRows {
			return errs.New(errs.Corruption, "hash index: commit of unknown hash %s", h)
		}
		return errs.Wrap(errs.Storage, err, "read hash entry for commit")
	}

	if State(state) == Committed {
		existing := blob.Ref{Name: blobName, Offset: uint64(offset.Int64), Length: uint64(length.Int64), Kind: blob.Kind(kind.Int64)}
		if existing.Equal(ref) {
			return nil // idempotent
		}
		return errs.New(errs.Corruption, "hash index: double commit of %s with differing refs: %s vs %s", h, existing, ref)
	}

	_, err := idx.tx.Exec(
		`UPDATE hash_index SET blob_name = ?, offset = ?, length = ?, kind = ?, state = ? WHERE hash = ?`,
		ref.Name, ref.Offset, ref.Length, int(ref.Kind), int(Committed), h.Bytes,
	)
	if err != nil {
		return errs.Wrap(errs.Storage, err, "commit hash entry")
	}
	// A Committed row is made durable now, not at the next periodic flush.
	if err := idx.flushLocked(); err != nil {
		return err
	}
	if idx.cache != nil {
		idx.cache.Set(h.Bytes, ref.ToBytes())
	}
	return nil
}

// FetchPersistentRef returns the entry's ChunkRef if Committed, nil (no
// error) if no entry exists, or ErrRetry if the entry is Reserved but not
// yet Committed.
func (idx *Index) FetchPersistentRef(h Hash) (*blob.Ref, error) {
	if idx.cache != nil {
		if v, ok := idx.cache.HasGet(nil, h.Bytes); ok {
			ref, err := blob.RefFromBytes(v)
			if err == nil {
				return &ref, nil
			}
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, err := idx.lookupLocked(h)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	if entry.State == Reserved {
		return nil, ErrRetry
	}
	return entry.PersistentRef, nil
}

// FetchPayload returns the committed payload for h, or nil if no
// Committed entry exists.
func (idx *Index) FetchPayload(h Hash) ([]byte, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, err := idx.lookupLocked(h)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.State != Committed {
		return nil, nil
	}
	return entry.Payload, nil
}

// lookupLocked reads the raw row for h, if any. Caller holds idx.mu.
func (idx *Index) lookupLocked(h Hash) (*Entry, error) {
	var level int64
	var payload []byte
	var blobName []byte
	var offset, length, kind sql.NullInt64
	var state int

	row := idx.tx.QueryRow(`SELECT level, payload, blob_name, offset, length, kind, state FROM hash_index WHERE hash = ?`, h.Bytes)
	err := row.Scan(&level, &payload, &blobName, &offset, &length, &kind, &state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "lookup hash entry")
	}

	entry := &Entry{Hash: h, Level: level, Payload: payload, State: State(state)}
	if blobName != nil {
		ref := blob.Ref{Name: blobName, Offset: uint64(offset.Int64), Length: uint64(length.Int64), Kind: blob.Kind(kind.Int64)}
		entry.PersistentRef = &ref
		if entry.State == Committed && idx.cache != nil {
			idx.cache.Set(h.Bytes, ref.ToBytes())
		}
	}
	return entry, nil
}
