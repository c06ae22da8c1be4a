// Package keyindex is local state for the keys (paths) in the snapshot in
// progress: a SQLite-backed tree of directory entries, each optionally
// carrying the hash-tree root hash and persistent ref for its file content
// (spec §4.6).
// Grounded directly on the original's key::index.
package keyindex

import (
	"database/sql"
	"sync"
	"time"

	"github.com/hat-backup/hat/blob"
	"github.com/hat-backup/hat/hash"
	"github.com/hat-backup/hat/internal/errs"
	_ "modernc.org/sqlite"
)

// Entry is one row of the key index: a file or directory under some
// parent, with the usual filesystem metadata and, once its content has
// been hashed, a data hash. DataLength is not stored in the index and is
// never filled in by Lookup or ListDir.
type Entry struct {
	ID       *int64
	ParentID *int64
	Name     []byte

	Created  *int64
	Modified *int64
	Accessed *int64

	Permissions *uint64
	UserID      *uint64
	GroupID     *uint64

	DataHash   *hash.Hash
	DataLength *uint64
}

// Index is the persistent tree of key entries for one family's
// in-progress snapshot.
type Index struct {
	mu sync.Mutex
	db *sql.DB
	tx *sql.Tx

	flushEvery time.Duration
	lastFlush  time.Time
}

// Open opens (creating if necessary) a key index at path.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "open key index %s", path)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Storage, err, "migrate key index schema")
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Storage, err, "begin key index transaction")
	}

	return &Index{db: db, tx: tx, flushEvery: 5 * time.Second, lastFlush: time.Now()}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS keys (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	parent          INTEGER,
	name            BLOB NOT NULL,
	created         INTEGER,
	modified        INTEGER,
	accessed        INTEGER,
	permissions     INTEGER,
	user_id         INTEGER,
	group_id        INTEGER,
	hash            BLOB,
	persistent_ref  BLOB
);
`

// maybeFlushLocked commits and reopens the working transaction if the flush
// interval has elapsed, bounding how much uncommitted state a crash can
// lose. Caller holds idx.mu.
func (idx *Index) maybeFlushLocked() error {
	if time.Since(idx.lastFlush) < idx.flushEvery {
		return nil
	}
	return idx.flushLocked()
}

func (idx *Index) flushLocked() error {
	if err := idx.tx.Commit(); err != nil {
		return errs.Wrap(errs.Storage, err, "commit key index transaction")
	}
	tx, err := idx.db.Begin()
	if err != nil {
		return errs.Wrap(errs.Storage, err, "begin key index transaction")
	}
	idx.tx = tx
	idx.lastFlush = time.Now()
	return nil
}

// Flush forces the pending transaction to commit immediately.
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.flushLocked()
}

// Close flushes and closes the underlying database.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.tx.Commit(); err != nil {
		idx.db.Close()
		return errs.Wrap(errs.Storage, err, "commit key index transaction on close")
	}
	return idx.db.Close()
}

// Insert creates a new row (entry.ID == nil) or, for an existing one
// (entry.ID != nil), replaces its parent, name and timestamps; permissions
// and ownership of an existing row are left unchanged. It returns the
// entry with its ID populated.
func (idx *Index) Insert(entry Entry) (Entry, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if entry.ID != nil {
		_, err := idx.tx.Exec(
			`UPDATE keys SET parent = ?, name = ?, created = ?, modified = ?, accessed = ? WHERE id = ?`,
			nullableInt(entry.ParentID), entry.Name, nullableInt(entry.Created), nullableInt(entry.Modified), nullableInt(entry.Accessed), *entry.ID,
		)
		if err != nil {
			return Entry{}, errs.Wrap(errs.Storage, err, "update key entry %d", *entry.ID)
		}
		return entry, nil
	}

	res, err := idx.tx.Exec(
		`INSERT INTO keys (parent, name, created, modified, accessed, permissions, user_id, group_id, hash, persistent_ref) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		nullableInt(entry.ParentID), entry.Name, nullableInt(entry.Created), nullableInt(entry.Modified), nullableInt(entry.Accessed),
		nullableUint(entry.Permissions), nullableUint(entry.UserID), nullableUint(entry.GroupID),
	)
	if err != nil {
		return Entry{}, errs.Wrap(errs.Storage, err, "insert key entry")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Entry{}, errs.Wrap(errs.Storage, err, "read inserted key entry id")
	}
	entry.ID = &id
	if err := idx.maybeFlushLocked(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Lookup finds the entry named name under parent (nil for the tree root).
func (idx *Index) Lookup(parent *int64, name []byte) (*Entry, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var row *sql.Row
	if parent != nil {
		row = idx.tx.QueryRow(`SELECT id, created, modified, accessed, permissions, user_id, group_id, hash FROM keys WHERE parent = ? AND name = ?`, *parent, name)
	} else {
		row = idx.tx.QueryRow(`SELECT id, created, modified, accessed, permissions, user_id, group_id, hash FROM keys WHERE parent IS NULL AND name = ?`, name)
	}
	return scanEntry(row, parent, name)
}

func scanEntry(row *sql.Row, parent *int64, name []byte) (*Entry, error) {
	var id int64
	var created, modified, accessed, permissions, userID, groupID sql.NullInt64
	var h []byte
	if err := row.Scan(&id, &created, &modified, &accessed, &permissions, &userID, &groupID, &h); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Storage, err, "lookup key entry")
	}
	entry := &Entry{
		ID: &id, ParentID: parent, Name: name,
		Created: nullInt(created), Modified: nullInt(modified), Accessed: nullInt(accessed),
		Permissions: nullUint(permissions), UserID: nullUint(userID), GroupID: nullUint(groupID),
	}
	if h != nil {
		entry.DataHash = &hash.Hash{Bytes: h}
	}
	return entry, nil
}

// UpdateDataHash records a file's content hash and persistent ref on its
// entry. If lastModified is non-nil, the update is skipped when the
// stored modified time is newer (the file changed again since this hash
// was computed), matching the original's staleness guard.
func (idx *Index) UpdateDataHash(id int64, lastModified *int64, h *hash.Hash, ref *blob.Ref) error {
	var hashBytes, refBytes []byte
	if h != nil {
		hashBytes = h.Bytes
	}
	if ref != nil {
		refBytes = ref.ToBytes()
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var err error
	if lastModified != nil {
		_, err = idx.tx.Exec(
			`UPDATE keys SET hash = ?, persistent_ref = ? WHERE id = ? AND (modified IS NULL OR modified <= ?)`,
			hashBytes, refBytes, id, *lastModified,
		)
	} else {
		_, err = idx.tx.Exec(`UPDATE keys SET hash = ?, persistent_ref = ? WHERE id = ?`, hashBytes, refBytes, id)
	}
	if err != nil {
		return errs.Wrap(errs.Storage, err, "update data hash for key entry %d", id)
	}
	return idx.maybeFlushLocked()
}

// ListDir returns every entry under parent (nil for the tree root),
// paired with its persistent ref if it has one.
func (idx *Index) ListDir(parent *int64) ([]EntryWithRef, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var rows *sql.Rows
	var err error
	if parent != nil {
		rows, err = idx.tx.Query(`SELECT id, parent, name, created, modified, accessed, permissions, user_id, group_id, hash, persistent_ref FROM keys WHERE parent = ?`, *parent)
	} else {
		rows, err = idx.tx.Query(`SELECT id, parent, name, created, modified, accessed, permissions, user_id, group_id, hash, persistent_ref FROM keys WHERE parent IS NULL`)
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "list key entries")
	}
	defer rows.Close()

	var out []EntryWithRef
	for rows.Next() {
		var id int64
		var parentID sql.NullInt64
		var name []byte
		var created, modified, accessed, permissions, userID, groupID sql.NullInt64
		var h, refBytes []byte
		if err := rows.Scan(&id, &parentID, &name, &created, &modified, &accessed, &permissions, &userID, &groupID, &h, &refBytes); err != nil {
			return nil, errs.Wrap(errs.Storage, err, "scan key entry")
		}
		entry := Entry{
			ID: &id, ParentID: nullInt(parentID), Name: name,
			Created: nullInt(created), Modified: nullInt(modified), Accessed: nullInt(accessed),
			Permissions: nullUint(permissions), UserID: nullUint(userID), GroupID: nullUint(groupID),
		}
		if h != nil {
			entry.DataHash = &hash.Hash{Bytes: h}
		}
		item := EntryWithRef{Entry: entry}
		if refBytes != nil {
			ref, err := blob.RefFromBytes(refBytes)
			if err != nil {
				return nil, err
			}
			item.PersistentRef = &ref
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// EntryWithRef pairs a key entry with the persistent ref of its content,
// if one has been recorded.
type EntryWithRef struct {
	Entry
	PersistentRef *blob.Ref
}

func nullableInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableUint(p *uint64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullUint(n sql.NullInt64) *uint64 {
	if !n.Valid {
		return nil
	}
	v := uint64(n.Int64)
	return &v
}
