// Package ftparchive generates Packages, Sources, Contents and Release
// indices from a tree of package archives, backed by a content-hashed
// cache database and multi-codec output writers.
package ftparchive

import (
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/aptutil/aptcore"
)

// Cache rows are keyed by (filename, tag).
const (
	tagStat     = "st"
	tagControl  = "cl"
	tagContents = "cn"
	tagSource   = "cs"
)

// schemaVersion gates the on-disk format. Older or unknown versions
// are refused at open; there is no in-place migration.
const schemaVersion = 2

// ErrCacheVersion reports a cache file from a different format epoch.
var ErrCacheVersion = errors.New("ftparchive: cache database has an unsupported format")

// Flag bits of a stat record: one per valid hash, then one each for a
// cached control, contents and source row.
const (
	flagMD5 uint32 = 1 << iota
	flagSHA1
	flagSHA256
	flagSHA512
	flagControlOK
	flagContentsOK
	flagSourceOK
)

// StatRecord is the fixed-layout "st" row: which hashes are valid,
// the stat pair that validates them, and the sums themselves.
type StatRecord struct {
	Flags  uint32
	Mtime  int64
	Size   int64
	MD5    [16]byte
	SHA1   [20]byte
	SHA256 [32]byte
	SHA512 [64]byte
}

const statRecordLen = 4 + 8 + 8 + 16 + 20 + 32 + 64

func (r *StatRecord) encode() []byte {
	b := make([]byte, statRecordLen)
	binary.BigEndian.PutUint32(b[0:], r.Flags)
	binary.BigEndian.PutUint64(b[4:], uint64(r.Mtime))
	binary.BigEndian.PutUint64(b[12:], uint64(r.Size))
	o := 20
	o += copy(b[o:], r.MD5[:])
	o += copy(b[o:], r.SHA1[:])
	o += copy(b[o:], r.SHA256[:])
	copy(b[o:], r.SHA512[:])
	return b
}

func decodeStatRecord(b []byte) (*StatRecord, error) {
	if len(b) != statRecordLen {
		return nil, fmt.Errorf("ftparchive: stat record has %d bytes, want %d", len(b), statRecordLen)
	}
	r := &StatRecord{
		Flags: binary.BigEndian.Uint32(b[0:]),
		Mtime: int64(binary.BigEndian.Uint64(b[4:])),
		Size:  int64(binary.BigEndian.Uint64(b[12:])),
	}
	o := 20
	o += copy(r.MD5[:], b[o:])
	o += copy(r.SHA1[:], b[o:])
	o += copy(r.SHA256[:], b[o:])
	copy(r.SHA512[:], b[o:])
	return r, nil
}

// Hashes converts the record's valid sums into a list.
func (r *StatRecord) Hashes() aptcore.HashStringList {
	var l aptcore.HashStringList
	if r.Flags&flagMD5 != 0 {
		l.Push(aptcore.NewHashString(aptcore.MD5Sum, hex.EncodeToString(r.MD5[:])))
	}
	if r.Flags&flagSHA1 != 0 {
		l.Push(aptcore.NewHashString(aptcore.SHA1, hex.EncodeToString(r.SHA1[:])))
	}
	if r.Flags&flagSHA256 != 0 {
		l.Push(aptcore.NewHashString(aptcore.SHA256, hex.EncodeToString(r.SHA256[:])))
	}
	if r.Flags&flagSHA512 != 0 {
		l.Push(aptcore.NewHashString(aptcore.SHA512, hex.EncodeToString(r.SHA512[:])))
	}
	l.PushSize(r.Size)
	return l
}

// setHashes stores a computed list into the record and flags.
func (r *StatRecord) setHashes(l aptcore.HashStringList) {
	for _, h := range l.Entries() {
		raw, err := hex.DecodeString(h.Value())
		if err != nil {
			continue
		}
		switch h.Type() {
		case aptcore.MD5Sum:
			copy(r.MD5[:], raw)
			r.Flags |= flagMD5
		case aptcore.SHA1:
			copy(r.SHA1[:], raw)
			r.Flags |= flagSHA1
		case aptcore.SHA256:
			copy(r.SHA256[:], raw)
			r.Flags |= flagSHA256
		case aptcore.SHA512:
			copy(r.SHA512[:], raw)
			r.Flags |= flagSHA512
		}
	}
}

// CacheDB is the per-component cache file.
type CacheDB struct {
	db   *sql.DB
	path string
}

// OpenCache opens or creates the cache at path. A cache written by a
// different format epoch is refused unless rebuild is set, in which
// case it is emptied and restamped.
func OpenCache(path string, rebuild bool) (*CacheDB, error) {
	u := url.URL{
		Scheme:   "file",
		Opaque:   path,
		RawQuery: url.Values{"_pragma": {"journal_mode(WAL)", "busy_timeout(5000)"}}.Encode(),
	}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, err
	}
	c := &CacheDB{db: db, path: path}
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		db.Close()
		return nil, err
	}
	switch {
	case version == 0:
		// Fresh file.
	case version != schemaVersion && !rebuild:
		db.Close()
		return nil, fmt.Errorf("%w: %s has version %d, want %d", ErrCacheVersion, path, version, schemaVersion)
	case version != schemaVersion:
		if _, err := db.Exec(`DROP TABLE IF EXISTS cache`); err != nil {
			db.Close()
			return nil, err
		}
	}
	stmts := []string{
		fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion),
		`CREATE TABLE IF NOT EXISTS cache (
			filename TEXT NOT NULL,
			tag      TEXT NOT NULL,
			data     BLOB NOT NULL,
			PRIMARY KEY (filename, tag)
		) WITHOUT ROWID`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, err
		}
	}
	return c, nil
}

// Close releases the handle.
func (c *CacheDB) Close() error { return c.db.Close() }

func (c *CacheDB) get(filename, tag string) ([]byte, bool, error) {
	var data []byte
	err := c.db.QueryRow(`SELECT data FROM cache WHERE filename = ? AND tag = ?`, filename, tag).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return data, true, nil
}

func (c *CacheDB) put(filename, tag string, data []byte) error {
	_, err := c.db.Exec(`INSERT INTO cache (filename, tag, data) VALUES (?, ?, ?)
		ON CONFLICT (filename, tag) DO UPDATE SET data = excluded.data`, filename, tag, data)
	return err
}

// GetStat returns the stat row for filename, if cached.
func (c *CacheDB) GetStat(filename string) (*StatRecord, bool, error) {
	raw, ok, err := c.get(filename, tagStat)
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := decodeStatRecord(raw)
	if err != nil {
		// A corrupt row is treated as a miss and rewritten.
		return nil, false, nil
	}
	return rec, true, nil
}

// PutStat stores the stat row.
func (c *CacheDB) PutStat(filename string, rec *StatRecord) error {
	return c.put(filename, tagStat, rec.encode())
}

// GetControl returns the cached control paragraph.
func (c *CacheDB) GetControl(filename string) ([]byte, bool, error) {
	return c.get(filename, tagControl)
}

// PutControl stores the control paragraph.
func (c *CacheDB) PutControl(filename string, data []byte) error {
	return c.put(filename, tagControl, data)
}

// GetContents returns the cached contents listing.
func (c *CacheDB) GetContents(filename string) ([]byte, bool, error) {
	return c.get(filename, tagContents)
}

// PutContents stores the contents listing.
func (c *CacheDB) PutContents(filename string, data []byte) error {
	return c.put(filename, tagContents, data)
}

// GetSource returns the cached dsc text.
func (c *CacheDB) GetSource(filename string) ([]byte, bool, error) {
	return c.get(filename, tagSource)
}

// PutSource stores the dsc text.
func (c *CacheDB) PutSource(filename string, data []byte) error {
	return c.put(filename, tagSource, data)
}

// Clean removes rows for files no longer present in keep.
func (c *CacheDB) Clean(keep map[string]bool) (int64, error) {
	rows, err := c.db.Query(`SELECT DISTINCT filename FROM cache`)
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var fn string
		if err := rows.Scan(&fn); err != nil {
			rows.Close()
			return 0, err
		}
		if !keep[fn] {
			stale = append(stale, fn)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	var removed int64
	for _, fn := range stale {
		res, err := c.db.Exec(`DELETE FROM cache WHERE filename = ?`, fn)
		if err != nil {
			return removed, err
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}
	return removed, nil
}
