package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lmsync/lmsync/internal/db"
	"github.com/lmsync/lmsync/internal/lms"
)

// InternalDirName is the per-folder directory holding engine state. Its
// contents never take part in diffing.
const InternalDirName = ".lmsync"

const manifestSchema = `
CREATE TABLE IF NOT EXISTS manifest (
    item_id INTEGER NOT NULL,
    synthetic INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL,
    local_path TEXT NOT NULL,
    size INTEGER NOT NULL,
    digest TEXT NOT NULL DEFAULT '', -- remote MD5, empty when unpublished
    remote_modified_at TEXT NOT NULL, -- RFC3339, empty when unknown
    downloaded_at TEXT NOT NULL,
    is_ignored INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (item_id, synthetic)
);

CREATE INDEX IF NOT EXISTS idx_manifest_local_path ON manifest(local_path);
`

// Entry is the persisted record of one previously synced identity.
type Entry struct {
	Ref              lms.ItemRef
	Name             string
	LocalPath        string
	Size             int64
	Digest           string
	RemoteModifiedAt time.Time
	DownloadedAt     time.Time
	Ignored          bool
}

// dbEntry is the scan target where times are stored as TEXT.
type dbEntry struct {
	ItemID           int64  `db:"item_id"`
	Synthetic        int    `db:"synthetic"`
	Name             string `db:"name"`
	LocalPath        string `db:"local_path"`
	Size             int64  `db:"size"`
	Digest           string `db:"digest"`
	RemoteModifiedAt string `db:"remote_modified_at"`
	DownloadedAt     string `db:"downloaded_at"`
	IsIgnored        int    `db:"is_ignored"`
}

func (e *dbEntry) toEntry() *Entry {
	entry := &Entry{
		Ref:       lms.ItemRef{ID: e.ItemID, Synthetic: e.Synthetic != 0},
		Name:      e.Name,
		LocalPath: e.LocalPath,
		Size:      e.Size,
		Digest:    e.Digest,
		Ignored:   e.IsIgnored != 0,
	}
	if e.RemoteModifiedAt != "" {
		if t, err := time.Parse(time.RFC3339, e.RemoteModifiedAt); err == nil {
			entry.RemoteModifiedAt = t
		}
	}
	if e.DownloadedAt != "" {
		if t, err := time.Parse(time.RFC3339, e.DownloadedAt); err == nil {
			entry.DownloadedAt = t
		}
	}
	return entry
}

func fromEntry(e *Entry) *dbEntry {
	rec := &dbEntry{
		ItemID:    e.Ref.ID,
		Name:      e.Name,
		LocalPath: e.LocalPath,
		Size:      e.Size,
		Digest:    e.Digest,
	}
	if e.Ref.Synthetic {
		rec.Synthetic = 1
		// Rendered content has no stable size signal.
		rec.Size = 0
	}
	if e.Ignored {
		rec.IsIgnored = 1
	}
	if !e.RemoteModifiedAt.IsZero() {
		rec.RemoteModifiedAt = e.RemoteModifiedAt.UTC().Format(time.RFC3339)
	}
	if !e.DownloadedAt.IsZero() {
		rec.DownloadedAt = e.DownloadedAt.UTC().Format(time.RFC3339)
	}
	return rec
}

// Manifest is the durable, folder-scoped record of synced identities,
// backed by SQLite. One manifest per bound folder; writes are serialized by
// the single active session owning the folder.
type Manifest struct {
	db     *sqlx.DB
	dbPath string
}

// NewManifest opens (creating if needed) the manifest of the given folder
// and applies the schema. A single connection serializes writes.
func NewManifest(folder string) (*Manifest, error) {
	dbPath := filepath.Join(folder, InternalDirName, "manifest.db")

	database, err := db.NewSqliteDb(db.WithPath(dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	if _, err := database.Exec(manifestSchema); err != nil {
		database.Close()
		return nil, fmt.Errorf("init manifest schema: %w", err)
	}

	return &Manifest{db: database, dbPath: dbPath}, nil
}

// Close closes the underlying database connection.
func (m *Manifest) Close() error {
	if m.db == nil {
		return ErrManifestClosed
	}
	err := m.db.Close()
	m.db = nil
	if err != nil {
		slog.Error("manifest close", "path", m.dbPath, "error", err)
		return err
	}
	return nil
}

// Get retrieves one entry, or nil when the identity is untracked.
func (m *Manifest) Get(ref lms.ItemRef) (*Entry, error) {
	if m.db == nil {
		return nil, ErrManifestClosed
	}
	var rec dbEntry
	err := m.db.Get(&rec,
		"SELECT item_id, synthetic, name, local_path, size, digest, remote_modified_at, downloaded_at, is_ignored FROM manifest WHERE item_id = ? AND synthetic = ?",
		ref.ID, boolToInt(ref.Synthetic))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("manifest get %s: %w", ref, err)
	}
	return rec.toEntry(), nil
}

// GetByPath retrieves the entry tracking a relative path, or nil when no
// entry points there.
func (m *Manifest) GetByPath(localPath string) (*Entry, error) {
	if m.db == nil {
		return nil, ErrManifestClosed
	}
	var rec dbEntry
	err := m.db.Get(&rec,
		"SELECT item_id, synthetic, name, local_path, size, digest, remote_modified_at, downloaded_at, is_ignored FROM manifest WHERE local_path = ?",
		localPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("manifest get path %s: %w", localPath, err)
	}
	return rec.toEntry(), nil
}

// GetState returns the whole manifest keyed by identity.
func (m *Manifest) GetState() (map[lms.ItemRef]*Entry, error) {
	if m.db == nil {
		return nil, ErrManifestClosed
	}
	var recs []dbEntry
	err := m.db.Select(&recs,
		"SELECT item_id, synthetic, name, local_path, size, digest, remote_modified_at, downloaded_at, is_ignored FROM manifest")
	if err != nil {
		return nil, fmt.Errorf("manifest state: %w", err)
	}

	state := make(map[lms.ItemRef]*Entry, len(recs))
	for i := range recs {
		entry := recs[i].toEntry()
		state[entry.Ref] = entry
	}
	return state, nil
}

// Upsert inserts or replaces an entry. Repeated identical writes are inert.
func (m *Manifest) Upsert(entry *Entry) error {
	if m.db == nil {
		return ErrManifestClosed
	}
	if entry == nil {
		return fmt.Errorf("manifest upsert: nil entry")
	}

	query := `INSERT OR REPLACE INTO manifest
	          (item_id, synthetic, name, local_path, size, digest, remote_modified_at, downloaded_at, is_ignored)
	          VALUES (:item_id, :synthetic, :name, :local_path, :size, :digest, :remote_modified_at, :downloaded_at, :is_ignored)`
	if _, err := m.db.NamedExec(query, fromEntry(entry)); err != nil {
		return fmt.Errorf("manifest upsert %s: %w", entry.Ref, err)
	}
	slog.Debug("manifest upsert", "ref", entry.Ref, "path", entry.LocalPath)
	return nil
}

// SetIgnored flips the ignore flag for an identity. Ignored entries survive
// every analysis until explicitly cleared.
func (m *Manifest) SetIgnored(ref lms.ItemRef, ignored bool) error {
	if m.db == nil {
		return ErrManifestClosed
	}
	res, err := m.db.Exec("UPDATE manifest SET is_ignored = ? WHERE item_id = ? AND synthetic = ?",
		boolToInt(ignored), ref.ID, boolToInt(ref.Synthetic))
	if err != nil {
		return fmt.Errorf("manifest set ignored %s: %w", ref, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("manifest set ignored %s: not tracked", ref)
	}
	return nil
}

// Remove purges an entry. Manual operation only; automatic diffing never
// deletes manifest history.
func (m *Manifest) Remove(ref lms.ItemRef) error {
	if m.db == nil {
		return ErrManifestClosed
	}
	if _, err := m.db.Exec("DELETE FROM manifest WHERE item_id = ? AND synthetic = ?",
		ref.ID, boolToInt(ref.Synthetic)); err != nil {
		return fmt.Errorf("manifest remove %s: %w", ref, err)
	}
	return nil
}

// Count returns the number of tracked identities.
func (m *Manifest) Count() (int, error) {
	if m.db == nil {
		return 0, ErrManifestClosed
	}
	var count int
	if err := m.db.Get(&count, "SELECT COUNT(*) FROM manifest"); err != nil {
		return 0, fmt.Errorf("manifest count: %w", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
