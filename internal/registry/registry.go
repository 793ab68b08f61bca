// Package registry persists the durable cross-folder state of the client:
// which local folder is bound to which remote scope, and a bounded rolling
// history of past sync batches.
package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lmsync/lmsync/internal/db"
	"github.com/lmsync/lmsync/internal/sync"
	"github.com/lmsync/lmsync/internal/utils"
)

// HistoryLimit caps the number of retained batch summaries.
const HistoryLimit = 50

const registrySchema = `
CREATE TABLE IF NOT EXISTS bindings (
    folder TEXT NOT NULL PRIMARY KEY,
    scope_id TEXT NOT NULL,
    scope_name TEXT NOT NULL,
    last_synced_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scope_id TEXT NOT NULL,
    folder TEXT NOT NULL,
    recorded_at TEXT NOT NULL,
    summary TEXT NOT NULL
);
`

// Binding is one folder <-> scope association with its last sync time.
type Binding struct {
	Folder       string    `db:"folder"`
	ScopeID      string    `db:"scope_id"`
	ScopeName    string    `db:"scope_name"`
	LastSyncedAt time.Time `db:"-"`
}

type dbBinding struct {
	Folder       string `db:"folder"`
	ScopeID      string `db:"scope_id"`
	ScopeName    string `db:"scope_name"`
	LastSyncedAt string `db:"last_synced_at"`
}

func (b *dbBinding) toBinding() *Binding {
	out := &Binding{Folder: b.Folder, ScopeID: b.ScopeID, ScopeName: b.ScopeName}
	if b.LastSyncedAt != "" {
		if t, err := time.Parse(time.RFC3339, b.LastSyncedAt); err == nil {
			out.LastSyncedAt = t
		}
	}
	return out
}

// HistoryRecord is one persisted batch summary.
type HistoryRecord struct {
	ID         int64
	ScopeID    string
	Folder     string
	RecordedAt time.Time
	Summary    *sync.BatchSummary
}

// Registry is the SQLite-backed store. It implements sync.Recorder.
type Registry struct {
	db *sqlx.DB
}

// Open opens (or creates) the registry database at path.
func Open(path string) (*Registry, error) {
	path, err := utils.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve registry path: %w", err)
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	conn, err := db.NewSqliteDb(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	if _, err := conn.Exec(registrySchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init registry schema: %w", err)
	}
	return &Registry{db: conn}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Bind associates a folder with a scope, replacing any previous binding
// for that folder.
func (r *Registry) Bind(folder, scopeID, scopeName string) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO bindings (folder, scope_id, scope_name, last_synced_at)
		 VALUES (?, ?, ?, COALESCE((SELECT last_synced_at FROM bindings WHERE folder = ?), ''))`,
		folder, scopeID, scopeName, folder)
	if err != nil {
		return fmt.Errorf("bind folder: %w", err)
	}
	return nil
}

// Unbind removes a folder's binding. The folder's manifest is untouched.
func (r *Registry) Unbind(folder string) error {
	_, err := r.db.Exec(`DELETE FROM bindings WHERE folder = ?`, folder)
	if err != nil {
		return fmt.Errorf("unbind folder: %w", err)
	}
	return nil
}

// Bindings returns all folder bindings ordered by scope name.
func (r *Registry) Bindings() ([]*Binding, error) {
	var rows []dbBinding
	if err := r.db.Select(&rows, `SELECT * FROM bindings ORDER BY scope_name, folder`); err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	out := make([]*Binding, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toBinding())
	}
	return out, nil
}

// Lookup returns the binding for a folder, or nil when unbound.
func (r *Registry) Lookup(folder string) (*Binding, error) {
	var row dbBinding
	err := r.db.Get(&row, `SELECT * FROM bindings WHERE folder = ?`, folder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup binding: %w", err)
	}
	return row.toBinding(), nil
}

// RecordSummary stores a batch summary, stamps the binding's last sync
// time, and prunes history beyond the retention limit.
func (r *Registry) RecordSummary(binding sync.ScopeBinding, summary *sync.BatchSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO history (scope_id, folder, recorded_at, summary) VALUES (?, ?, ?, ?)`,
		binding.ScopeID, binding.Folder, now, string(payload)); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)`,
		HistoryLimit); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE bindings SET last_synced_at = ? WHERE folder = ?`,
		now, binding.Folder); err != nil {
		return fmt.Errorf("stamp binding: %w", err)
	}
	return tx.Commit()
}

// History returns up to limit most recent batch records, newest first.
// limit <= 0 means the full retained window.
func (r *Registry) History(limit int) ([]*HistoryRecord, error) {
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}

	rows, err := r.db.Queryx(
		`SELECT id, scope_id, folder, recorded_at, summary FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*HistoryRecord
	for rows.Next() {
		var (
			rec        HistoryRecord
			recordedAt string
			payload    string
		)
		if err := rows.Scan(&rec.ID, &rec.ScopeID, &rec.Folder, &recordedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339, recordedAt); perr == nil {
			rec.RecordedAt = t
		}
		var summary sync.BatchSummary
		if err := json.Unmarshal([]byte(payload), &summary); err != nil {
			return nil, fmt.Errorf("decode history summary: %w", err)
		}
		rec.Summary = &summary
		out = append(out, &rec)
	}
	return out, rows.Err()
}
