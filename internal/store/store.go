// Package store persists curations and the cluster cache in SQLite. The
// per-spike assignment array can run into the millions of entries, so it is
// stored as one lz4-compressed JSON blob; groups and labels are small and
// stay relational.
package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"
	_ "modernc.org/sqlite"
)

// CurationSummary holds the metadata for a saved curation.
type CurationSummary struct {
	ID        int64
	Rev       int
	Dataset   string
	CreatedAt time.Time
	NSpikes   int
	NClusters int
}

// CurationFull is a curation with its full payload.
type CurationFull struct {
	CurationSummary
	NextClusterID int
	Assignments   []int          // spike index → cluster id
	Groups        map[int]string // cluster id → group
	Labels        map[string]map[int]string
}

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS curations (
    id              INTEGER PRIMARY KEY,
    rev             INTEGER NOT NULL,
    dataset         TEXT NOT NULL,
    created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
    n_spikes        INTEGER NOT NULL,
    n_clusters      INTEGER NOT NULL,
    next_cluster_id INTEGER NOT NULL,
    assignments     BLOB NOT NULL,
    UNIQUE(dataset, rev)
);
CREATE TABLE IF NOT EXISTS curation_groups (
    id          INTEGER PRIMARY KEY,
    curation_id INTEGER NOT NULL REFERENCES curations(id) ON DELETE CASCADE,
    cluster_id  INTEGER NOT NULL,
    grp         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS curation_labels (
    id          INTEGER PRIMARY KEY,
    curation_id INTEGER NOT NULL REFERENCES curations(id) ON DELETE CASCADE,
    field       TEXT NOT NULL,
    cluster_id  INTEGER NOT NULL,
    value       TEXT NOT NULL
);`,
	},
	{
		Version:     2,
		Description: "create cache table for per-dataset derived data",
		SQL: `
CREATE TABLE cache (
    key        TEXT PRIMARY KEY,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    data       BLOB NOT NULL
);`,
	},
}

// OpenDB opens (or creates) a SQLite database at the given path.
// It creates parent directories if needed, enables foreign keys and WAL mode,
// and runs any pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// WAL for better concurrency between the TUI and the bridge.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// runMigrations ensures the schema_migrations table exists and applies any
// pending migrations in order.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// DefaultDBPath returns the default database file path:
// ~/.local/share/sortbench/sortbench.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "sortbench", "sortbench.db"), nil
}

// SaveCuration inserts a curation with its groups and labels in a single
// transaction. The rev number is auto-assigned per dataset. Returns the
// assigned rev number.
func SaveCuration(db *sql.DB, dataset string, cur CurationFull) (int, error) {
	blob, err := compress(cur.Assignments)
	if err != nil {
		return 0, fmt.Errorf("encode assignments: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rev int
	err = tx.QueryRow("SELECT COALESCE(MAX(rev), 0) + 1 FROM curations WHERE dataset = ?", dataset).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("compute next rev: %w", err)
	}

	res, err := tx.Exec(
		"INSERT INTO curations (rev, dataset, n_spikes, n_clusters, next_cluster_id, assignments) VALUES (?, ?, ?, ?, ?, ?)",
		rev, dataset, len(cur.Assignments), countClusters(cur.Assignments), cur.NextClusterID, blob,
	)
	if err != nil {
		return 0, fmt.Errorf("insert curation: %w", err)
	}
	curID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get curation id: %w", err)
	}

	for cluster, grp := range cur.Groups {
		if _, err := tx.Exec(
			"INSERT INTO curation_groups (curation_id, cluster_id, grp) VALUES (?, ?, ?)",
			curID, cluster, grp,
		); err != nil {
			return 0, fmt.Errorf("insert group for cluster %d: %w", cluster, err)
		}
	}

	for field, values := range cur.Labels {
		for cluster, value := range values {
			if _, err := tx.Exec(
				"INSERT INTO curation_labels (curation_id, field, cluster_id, value) VALUES (?, ?, ?, ?)",
				curID, field, cluster, value,
			); err != nil {
				return 0, fmt.Errorf("insert label %q for cluster %d: %w", field, cluster, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return rev, nil
}

// ListCurations returns all curations ordered by creation time descending.
func ListCurations(db *sql.DB) ([]CurationSummary, error) {
	rows, err := db.Query(
		"SELECT id, rev, dataset, created_at, n_spikes, n_clusters FROM curations ORDER BY created_at DESC, id DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("query curations: %w", err)
	}
	defer rows.Close()

	var result []CurationSummary
	for rows.Next() {
		var c CurationSummary
		if err := rows.Scan(&c.ID, &c.Rev, &c.Dataset, &c.CreatedAt, &c.NSpikes, &c.NClusters); err != nil {
			return nil, fmt.Errorf("scan curation: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// GetCuration loads a full curation by dataset and rev number.
func GetCuration(db *sql.DB, dataset string, rev int) (*CurationFull, error) {
	cur := &CurationFull{
		Groups: make(map[int]string),
		Labels: make(map[string]map[int]string),
	}

	var blob []byte
	err := db.QueryRow(
		"SELECT id, rev, dataset, created_at, n_spikes, n_clusters, next_cluster_id, assignments FROM curations WHERE dataset = ? AND rev = ?",
		dataset, rev,
	).Scan(&cur.ID, &cur.Rev, &cur.Dataset, &cur.CreatedAt, &cur.NSpikes, &cur.NClusters, &cur.NextClusterID, &blob)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("curation rev %d not found for dataset %q", rev, dataset)
		}
		return nil, fmt.Errorf("query curation: %w", err)
	}
	if err := decompress(blob, &cur.Assignments); err != nil {
		return nil, fmt.Errorf("decode assignments: %w", err)
	}

	groupRows, err := db.Query(
		"SELECT cluster_id, grp FROM curation_groups WHERE curation_id = ?", cur.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer groupRows.Close()
	for groupRows.Next() {
		var cluster int
		var grp string
		if err := groupRows.Scan(&cluster, &grp); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		cur.Groups[cluster] = grp
	}
	if err := groupRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}

	labelRows, err := db.Query(
		"SELECT field, cluster_id, value FROM curation_labels WHERE curation_id = ?", cur.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	defer labelRows.Close()
	for labelRows.Next() {
		var field, value string
		var cluster int
		if err := labelRows.Scan(&field, &cluster, &value); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		if cur.Labels[field] == nil {
			cur.Labels[field] = make(map[int]string)
		}
		cur.Labels[field][cluster] = value
	}
	if err := labelRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate labels: %w", err)
	}

	return cur, nil
}

// GetLatestCuration returns the most recent curation for a dataset.
// Returns nil, nil if none exist.
func GetLatestCuration(db *sql.DB, dataset string) (*CurationFull, error) {
	var rev int
	err := db.QueryRow(
		"SELECT rev FROM curations WHERE dataset = ? ORDER BY rev DESC LIMIT 1", dataset,
	).Scan(&rev)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest rev: %w", err)
	}
	return GetCuration(db, dataset, rev)
}

// DeleteCuration removes a curation by dataset and rev. Groups and labels
// are cascade-deleted. Returns an error if the curation does not exist.
func DeleteCuration(db *sql.DB, dataset string, rev int) error {
	res, err := db.Exec("DELETE FROM curations WHERE dataset = ? AND rev = ?", dataset, rev)
	if err != nil {
		return fmt.Errorf("delete curation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("curation rev %d not found for dataset %q", rev, dataset)
	}
	return nil
}

// PutCache stores a JSON-encodable value under a key, replacing any
// previous entry.
func PutCache(db *sql.DB, key string, v any) error {
	blob, err := compress(v)
	if err != nil {
		return fmt.Errorf("encode cache %q: %w", key, err)
	}
	_, err = db.Exec(
		"INSERT INTO cache (key, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP) ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP",
		key, blob,
	)
	if err != nil {
		return fmt.Errorf("write cache %q: %w", key, err)
	}
	return nil
}

// GetCache loads a cached value into out. Returns false when the key is
// absent.
func GetCache(db *sql.DB, key string, out any) (bool, error) {
	var blob []byte
	err := db.QueryRow("SELECT data FROM cache WHERE key = ?", key).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cache %q: %w", key, err)
	}
	if err := decompress(blob, out); err != nil {
		return false, fmt.Errorf("decode cache %q: %w", key, err)
	}
	return true, nil
}

// CacheEntry describes one cached blob.
type CacheEntry struct {
	Key       string
	UpdatedAt time.Time
	Size      int
}

// ListCache returns all cache entries ordered by key.
func ListCache(db *sql.DB) ([]CacheEntry, error) {
	rows, err := db.Query("SELECT key, updated_at, LENGTH(data) FROM cache ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	defer rows.Close()

	var result []CacheEntry
	for rows.Next() {
		var e CacheEntry
		if err := rows.Scan(&e.Key, &e.UpdatedAt, &e.Size); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// ClearCache deletes all cache entries and returns how many were removed.
func ClearCache(db *sql.DB) (int, error) {
	res, err := db.Exec("DELETE FROM cache")
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(affected), nil
}

// compress JSON-encodes v and wraps it in an lz4 frame.
func compress(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(blob []byte, out any) error {
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(blob)))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func countClusters(assignments []int) int {
	seen := make(map[int]bool)
	for _, c := range assignments {
		seen[c] = true
	}
	return len(seen)
}
