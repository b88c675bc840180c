package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ppi-control/internal/domain"
)

var pathPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// SQLiteStore implements domain.Store on a single JSON document table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// WAL mode for concurrent readers alongside the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_records_collection ON records (collection);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func fault(op string, err error) error {
	return domain.NewSubSystemError("store", "SQLiteStore."+op, domain.ErrStoreUnavailable, err.Error())
}

func (s *SQLiteStore) Insert(ctx context.Context, collection string, rec domain.Record) (domain.Record, error) {
	norm, err := normalizeRecord(rec)
	if err != nil {
		return nil, domain.NewSubSystemError("store", "SQLiteStore.Insert", domain.ErrInvalidInput, err.Error())
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if norm.ID() == "" {
		norm["id"] = domain.NewID()
	}
	if _, ok := norm["created_at"]; !ok {
		norm["created_at"] = now
	}
	data, err := json.Marshal(norm)
	if err != nil {
		return nil, domain.NewSubSystemError("store", "SQLiteStore.Insert", domain.ErrInvalidInput, err.Error())
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO records (collection, id, data, updated_at) VALUES (?, ?, ?, ?)",
		collection, norm.ID(), string(data), now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, domain.NewSubSystemError("store", "SQLiteStore.Insert", domain.ErrDuplicate, collection+"/"+norm.ID())
		}
		return nil, fault("Insert", err)
	}
	return norm, nil
}

func (s *SQLiteStore) Update(ctx context.Context, collection, id string, patch domain.Record) (domain.Record, error) {
	norm, err := normalizeRecord(patch)
	if err != nil {
		return nil, domain.NewSubSystemError("store", "SQLiteStore.Update", domain.ErrInvalidInput, err.Error())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fault("Update", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		"SELECT data FROM records WHERE collection = ? AND id = ?", collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewSubSystemError("store", "SQLiteStore.Update", domain.ErrNotFound, collection+"/"+id)
	}
	if err != nil {
		return nil, fault("Update", err)
	}

	var rec domain.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fault("Update", err)
	}
	mergePatch(rec, norm)
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fault("Update", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE records SET data = ?, updated_at = ? WHERE collection = ? AND id = ?",
		string(data), time.Now().UTC().Format(time.RFC3339Nano), collection, id,
	); err != nil {
		return nil, fault("Update", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fault("Update", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, q domain.Query) ([]domain.Record, error) {
	var (
		where = []string{"collection = ?"}
		args  = []any{collection}
	)

	keys := make([]string, 0, len(q.Filter))
	for k := range q.Filter {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, path := range keys {
		if !pathPattern.MatchString(path) {
			return nil, domain.NewSubSystemError("store", "SQLiteStore.Query", domain.ErrInvalidInput, "filter path "+path)
		}
		v, err := normalize(q.Filter[path])
		if err != nil {
			return nil, domain.NewSubSystemError("store", "SQLiteStore.Query", domain.ErrInvalidInput, err.Error())
		}
		expr := "json_extract(data, '$." + path + "')"
		switch tv := v.(type) {
		case nil:
			where = append(where, expr+" IS NULL")
		case bool:
			// json_extract yields 1/0 for JSON booleans.
			where = append(where, expr+" = ?")
			if tv {
				args = append(args, 1)
			} else {
				args = append(args, 0)
			}
		case string, float64:
			where = append(where, expr+" = ?")
			args = append(args, tv)
		default:
			return nil, domain.NewSubSystemError("store", "SQLiteStore.Query", domain.ErrInvalidInput, "unsupported filter value for "+path)
		}
	}

	query := "SELECT data FROM records WHERE " + strings.Join(where, " AND ")
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	if q.OrderBy != "" {
		if !pathPattern.MatchString(q.OrderBy) {
			return nil, domain.NewSubSystemError("store", "SQLiteStore.Query", domain.ErrInvalidInput, "order path "+q.OrderBy)
		}
		// Timestamps compare by instant; other text and numbers by value.
		path := "'$." + q.OrderBy + "'"
		query += " ORDER BY CASE WHEN json_type(data, " + path + ") = 'text' THEN julianday(json_extract(data, " + path + ")) END " + dir +
			", json_extract(data, " + path + ") " + dir + ", seq " + dir
	} else {
		query += " ORDER BY seq " + dir
	}
	switch {
	case q.Limit > 0:
		query += " LIMIT ?"
		args = append(args, q.Limit)
	case q.Offset > 0:
		query += " LIMIT -1"
	}
	if q.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault("Query", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fault("Query", err)
		}
		var rec domain.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fault("Query", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("Query", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) (domain.Record, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"DELETE FROM records WHERE collection = ? AND id = ? RETURNING data", collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault("Delete", err)
	}
	var rec domain.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fault("Delete", err)
	}
	return rec, nil
}

var _ domain.Store = (*SQLiteStore)(nil)
