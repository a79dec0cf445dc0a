// Package sqlite persists the synchronized data set to a single SQLite
// table as JSON buckets. It is the local durable copy used in interactive
// mode: the whole snapshot is overwritten on every save, so the file always
// holds the last committed state and nothing else.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"cyltrack/pkg/domain"
)

// Store is a snapshotting SQLite-backed local copy.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the local database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "cyltrack.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

const (
	bucketCylinders    = "cylinders"
	bucketCustomers    = "customers"
	bucketTransactions = "transactions"
	bucketMeta         = "meta"
)

type metaBucket struct {
	SavedAt time.Time `json:"saved_at"`
}

// LoadSnapshot reads the last saved snapshot. A nil snapshot with no error
// means the database is empty (first run).
func (s *Store) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := domain.Snapshot{}
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		found = true
		switch bucket {
		case bucketCylinders:
			if err := json.Unmarshal(payload, &snap.Cylinders); err != nil {
				return nil, fmt.Errorf("decode cylinders: %w", err)
			}
		case bucketCustomers:
			if err := json.Unmarshal(payload, &snap.Customers); err != nil {
				return nil, fmt.Errorf("decode customers: %w", err)
			}
		case bucketTransactions:
			if err := json.Unmarshal(payload, &snap.Transactions); err != nil {
				return nil, fmt.Errorf("decode transactions: %w", err)
			}
		case bucketMeta:
			var meta metaBucket
			if err := json.Unmarshal(payload, &meta); err != nil {
				return nil, fmt.Errorf("decode meta: %w", err)
			}
			snap.SavedAt = meta.SavedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &snap, nil
}

// SaveSnapshot overwrites the stored snapshot inside one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap domain.Snapshot) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	buckets := []struct {
		name string
		v    any
	}{
		{bucketCylinders, snap.Cylinders},
		{bucketCustomers, snap.Customers},
		{bucketTransactions, snap.Transactions},
		{bucketMeta, metaBucket{SavedAt: snap.SavedAt}},
	}
	for _, b := range buckets {
		data, err := json.Marshal(b.v)
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
			b.name, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", b.name, err)
			return retErr
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
