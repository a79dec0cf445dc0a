// Package postgres is the remote authoritative store. Loads pull whole
// sections as untyped records that flow through the sanitizer, because the
// hosted schema accumulated legacy column spellings over the years; writes
// upsert explicit column lists keyed on id so a retried delta push is
// idempotent.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"cyltrack/internal/sanitize"
	"cyltrack/pkg/domain"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/cyltrack?sslmode=disable"

	// Section load limits. Transactions are capped to the newest entries;
	// older history lives only in archived snapshots.
	limitCustomers    = 2000
	limitCylinders    = 30000
	limitTransactions = 5000
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store holds the remote database handle.
type Store struct {
	db *sql.DB
}

// NewStore opens the remote store using the provided DSN (falls back to
// defaultDSN), verifies connectivity, and ensures the tables exist.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTables(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// The transactions table keeps its historical camelCase column names; every
// other table was migrated to snake_case long ago. The sanitizer's key
// chains absorb both spellings on the way in.
var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS cylinders (
		id TEXT PRIMARY KEY,
		serial_number TEXT,
		gas_type TEXT,
		capacity TEXT,
		container_class TEXT,
		status TEXT,
		location TEXT,
		ownership TEXT,
		charging_expiry_date TEXT,
		last_inspection_date TEXT,
		manufacture_date TEXT,
		bundle_count INTEGER,
		child_serials JSONB,
		parent_rack_id TEXT,
		memo TEXT,
		is_deleted BOOLEAN,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT,
		type TEXT,
		payment_type TEXT,
		business_number TEXT,
		ledger_number TEXT,
		corporate_id TEXT,
		manager TEXT,
		phone TEXT,
		fax TEXT,
		address TEXT,
		balance BIGINT,
		is_deleted BOOLEAN,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		type TEXT,
		"cylinderId" TEXT,
		"workerId" TEXT,
		"customerId" TEXT,
		memo TEXT,
		created_at TIMESTAMPTZ
	)`,
}

func ensureTables(ctx context.Context, db *sql.DB) error {
	for _, ddl := range tableDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}
	}
	return nil
}

// FetchCylinders loads the cylinder section as raw records.
func (s *Store) FetchCylinders(ctx context.Context) ([]sanitize.Record, error) {
	return s.fetch(ctx, fmt.Sprintf(`SELECT * FROM cylinders LIMIT %d`, limitCylinders))
}

// FetchCustomers loads the counterparty section as raw records.
func (s *Store) FetchCustomers(ctx context.Context) ([]sanitize.Record, error) {
	return s.fetch(ctx, fmt.Sprintf(`SELECT * FROM customers LIMIT %d`, limitCustomers))
}

// FetchTransactions loads the newest transactions as raw records.
func (s *Store) FetchTransactions(ctx context.Context) ([]sanitize.Record, error) {
	return s.fetch(ctx, fmt.Sprintf(`SELECT * FROM transactions ORDER BY created_at DESC LIMIT %d`, limitTransactions))
}

func (s *Store) fetch(ctx context.Context, query string) ([]sanitize.Record, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return ScanRecords(rows)
}

// ScanRecords converts a generic result set into sanitizer input. Byte
// slices become strings so JSON and text columns survive the round trip.
func ScanRecords(rows *sql.Rows) ([]sanitize.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	var recs []sanitize.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec := make(sanitize.Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
				continue
			}
			rec[col] = values[i]
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return recs, nil
}

// UpsertCylinders pushes changed cylinders inside one transaction.
func (s *Store) UpsertCylinders(ctx context.Context, cyls []domain.Cylinder) error {
	if len(cyls) == 0 {
		return nil
	}
	const stmt = `INSERT INTO cylinders (
		id, serial_number, gas_type, capacity, container_class, status,
		location, ownership, charging_expiry_date, last_inspection_date,
		manufacture_date, bundle_count, child_serials, parent_rack_id,
		memo, is_deleted, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	ON CONFLICT (id) DO UPDATE SET
		serial_number = EXCLUDED.serial_number,
		gas_type = EXCLUDED.gas_type,
		capacity = EXCLUDED.capacity,
		container_class = EXCLUDED.container_class,
		status = EXCLUDED.status,
		location = EXCLUDED.location,
		ownership = EXCLUDED.ownership,
		charging_expiry_date = EXCLUDED.charging_expiry_date,
		last_inspection_date = EXCLUDED.last_inspection_date,
		manufacture_date = EXCLUDED.manufacture_date,
		bundle_count = EXCLUDED.bundle_count,
		child_serials = EXCLUDED.child_serials,
		parent_rack_id = EXCLUDED.parent_rack_id,
		memo = EXCLUDED.memo,
		is_deleted = EXCLUDED.is_deleted,
		updated_at = EXCLUDED.updated_at`

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range cyls {
			children, err := json.Marshal(c.ChildSerials)
			if err != nil {
				return fmt.Errorf("encode child serials for %s: %w", c.ID, err)
			}
			if _, err := tx.ExecContext(ctx, stmt,
				c.ID, c.SerialNumber, c.GasType, c.Capacity, string(c.Class), string(c.Status),
				c.CurrentHolderID, c.Owner, c.ChargingExpiryDate, c.LastInspectionDate,
				c.ManufactureDate, c.BundleCount, children, c.ParentRackID,
				c.Memo, c.IsDeleted, c.CreatedAt, c.UpdatedAt,
			); err != nil {
				return fmt.Errorf("upsert cylinder %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// UpsertCustomers pushes changed counterparties inside one transaction.
func (s *Store) UpsertCustomers(ctx context.Context, custs []domain.Customer) error {
	if len(custs) == 0 {
		return nil
	}
	const stmt = `INSERT INTO customers (
		id, name, type, payment_type, business_number, ledger_number,
		corporate_id, manager, phone, fax, address, balance, is_deleted,
		deleted_at, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		type = EXCLUDED.type,
		payment_type = EXCLUDED.payment_type,
		business_number = EXCLUDED.business_number,
		ledger_number = EXCLUDED.ledger_number,
		corporate_id = EXCLUDED.corporate_id,
		manager = EXCLUDED.manager,
		phone = EXCLUDED.phone,
		fax = EXCLUDED.fax,
		address = EXCLUDED.address,
		balance = EXCLUDED.balance,
		is_deleted = EXCLUDED.is_deleted,
		deleted_at = EXCLUDED.deleted_at,
		updated_at = EXCLUDED.updated_at`

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range custs {
			if _, err := tx.ExecContext(ctx, stmt,
				c.ID, c.Name, string(c.Kind), c.PaymentType, c.BusinessNumber, c.LedgerNumber,
				c.CorporateID, c.Representative, c.Phone, c.Fax, c.Address, c.Balance, c.IsDeleted,
				c.DeletedAt, c.CreatedAt, c.UpdatedAt,
			); err != nil {
				return fmt.Errorf("upsert customer %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// UpsertTransactions pushes new log entries inside one transaction. Entries
// are immutable, so the conflict action only needs to absorb replays.
func (s *Store) UpsertTransactions(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	const stmt = `INSERT INTO transactions (
		id, type, "cylinderId", "workerId", "customerId", memo, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (id) DO NOTHING`

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range txs {
			if _, err := tx.ExecContext(ctx, stmt,
				t.ID, string(t.Type), t.CylinderID, t.WorkerID, t.CustomerID, t.Memo, t.Timestamp,
			); err != nil {
				return fmt.Errorf("upsert transaction %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a
// restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
