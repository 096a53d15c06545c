/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

KEY TABLES:
  customers:           Customer records, compare-and-swap on version
  transactions:        Immutable log of balance changes
  orders:              Orders and their status
  inventory_snapshots: Immutable inventory log; seq orders it
  inventory_changes:   One audit row per inventory adjustment

APPEND-ONLY ENFORCEMENT:
  transactions, inventory_snapshots and inventory_changes have no UPDATE or
  DELETE paths in this package. Triggers also reject UPDATE on the first
  two at the database level. Reset is the only delete and clears everything.
  transactions.customer_id and orders.user_id are plain columns, not foreign
  keys; the ledger services look the customer up before writing.

CONCURRENCY:
  One sync.RWMutex serializes writers inside the process. Transactions are
  opened with BEGIN IMMEDIATE (_txlock=immediate) so a second process
  writing the same file waits for the lock instead of failing at commit.
  The pool is capped at one connection: ":memory:" databases are private
  to the connection that created them.

TIMESTAMPS:
  Stored as fixed-width UTC text (timeLayout), so string order in SQL is
  time order.

USAGE:
  store, err := sqlite.New("./data/watercan.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  services := ledger.New(store, ledger.DefaultPricing, ledger.Env{Logger: logger})
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/watercan/ledger-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		balance INTEGER NOT NULL DEFAULT 0,
		cans_in_possession INTEGER NOT NULL DEFAULT 0 CHECK (cans_in_possession >= 0),
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
		join_date TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_customers_name ON customers(name);

	-- Transactions (append-only log of balance changes)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		type TEXT NOT NULL CHECK (type IN ('credit', 'debit')),
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		balance_after INTEGER NOT NULL,
		reference_id TEXT,
		created_at TEXT NOT NULL
	);

	-- History hot path: one customer's log, newest first
	CREATE INDEX IF NOT EXISTS idx_transactions_customer_date
		ON transactions(customer_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_type_date
		ON transactions(type, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TRIGGER IF NOT EXISTS transactions_no_update
		BEFORE UPDATE ON transactions
		BEGIN SELECT RAISE(ABORT, 'transactions are append-only'); END;

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		price INTEGER NOT NULL,
		total_amount INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'delivered', 'cancelled')),
		order_date TEXT NOT NULL,
		delivery_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (total_amount = price * quantity)
	);

	CREATE INDEX IF NOT EXISTS idx_orders_user_date ON orders(user_id, order_date DESC);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

	-- Inventory snapshots (append-only; seq is the insertion order)
	CREATE TABLE IF NOT EXISTS inventory_snapshots (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		total_cans INTEGER NOT NULL CHECK (total_cans >= 0),
		available_cans INTEGER NOT NULL CHECK (available_cans >= 0),
		cans_with_customers INTEGER NOT NULL CHECK (cans_with_customers >= 0),
		updated_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TRIGGER IF NOT EXISTS inventory_snapshots_no_update
		BEFORE UPDATE ON inventory_snapshots
		BEGIN SELECT RAISE(ABORT, 'inventory snapshots are append-only'); END;

	CREATE TABLE IF NOT EXISTS inventory_changes (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES inventory_snapshots(id),
		operation TEXT NOT NULL CHECK (operation IN ('add', 'remove')),
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		reason TEXT NOT NULL DEFAULT '',
		previous_total INTEGER NOT NULL,
		new_total INTEGER NOT NULL,
		previous_available INTEGER NOT NULL,
		new_available INTEGER NOT NULL,
		performed_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_changes_snapshot
		ON inventory_changes(snapshot_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"inventory_changes", "inventory_snapshots", "transactions", "orders", "customers"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (s *Store) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetCustomer(ctx, id)
}

func (s *Store) CreateCustomer(ctx context.Context, c ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateCustomer(ctx, c)
}

func (s *Store) UpdateCustomer(ctx context.Context, c ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateCustomer(ctx, c)
}

func (s *Store) ListCustomers(ctx context.Context, f ledger.CustomerFilter) ([]ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListCustomers(ctx, f)
}

func (s *Store) SumCansInPossession(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.SumCansInPossession(ctx)
}

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AppendTransaction(ctx, tx)
}

func (s *Store) QueryTransactions(ctx context.Context, q ledger.TransactionQuery) ([]ledger.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.QueryTransactions(ctx, q)
}

func (s *Store) InsertOrder(ctx context.Context, o ledger.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.InsertOrder(ctx, o)
}

func (s *Store) UpdateOrder(ctx context.Context, o ledger.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateOrder(ctx, o)
}

func (s *Store) GetOrder(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetOrder(ctx, id)
}

func (s *Store) ListOrders(ctx context.Context, f ledger.OrderFilter) ([]ledger.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListOrders(ctx, f)
}

func (s *Store) AppendSnapshot(ctx context.Context, snap ledger.InventorySnapshot) (ledger.InventorySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AppendSnapshot(ctx, snap)
}

func (s *Store) AppendInventoryChange(ctx context.Context, c ledger.InventoryChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AppendInventoryChange(ctx, c)
}

func (s *Store) LatestSnapshot(ctx context.Context) (*ledger.InventorySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.LatestSnapshot(ctx)
}

func (s *Store) RecentSnapshots(ctx context.Context, limit int) ([]ledger.InventorySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.RecentSnapshots(ctx, limit)
}

// InventoryChanges returns the most recent audit rows, newest first.
func (s *Store) InventoryChanges(ctx context.Context, limit int) ([]ledger.InventoryChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.InventoryChanges(ctx, limit)
}

// =============================================================================
// UTILITIES
// =============================================================================

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// noLimit is SQLite's "no LIMIT" value.
const noLimit = -1

func limitOrAll(limit int) int {
	if limit <= 0 {
		return noLimit
	}
	return limit
}
