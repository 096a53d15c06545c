/*
store.go - Persistence interfaces for the ledger engine

PURPOSE:
  Defines the boundary between the services and the database. Services only
  ever see these interfaces; store/sqlite and ledger/store provide the
  implementations.

KEY INTERFACES:
  CustomerStore:    customer records (compare-and-swap updates)
  TransactionStore: append-only balance records
  OrderStore:       orders
  InventoryStore:   append-only snapshots and their change rows
  Store:            all of the above
  TxStore:          Store + WithTx for atomic units of work

APPEND-ONLY CONTRACT:
  Transactions, inventory snapshots and inventory changes have no Update or
  Delete methods. Corrections are new records.

UNIT OF WORK:
  WithTx runs fn against a transactional view of the store. If fn returns an
  error nothing fn wrote becomes visible. Two units of work touching the same
  customer never interleave their read-modify-write.

LOOKUPS:
  Get* methods return (nil, nil) when the record does not exist; services
  turn that into the matching not-found error.
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

type CustomerStore interface {
	// GetCustomer returns nil, nil when the customer does not exist.
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)

	// CreateCustomer inserts a new customer with Version 1.
	// Returns ErrCustomerExists if the ID is taken.
	CreateCustomer(ctx context.Context, c Customer) error

	// UpdateCustomer writes c if the stored version still equals c.Version,
	// and bumps the stored version. Returns ErrConcurrentModification otherwise.
	UpdateCustomer(ctx context.Context, c Customer) error

	ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, error)

	// SumCansInPossession returns the total cans held by all customers.
	SumCansInPossession(ctx context.Context) (int64, error)
}

type CustomerFilter struct {
	Status CustomerStatus // empty = any
	Search string         // case-insensitive match on name, email or phone
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

type TransactionStore interface {
	AppendTransaction(ctx context.Context, tx Transaction) error

	// QueryTransactions returns one page of matching transactions, newest
	// first, and the total number of matches.
	QueryTransactions(ctx context.Context, q TransactionQuery) ([]Transaction, int, error)
}

type TransactionQuery struct {
	CustomerID CustomerID // empty = all customers
	Type       TxType     // empty = both
	From       *time.Time
	To         *time.Time
	Offset     int
	Limit      int // <= 0 = no limit
}

// =============================================================================
// ORDERS
// =============================================================================

type OrderStore interface {
	InsertOrder(ctx context.Context, o Order) error
	UpdateOrder(ctx context.Context, o Order) error

	// GetOrder returns nil, nil when the order does not exist.
	GetOrder(ctx context.Context, id OrderID) (*Order, error)

	// ListOrders returns matching orders sorted by OrderDate descending.
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
}

type OrderFilter struct {
	UserID CustomerID  // empty = all customers
	Status OrderStatus // empty = any
	From   *time.Time
	To     *time.Time
	Limit  int // <= 0 = no limit
}

// =============================================================================
// INVENTORY (append-only)
// =============================================================================

type InventoryStore interface {
	// AppendSnapshot inserts s and returns it with Seq assigned.
	AppendSnapshot(ctx context.Context, s InventorySnapshot) (InventorySnapshot, error)

	AppendInventoryChange(ctx context.Context, c InventoryChange) error

	// LatestSnapshot returns nil, nil when no snapshot exists yet.
	LatestSnapshot(ctx context.Context) (*InventorySnapshot, error)

	// RecentSnapshots returns up to limit snapshots, newest first.
	RecentSnapshots(ctx context.Context, limit int) ([]InventorySnapshot, error)
}

// =============================================================================
// COMPOSITE
// =============================================================================

type Store interface {
	CustomerStore
	TransactionStore
	OrderStore
	InventoryStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
