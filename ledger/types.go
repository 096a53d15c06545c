/*
Package ledger provides the balance, order and inventory engine for the
water-can delivery service.

PURPOSE:
  Every operation that moves money or cans goes through this package. The
  services here open a unit-of-work against a TxStore, read current state,
  compute the new state and write both the mutated record and its audit
  record before committing. A violated precondition aborts the whole unit.

KEY CONCEPTS IN THIS FILE (types.go):
  - Customer:          account holder with a balance and cans in possession
  - Transaction:       immutable credit/debit record (the ledger proper)
  - Order:             a can order with price frozen at order time
  - InventorySnapshot: immutable point-in-time can count
  - InventoryChange:   audit row explaining how a snapshot was derived

MONEY:
  Amounts are signed integer currency units (int64). Fractional input is
  rejected at the boundary by ParseAmount.

INVARIANTS:
  1. Customer.Balance == sum of signed Transaction amounts for the customer
  2. Order.TotalAmount == Order.Price * Order.Quantity
  3. Snapshots are append-only; AvailableCans >= 0 and TotalCans >= 0
  4. Customer.CansInPossession >= 0

SEE ALSO:
  - store.go:     persistence interfaces
  - balance.go:   credit/debit adjustments
  - order.go:     order placement, status updates, can returns
  - inventory.go: snapshot log
*/
package ledger

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// CustomerID is the opaque external identity key of a customer (the
// identity provider's subject).
type CustomerID string

type TransactionID string
type OrderID string
type SnapshotID string

// =============================================================================
// CUSTOMER
// =============================================================================

type CustomerStatus string

const (
	CustomerActive   CustomerStatus = "active"
	CustomerInactive CustomerStatus = "inactive"
)

func (s CustomerStatus) Valid() bool {
	return s == CustomerActive || s == CustomerInactive
}

// Customer is mutated only by the balance and order services.
// Version increases by one on every successful update and is used for
// compare-and-swap writes.
type Customer struct {
	ID               CustomerID
	Name             string
	Address          string
	Phone            string
	Email            string
	Balance          int64
	CansInPossession int64
	Status           CustomerStatus
	JoinDate         time.Time
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// =============================================================================
// TRANSACTION - Append-only balance record
// =============================================================================

type TxType string

const (
	TxCredit TxType = "credit"
	TxDebit  TxType = "debit"
)

func (t TxType) Valid() bool {
	return t == TxCredit || t == TxDebit
}

// Transaction documents exactly one balance mutation. Amount is always
// positive; Type carries the sign.
type Transaction struct {
	ID           TransactionID
	CustomerID   CustomerID
	Amount       int64
	Type         TxType
	Description  string
	CreatedBy    string
	BalanceAfter int64
	ReferenceID  string // order ID for order debits
	CreatedAt    time.Time
}

// Signed returns the amount with the sign implied by Type.
func (t Transaction) Signed() int64 {
	if t.Type == TxDebit {
		return -t.Amount
	}
	return t.Amount
}

// =============================================================================
// ORDER
// =============================================================================

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID           OrderID
	UserID       CustomerID
	Quantity     int64
	Price        int64
	TotalAmount  int64
	Status       OrderStatus
	OrderDate    time.Time
	DeliveryDate *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks the write-time invariants of an order.
func (o Order) Validate() error {
	if o.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if !o.Status.Valid() {
		return ErrInvalidStatus
	}
	if o.TotalAmount != o.Price*o.Quantity {
		return &OrderTotalError{OrderID: o.ID, Price: o.Price, Quantity: o.Quantity, TotalAmount: o.TotalAmount}
	}
	return nil
}

// =============================================================================
// INVENTORY
// =============================================================================

type InventoryOperation string

const (
	InventoryAdd    InventoryOperation = "add"
	InventoryRemove InventoryOperation = "remove"
)

func (op InventoryOperation) Valid() bool {
	return op == InventoryAdd || op == InventoryRemove
}

// InventorySnapshot is an immutable point-in-time can count.
// The current inventory is the snapshot with the highest Seq.
type InventorySnapshot struct {
	ID                SnapshotID
	TotalCans         int64
	AvailableCans     int64
	CansWithCustomers int64
	UpdatedBy         string
	CreatedAt         time.Time
	Seq               int64 // assigned by the store in insertion order
}

// InventoryChange records the operation that produced a snapshot.
type InventoryChange struct {
	ID                string
	SnapshotID        SnapshotID
	Operation         InventoryOperation
	Quantity          int64
	Reason            string
	PreviousTotal     int64
	NewTotal          int64
	PreviousAvailable int64
	NewAvailable      int64
	PerformedBy       string
	CreatedAt         time.Time
}

// InventoryDelta is the difference between a snapshot and its predecessor.
type InventoryDelta struct {
	TotalDiff         int64
	AvailableDiff     int64
	WithCustomersDiff int64
}

// DeltaFrom returns s - prev for each counter.
func (s InventorySnapshot) DeltaFrom(prev InventorySnapshot) InventoryDelta {
	return InventoryDelta{
		TotalDiff:         s.TotalCans - prev.TotalCans,
		AvailableDiff:     s.AvailableCans - prev.AvailableCans,
		WithCustomersDiff: s.CansWithCustomers - prev.CansWithCustomers,
	}
}
