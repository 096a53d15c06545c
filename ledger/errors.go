/*
errors.go - Error taxonomy for the ledger engine

ERROR CATEGORIES:
  1. Validation     - bad amount, quantity or enum value; rejected before any store access
  2. Not found      - customer, order or inventory record missing
  3. Business rule  - insufficient balance/stock, illegal status transition or delivery date
  4. Conflict       - duplicate customer, concurrent modification
  5. Store          - the unit-of-work could not commit

Every error returned by a service belongs to exactly one category, so the
transport layer can map it to a status without knowing individual errors:

    switch ledger.Categorize(err) {
    case ledger.CategoryNotFound:
        // 404
    }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Validation
	ErrInvalidAmount    = errors.New("amount must be a positive whole number")
	ErrInvalidKind      = errors.New("transaction type must be credit or debit")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidOperation = errors.New("operation must be add or remove")
	ErrInvalidStatus    = errors.New("invalid order status")
	ErrInvalidProfile   = errors.New("invalid customer profile")

	// Not found
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrNoInventoryRecord = errors.New("no inventory record found")

	// Business rules
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrOrderTotalMismatch  = errors.New("order total does not match price times quantity")
	ErrCancelledDelivery   = errors.New("cancelled orders cannot have a delivery date")

	// Conflicts
	ErrCustomerExists         = errors.New("customer already exists")
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTransactionFailed wraps any store failure inside a unit-of-work.
	ErrTransactionFailed = errors.New("transaction failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	CustomerID CustomerID
	Available  int64
	Requested  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InsufficientStockError is returned when removing more cans than are available.
type InsufficientStockError struct {
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("cannot remove %d cans: only %d available", e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidTransitionError names the rejected status change.
type InvalidTransitionError struct {
	OrderID OrderID
	From    OrderStatus
	To      OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// InvalidQuantityError explains why a quantity was rejected.
type InvalidQuantityError struct {
	Quantity int64
	Max      int64
	Bounded  bool // Max applies
}

func (e *InvalidQuantityError) Error() string {
	if e.Bounded {
		return fmt.Sprintf("invalid quantity %d: must be between 1 and %d", e.Quantity, e.Max)
	}
	return fmt.Sprintf("invalid quantity %d: must be at least 1", e.Quantity)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

type OrderTotalError struct {
	OrderID     OrderID
	Price       int64
	Quantity    int64
	TotalAmount int64
}

func (e *OrderTotalError) Error() string {
	return fmt.Sprintf("order %s: total %d != %d x %d", e.OrderID, e.TotalAmount, e.Price, e.Quantity)
}

func (e *OrderTotalError) Unwrap() error { return ErrOrderTotalMismatch }

// storeError wraps a persistence failure so it matches ErrTransactionFailed
// while keeping the driver error reachable.
func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransactionFailed, op, err)
}

// =============================================================================
// CATEGORIES
// =============================================================================

type Category string

const (
	CategoryNone         Category = ""
	CategoryValidation   Category = "validation"
	CategoryNotFound     Category = "not_found"
	CategoryBusinessRule Category = "business_rule"
	CategoryConflict     Category = "conflict"
	CategoryStore        Category = "store"
)

// Categorize returns the category of err. Unknown non-nil errors are
// treated as store failures.
func Categorize(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case IsValidation(err):
		return CategoryValidation
	case IsNotFound(err):
		return CategoryNotFound
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrOrderTotalMismatch),
		errors.Is(err, ErrCancelledDelivery):
		return CategoryBusinessRule
	case errors.Is(err, ErrCustomerExists), errors.Is(err, ErrConcurrentModification):
		return CategoryConflict
	default:
		return CategoryStore
	}
}

// IsValidation returns true if the error is due to malformed client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidProfile)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrNoInventoryRecord)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
