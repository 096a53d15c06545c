package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// ENVIRONMENT - Collaborators shared by every service
// =============================================================================

// Env carries the logger, clock and ID source used by the services.
// Zero values are replaced by production defaults.
type Env struct {
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string
}

// NewID returns a random record ID.
func NewID() string {
	return uuid.NewString()
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Now == nil {
		e.Now = func() time.Time { return time.Now().UTC() }
	}
	if e.NewID == nil {
		e.NewID = NewID
	}
	return e
}

// =============================================================================
// PRICING - External policy constants
// =============================================================================

// Pricing holds the business constants the order service needs.
type Pricing struct {
	UnitPrice       int64 // price of one can
	StartingBalance int64 // balance granted to customers created by their first order
}

var DefaultPricing = Pricing{UnitPrice: 30, StartingBalance: 1000}

// SystemActor is recorded as the creator of transactions the engine makes
// on its own, such as opening balances.
const SystemActor = "system"

// OpeningBalanceRef is the ReferenceID of opening-balance transactions.
// They carry over existing money and are not revenue.
const OpeningBalanceRef = "opening-balance"

// =============================================================================
// UNIT OF WORK
// =============================================================================

// runUnit executes fn inside store.WithTx. Domain errors pass through
// untouched; anything else is reported as ErrTransactionFailed.
func runUnit(ctx context.Context, store TxStore, op string, fn func(Store) error) error {
	err := store.WithTx(ctx, fn)
	return classify(op, err)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if Categorize(err) != CategoryStore {
		return err
	}
	if errors.Is(err, ErrTransactionFailed) {
		return err
	}
	return storeError(op, err)
}

// =============================================================================
// SERVICES
// =============================================================================

// Services bundles the ledger services over one store.
type Services struct {
	Balance   *BalanceService
	Orders    *OrderService
	Inventory *InventoryService
	Customers *CustomerService
	Summary   *SummaryService
}

// New wires all services to store.
func New(store TxStore, pricing Pricing, env Env) *Services {
	env = env.withDefaults()
	return &Services{
		Balance:   &BalanceService{Store: store, Env: env},
		Orders:    &OrderService{Store: store, Pricing: pricing, Env: env},
		Inventory: &InventoryService{Store: store, Env: env},
		Customers: &CustomerService{Store: store, Env: env},
		Summary:   &SummaryService{Store: store, Env: env},
	}
}
