package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watercan/ledger-engine/ledger"
	"github.com/watercan/ledger-engine/ledger/store"
	"github.com/watercan/ledger-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// stepClock advances one second on every reading so records written in the
// same test have distinct, ordered timestamps.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	svc   *ledger.Services
	store ledger.TxStore
	clock *stepClock
}

var storeFactories = []struct {
	name string
	open func(t *testing.T) ledger.TxStore
}{
	{"memory", func(t *testing.T) ledger.TxStore { return store.NewMemory() }},
	{"sqlite", func(t *testing.T) ledger.TxStore {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}},
}

// forEachStore runs fn once per store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, h *harness)) {
	t.Helper()
	for _, f := range storeFactories {
		t.Run(f.name, func(t *testing.T) {
			st := f.open(t)
			clock := newStepClock()
			var (
				idMu sync.Mutex
				n    int
			)
			env := ledger.Env{
				Now: clock.Now,
				NewID: func() string {
					idMu.Lock()
					defer idMu.Unlock()
					n++
					return fmt.Sprintf("id-%04d", n)
				},
			}
			h := &harness{
				svc:   ledger.New(st, ledger.DefaultPricing, env),
				store: st,
				clock: clock,
			}
			fn(t, h)
		})
	}
}

// customer creates an active customer whose opening balance is in the log.
func (h *harness) customer(t *testing.T, id string, balance int64) ledger.CustomerID {
	t.Helper()
	c, err := h.svc.Customers.Create(context.Background(), ledger.CreateCustomerInput{
		ID:             ledger.CustomerID(id),
		Name:           "Customer " + id,
		Address:        "12 Well Street",
		Phone:          "555-0100",
		OpeningBalance: balance,
		ActorID:        "owner-1",
	})
	require.NoError(t, err)
	return c.ID
}

func (h *harness) balanceOf(t *testing.T, id ledger.CustomerID) int64 {
	t.Helper()
	c, err := h.svc.Customers.Get(context.Background(), id)
	require.NoError(t, err)
	return c.Balance
}

func (h *harness) transactionsOf(t *testing.T, id ledger.CustomerID) []ledger.Transaction {
	t.Helper()
	txs, _, err := h.store.QueryTransactions(context.Background(), ledger.TransactionQuery{CustomerID: id})
	require.NoError(t, err)
	return txs
}

// seedInventory appends a snapshot directly, bypassing the services.
func (h *harness) seedInventory(t *testing.T, total, available, withCustomers int64) ledger.InventorySnapshot {
	t.Helper()
	snap, err := h.store.AppendSnapshot(context.Background(), ledger.InventorySnapshot{
		ID:                "seed",
		TotalCans:         total,
		AvailableCans:     available,
		CansWithCustomers: withCustomers,
		UpdatedBy:         "owner-1",
		CreatedAt:         h.clock.Now(),
	})
	require.NoError(t, err)
	return snap
}

func (h *harness) assertConsistent(t *testing.T, id ledger.CustomerID) {
	t.Helper()
	rec, err := h.svc.Balance.Reconcile(context.Background(), id)
	require.NoError(t, err)
	require.True(t, rec.Consistent, "balance %d != ledger sum %d", rec.Balance, rec.LedgerSum)
}
