package ledger_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watercan/ledger-engine/ledger"
)

// =============================================================================
// ADJUST BALANCE
// =============================================================================

func TestAdjustBalance_Credit_AppendsTransaction(t *testing.T) {
	// GIVEN: Customer with balance 100
	// WHEN: Owner credits 50
	// THEN: Balance is 150 and one credit with BalanceAfter 150 is logged

	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		id := h.customer(t, "cust-1", 100)

		res, err := h.svc.Balance.AdjustBalance(ctx, ledger.AdjustBalanceInput{
			CustomerID:  id,
			Amount:      50,
			Kind:        ledger.TxCredit,
			Description: "recharge",
			ActorID:     "owner-1",
		})
		require.NoError(t, err)

		assert.Equal(t, int64(150), res.NewBalance)
		assert.Equal(t, int64(150), res.Transaction.BalanceAfter)
		assert.Equal(t, ledger.TxCredit, res.Transaction.Type)
		assert.Equal(t, "owner-1", res.Transaction.CreatedBy)
		assert.Equal(t, int64(150), h.balanceOf(t, id))

		txs := h.transactionsOf(t, id)
		require.Len(t, txs, 2, "opening balance + credit")
		assert.Equal(t, res.Transaction.ID, txs[0].ID, "newest first")
		h.assertConsistent(t, id)
	})
}

func TestAdjustBalance_DefaultDescriptions(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		id := h.customer(t, "cust-1", 100)

		credit, err := h.svc.Balance.AdjustBalance(ctx, ledger.AdjustBalanceInput{CustomerID: id, Amount: 10, Kind: ledger.TxCredit})
		require.NoError(t, err)
		debit, err := h.svc.Balance.AdjustBalance(ctx, ledger.AdjustBalanceInput{CustomerID: id, Amount: 10, Kind: ledger.TxDebit})
		require.NoError(t, err)

		assert.Equal(t, "Account recharge", credit.Transaction.Description)
		assert.Equal(t, "Balance adjustment", debit.Transaction.Description)
	})
}

func TestAdjustBalance_DebitExceedsBalance_NothingWritten(t *testing.T) {
	// GIVEN: Customer with balance 20
	// WHEN: Owner debits 50
	// THEN: InsufficientBalance, balance still 20, no transaction appended

	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		id := h.customer(t, "cust-1", 20)

		_, err := h.svc.Balance.AdjustBalance(ctx, ledger.AdjustBalanceInput{
			CustomerID: id,
			Amount:     50,
			Kind:       ledger.TxDebit,
		})

		require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		var balErr *ledger.InsufficientBalanceError
		require.ErrorAs(t, err, &balErr)
		assert.Equal(t, int64(20), balErr.Available)
		assert.Equal(t, int64(50), balErr.Requested)
		assert.Equal(t, ledger.CategoryBusinessRule, ledger.Categorize(err))

		assert.Equal(t, int64(20), h.balanceOf(t, id))
		assert.Len(t, h.transactionsOf(t, id), 1, "only the opening balance")
	})
}

func TestAdjustBalance_DebitToZero_Allowed(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		id := h.customer(t, "cust-1", 40)

		res, err := h.svc.Balance.AdjustBalance(context.Background(), ledger.AdjustBalanceInput{
			CustomerID: id, Amount: 40, Kind: ledger.TxDebit,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.NewBalance)
		h.assertConsistent(t, id)
	})
}

func TestAdjustBalance_ValidationBeforeStoreAccess(t *testing.T) {
	// Validation errors win even for customers that do not exist.
	tests := []struct {
		name   string
		amount int64
		kind   ledger.TxType
		want   error
	}{
		{"zero amount", 0, ledger.TxCredit, ledger.ErrInvalidAmount},
		{"negative amount", -5, ledger.TxCredit, ledger.ErrInvalidAmount},
		{"unknown kind", 10, ledger.TxType("refund"), ledger.ErrInvalidKind},
		{"empty kind", 10, "", ledger.ErrInvalidKind},
	}

	forEachStore(t, func(t *testing.T, h *harness) {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := h.svc.Balance.AdjustBalance(context.Background(), ledger.AdjustBalanceInput{
					CustomerID: "nobody",
					Amount:     tt.amount,
					Kind:       tt.kind,
				})
				assert.ErrorIs(t, err, tt.want)
				assert.Equal(t, ledger.CategoryValidation, ledger.Categorize(err))
			})
		}
	})
}

func TestAdjustBalance_UnknownCustomer(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		_, err := h.svc.Balance.AdjustBalance(context.Background(), ledger.AdjustBalanceInput{
			CustomerID: "ghost", Amount: 10, Kind: ledger.TxCredit,
		})
		assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
		assert.Equal(t, ledger.CategoryNotFound, ledger.Categorize(err))
	})
}

func TestAdjustBalance_SequenceKeepsLedgerInvariant(t *testing.T) {
	// GIVEN: A mix of credits, debits and rejected debits
	// THEN: After every step balance == signed sum of the log

	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		id := h.customer(t, "cust-1", 0)

		steps := []struct {
			amount int64
			kind   ledger.TxType
			ok     bool
		}{
			{100, ledger.TxCredit, true},
			{30, ledger.TxDebit, true},
			{80, ledger.TxDebit, false},
			{5, ledger.TxCredit, true},
			{75, ledger.TxDebit, true},
			{1, ledger.TxDebit, false},
		}
		for _, step := range steps {
			_, err := h.svc.Balance.AdjustBalance(ctx, ledger.AdjustBalanceInput{
				CustomerID: id, Amount: step.amount, Kind: step.kind,
			})
			if step.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
			}
			h.assertConsistent(t, id)
		}
		assert.Equal(t, int64(0), h.balanceOf(t, id))
	})
}

func TestAdjustBalance_ConcurrentDebits_NeverOverdraw(t *testing.T) {
	// GIVEN: Balance 100
	// WHEN: 10 concurrent debits of 20
	// THEN: Exactly 5 succeed and the balance ends at 0

	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		id := h.customer(t, "cust-1", 100)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.svc.Balance.AdjustBalance(ctx, ledger.AdjustBalanceInput{
					CustomerID: id, Amount: 20, Kind: ledger.TxDebit,
				})
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 5, succeeded)
		assert.Equal(t, int64(0), h.balanceOf(t, id))
		h.assertConsistent(t, id)
	})
}

// =============================================================================
// TRANSACTION HISTORY
// =============================================================================

func TestTransactionHistory_PaginatesNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		id := h.customer(t, "cust-1", 0)
		for i := 1; i <= 25; i++ {
			_, err := h.svc.Balance.AdjustBalance(ctx, ledger.AdjustBalanceInput{
				CustomerID: id, Amount: int64(i), Kind: ledger.TxCredit,
			})
			require.NoError(t, err)
		}

		first, err := h.svc.Balance.TransactionHistory(ctx, ledger.TransactionFilter{CustomerID: id})
		require.NoError(t, err)
		assert.Len(t, first.Transactions, 20, "default limit")
		assert.Equal(t, ledger.Pagination{Total: 25, Page: 1, Pages: 2, Limit: 20}, first.Pagination)
		assert.Equal(t, int64(25), first.Transactions[0].Amount)
		for i := 1; i < len(first.Transactions); i++ {
			assert.False(t, first.Transactions[i].CreatedAt.After(first.Transactions[i-1].CreatedAt))
		}

		second, err := h.svc.Balance.TransactionHistory(ctx, ledger.TransactionFilter{CustomerID: id, Page: 2})
		require.NoError(t, err)
		assert.Len(t, second.Transactions, 5)
		assert.Equal(t, int64(1), second.Transactions[4].Amount, "oldest last")
	})
}

func TestTransactionHistory_FiltersByType(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		id := h.customer(t, "cust-1", 100)
		_, err := h.svc.Balance.AdjustBalance(ctx, ledger.AdjustBalanceInput{CustomerID: id, Amount: 10, Kind: ledger.TxDebit})
		require.NoError(t, err)

		debits, err := h.svc.Balance.TransactionHistory(ctx, ledger.TransactionFilter{CustomerID: id, Type: ledger.TxDebit})
		require.NoError(t, err)
		require.Len(t, debits.Transactions, 1)
		assert.Equal(t, int64(10), debits.Transactions[0].Amount)

		// Unknown types are ignored rather than rejected.
		all, err := h.svc.Balance.TransactionHistory(ctx, ledger.TransactionFilter{CustomerID: id, Type: "bogus"})
		require.NoError(t, err)
		assert.Len(t, all.Transactions, 2)
	})
}

func TestTransactionHistory_NoMatches_EmptyPage(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		page, err := h.svc.Balance.TransactionHistory(context.Background(), ledger.TransactionFilter{CustomerID: "nobody"})
		require.NoError(t, err)
		assert.NotNil(t, page.Transactions)
		assert.Empty(t, page.Transactions)
		assert.Equal(t, 0, page.Pagination.Total)
		assert.Equal(t, 0, page.Pagination.Pages)
	})
}

func TestTransactionHistory_PageBeyondRange_EmptyPage(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: A customer with one opening transaction
		id := h.customer(t, "cust-1", 100)
		page := math.MaxInt/20 + 2

		// WHEN: A page far past the end is requested
		got, err := h.svc.Balance.TransactionHistory(context.Background(), ledger.TransactionFilter{CustomerID: id, Page: page})

		// THEN: It is empty, with pagination describing the real log
		require.NoError(t, err)
		assert.Empty(t, got.Transactions)
		assert.Equal(t, ledger.Pagination{Total: 1, Page: page, Pages: 1, Limit: 20}, got.Pagination)
	})
}

func TestTransactionHistory_ReadIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		id := h.customer(t, "cust-1", 100)
		filter := ledger.TransactionFilter{CustomerID: id}

		a, err := h.svc.Balance.TransactionHistory(ctx, filter)
		require.NoError(t, err)
		b, err := h.svc.Balance.TransactionHistory(ctx, filter)
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.Equal(t, int64(100), h.balanceOf(t, id))
	})
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestReconcile_DetectsDrift(t *testing.T) {
	// GIVEN: A balance changed behind the log's back
	// THEN: Reconcile reports the mismatch

	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		id := h.customer(t, "cust-1", 100)

		c, err := h.store.GetCustomer(ctx, id)
		require.NoError(t, err)
		c.Balance = 999
		require.NoError(t, h.store.UpdateCustomer(ctx, *c))

		rec, err := h.svc.Balance.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.False(t, rec.Consistent)
		assert.Equal(t, int64(999), rec.Balance)
		assert.Equal(t, int64(100), rec.LedgerSum)
		assert.Equal(t, 1, rec.Transactions)
	})
}

func TestReconcile_UnknownCustomer(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		_, err := h.svc.Balance.Reconcile(context.Background(), "ghost")
		assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
	})
}
