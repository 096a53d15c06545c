/*
balance.go - Credit/debit adjustments and the transaction log

PURPOSE:
  AdjustBalance is the only way an operator changes a customer's balance.
  The customer update and the Transaction documenting it are written in one
  unit-of-work, so the log always explains the balance.

RULES:
  - amount must be positive; kind must be credit or debit
  - a debit may not exceed the current balance
  - balances may still be negative (debt) when reached through other paths;
    the floor applies to explicit debits only

RECONCILIATION:
  Reconcile replays the log and compares it with the stored balance, the
  same check the auditor runs periodically.
*/
package ledger

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// BalanceService applies credit/debit adjustments.
type BalanceService struct {
	Store TxStore
	Env
}

func NewBalanceService(store TxStore, env Env) *BalanceService {
	return &BalanceService{Store: store, Env: env.withDefaults()}
}

type AdjustBalanceInput struct {
	CustomerID  CustomerID
	Amount      int64
	Kind        TxType
	Description string
	ActorID     string
}

type AdjustBalanceResult struct {
	Transaction Transaction
	NewBalance  int64
}

// AdjustBalance credits or debits a customer and appends the matching
// Transaction atomically.
func (s *BalanceService) AdjustBalance(ctx context.Context, in AdjustBalanceInput) (*AdjustBalanceResult, error) {
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !in.Kind.Valid() {
		return nil, ErrInvalidKind
	}
	description := in.Description
	if description == "" {
		if in.Kind == TxCredit {
			description = "Account recharge"
		} else {
			description = "Balance adjustment"
		}
	}

	var result AdjustBalanceResult
	err := runUnit(ctx, s.Store, "adjust balance", func(st Store) error {
		customer, err := st.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return ErrCustomerNotFound
		}

		newBalance := customer.Balance
		switch in.Kind {
		case TxCredit:
			if customer.Balance > math.MaxInt64-in.Amount {
				return ErrInvalidAmount
			}
			newBalance += in.Amount
		case TxDebit:
			if customer.Balance < in.Amount {
				return &InsufficientBalanceError{
					CustomerID: customer.ID,
					Available:  customer.Balance,
					Requested:  in.Amount,
				}
			}
			newBalance -= in.Amount
		}

		tx, err := appendBalanceChange(ctx, st, s.Env, customer, in.Kind, in.Amount, newBalance, description, in.ActorID, "")
		if err != nil {
			return err
		}
		result = AdjustBalanceResult{Transaction: tx, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		s.Logger.Debug("balance adjustment rejected",
			zap.String("customer_id", string(in.CustomerID)),
			zap.String("type", string(in.Kind)),
			zap.Int64("amount", in.Amount),
			zap.Error(err))
		return nil, err
	}

	s.Logger.Info("balance adjusted",
		zap.String("customer_id", string(in.CustomerID)),
		zap.String("type", string(in.Kind)),
		zap.Int64("amount", in.Amount),
		zap.Int64("balance_after", result.NewBalance),
		zap.String("actor_id", in.ActorID))
	return &result, nil
}

// appendBalanceChange writes the customer's new balance and the Transaction
// documenting it. It must run inside a unit-of-work.
func appendBalanceChange(ctx context.Context, st Store, env Env, customer *Customer, kind TxType, amount, newBalance int64, description, actorID, referenceID string) (Transaction, error) {
	now := env.Now()

	updated := *customer
	updated.Balance = newBalance
	updated.UpdatedAt = now
	if err := st.UpdateCustomer(ctx, updated); err != nil {
		return Transaction{}, err
	}
	customer.Balance = newBalance
	customer.Version++
	customer.UpdatedAt = now

	tx := Transaction{
		ID:           TransactionID(env.NewID()),
		CustomerID:   customer.ID,
		Amount:       amount,
		Type:         kind,
		Description:  description,
		CreatedBy:    actorID,
		BalanceAfter: newBalance,
		ReferenceID:  referenceID,
		CreatedAt:    now,
	}
	if err := st.AppendTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// =============================================================================
// TRANSACTION HISTORY
// =============================================================================

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type TransactionFilter struct {
	CustomerID CustomerID
	Type       TxType // empty = both; unknown values are ignored
	From       *time.Time
	To         *time.Time
	Page       int
	Limit      int
}

type Pagination struct {
	Total int
	Page  int
	Pages int
	Limit int
}

type TransactionPage struct {
	Transactions []Transaction
	Pagination   Pagination
}

// TransactionHistory returns one page of a customer's transactions, newest
// first. No matches is an empty page, not an error.
func (s *BalanceService) TransactionHistory(ctx context.Context, f TransactionFilter) (*TransactionPage, error) {
	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	// Pages beyond the addressable range read past the end.
	offset := math.MaxInt
	if page-1 <= math.MaxInt/limit {
		offset = (page - 1) * limit
	}

	q := TransactionQuery{
		CustomerID: f.CustomerID,
		From:       f.From,
		To:         f.To,
		Offset:     offset,
		Limit:      limit,
	}
	if f.Type.Valid() {
		q.Type = f.Type
	}

	txs, total, err := s.Store.QueryTransactions(ctx, q)
	if err != nil {
		return nil, storeError("transaction history", err)
	}
	if txs == nil {
		txs = []Transaction{}
	}

	return &TransactionPage{
		Transactions: txs,
		Pagination: Pagination{
			Total: total,
			Page:  page,
			Pages: (total + limit - 1) / limit,
			Limit: limit,
		},
	}, nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconciliation compares a stored balance with its transaction log.
type Reconciliation struct {
	CustomerID   CustomerID
	Balance      int64
	LedgerSum    int64
	Transactions int
	Consistent   bool
}

// Reconcile replays every transaction of the customer.
func (s *BalanceService) Reconcile(ctx context.Context, id CustomerID) (*Reconciliation, error) {
	var rec *Reconciliation
	// Read inside a unit so the balance and the log come from the same state.
	err := runUnit(ctx, s.Store, "reconcile", func(st Store) error {
		customer, err := st.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		if customer == nil {
			return ErrCustomerNotFound
		}
		txs, _, err := st.QueryTransactions(ctx, TransactionQuery{CustomerID: id})
		if err != nil {
			return err
		}
		var sum int64
		for _, tx := range txs {
			sum += tx.Signed()
		}
		rec = &Reconciliation{
			CustomerID:   id,
			Balance:      customer.Balance,
			LedgerSum:    sum,
			Transactions: len(txs),
			Consistent:   sum == customer.Balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
