package ledger

import (
	"context"
	"time"
)

// SummaryService computes the owner dashboard. Everything here is a plain
// sum or count over the stores; nothing is cached.
type SummaryService struct {
	Store TxStore
	Env
}

type RecentOrder struct {
	ID           OrderID
	CustomerID   CustomerID
	CustomerName string
	Quantity     int64
	Date         time.Time
}

type Summary struct {
	TotalCustomers     int
	MonthlyRevenue     int64 // credits this calendar month, opening balances excluded
	CansInStock        int64 // available cans in the latest snapshot
	PendingDeliveries  int
	RecentOrders       []RecentOrder
	CollectedToday     int64
	PendingCollections int64 // debt: sum of negative balances
}

const recentOrdersOnSummary = 5

// Summary reads the dashboard figures from one consistent view of the store.
func (s *SummaryService) Summary(ctx context.Context) (*Summary, error) {
	now := s.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var out Summary
	err := runUnit(ctx, s.Store, "summary", func(st Store) error {
		customers, err := st.ListCustomers(ctx, CustomerFilter{})
		if err != nil {
			return err
		}
		names := make(map[CustomerID]string, len(customers))
		out.TotalCustomers = len(customers)
		for _, c := range customers {
			names[c.ID] = c.Name
			if c.Balance < 0 {
				out.PendingCollections += -c.Balance
			}
		}

		credits, _, err := st.QueryTransactions(ctx, TransactionQuery{Type: TxCredit, From: &monthStart})
		if err != nil {
			return err
		}
		for _, tx := range credits {
			if tx.ReferenceID == OpeningBalanceRef {
				continue
			}
			out.MonthlyRevenue += tx.Amount
			if !tx.CreatedAt.Before(dayStart) {
				out.CollectedToday += tx.Amount
			}
		}

		if snap, err := st.LatestSnapshot(ctx); err != nil {
			return err
		} else if snap != nil {
			out.CansInStock = snap.AvailableCans
		}

		pending, err := st.ListOrders(ctx, OrderFilter{Status: OrderPending})
		if err != nil {
			return err
		}
		out.PendingDeliveries = len(pending)

		recent, err := st.ListOrders(ctx, OrderFilter{Limit: recentOrdersOnSummary})
		if err != nil {
			return err
		}
		out.RecentOrders = make([]RecentOrder, 0, len(recent))
		for _, o := range recent {
			name, ok := names[o.UserID]
			if !ok {
				name = "Unknown Customer"
			}
			out.RecentOrders = append(out.RecentOrders, RecentOrder{
				ID:           o.ID,
				CustomerID:   o.UserID,
				CustomerName: name,
				Quantity:     o.Quantity,
				Date:         o.OrderDate,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
