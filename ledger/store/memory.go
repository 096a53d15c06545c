// Package store provides an in-memory ledger.TxStore for tests and demos.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/watercan/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in maps and slices guarded by one mutex.
// WithTx holds the write lock for the whole unit-of-work, so units never
// interleave; rollback restores a copy taken before fn ran.
type Memory struct {
	mu   sync.RWMutex
	data *tables
}

type tables struct {
	customers    map[ledger.CustomerID]ledger.Customer
	transactions []ledger.Transaction // insertion order
	orders       map[ledger.OrderID]ledger.Order
	snapshots    []ledger.InventorySnapshot // ascending Seq
	changes      []ledger.InventoryChange
	seq          int64
}

func NewMemory() *Memory {
	return &Memory{data: newTables()}
}

func newTables() *tables {
	return &tables{
		customers: make(map[ledger.CustomerID]ledger.Customer),
		orders:    make(map[ledger.OrderID]ledger.Order),
	}
}

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a copy + restore on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.data.clone()
	if err := fn(m.data); err != nil {
		m.data = saved
		return err
	}
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Reset drops every record.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newTables()
	return nil
}

// InventoryChanges returns the audit rows written so far, oldest first.
func (m *Memory) InventoryChanges() []ledger.InventoryChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.InventoryChange(nil), m.data.changes...)
}

func (t *tables) clone() *tables {
	c := &tables{
		customers:    make(map[ledger.CustomerID]ledger.Customer, len(t.customers)),
		transactions: append([]ledger.Transaction(nil), t.transactions...),
		orders:       make(map[ledger.OrderID]ledger.Order, len(t.orders)),
		snapshots:    append([]ledger.InventorySnapshot(nil), t.snapshots...),
		changes:      append([]ledger.InventoryChange(nil), t.changes...),
		seq:          t.seq,
	}
	for k, v := range t.customers {
		c.customers[k] = v
	}
	for k, v := range t.orders {
		c.orders[k] = v
	}
	return c
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Memory) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetCustomer(ctx, id)
}

func (m *Memory) CreateCustomer(ctx context.Context, c ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateCustomer(ctx, c)
}

func (m *Memory) UpdateCustomer(ctx context.Context, c ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateCustomer(ctx, c)
}

func (m *Memory) ListCustomers(ctx context.Context, f ledger.CustomerFilter) ([]ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListCustomers(ctx, f)
}

func (m *Memory) SumCansInPossession(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.SumCansInPossession(ctx)
}

func (m *Memory) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AppendTransaction(ctx, tx)
}

func (m *Memory) QueryTransactions(ctx context.Context, q ledger.TransactionQuery) ([]ledger.Transaction, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.QueryTransactions(ctx, q)
}

func (m *Memory) InsertOrder(ctx context.Context, o ledger.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertOrder(ctx, o)
}

func (m *Memory) UpdateOrder(ctx context.Context, o ledger.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateOrder(ctx, o)
}

func (m *Memory) GetOrder(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetOrder(ctx, id)
}

func (m *Memory) ListOrders(ctx context.Context, f ledger.OrderFilter) ([]ledger.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListOrders(ctx, f)
}

func (m *Memory) AppendSnapshot(ctx context.Context, s ledger.InventorySnapshot) (ledger.InventorySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AppendSnapshot(ctx, s)
}

func (m *Memory) AppendInventoryChange(ctx context.Context, c ledger.InventoryChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AppendInventoryChange(ctx, c)
}

func (m *Memory) LatestSnapshot(ctx context.Context) (*ledger.InventorySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.LatestSnapshot(ctx)
}

func (m *Memory) RecentSnapshots(ctx context.Context, limit int) ([]ledger.InventorySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.RecentSnapshots(ctx, limit)
}

// =============================================================================
// UNLOCKED VIEW - Also handed to fn inside WithTx
// =============================================================================

func (t *tables) GetCustomer(_ context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	c, ok := t.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *tables) CreateCustomer(_ context.Context, c ledger.Customer) error {
	if _, ok := t.customers[c.ID]; ok {
		return ledger.ErrCustomerExists
	}
	c.Version = 1
	t.customers[c.ID] = c
	return nil
}

func (t *tables) UpdateCustomer(_ context.Context, c ledger.Customer) error {
	stored, ok := t.customers[c.ID]
	if !ok || stored.Version != c.Version {
		return ledger.ErrConcurrentModification
	}
	c.Version++
	t.customers[c.ID] = c
	return nil
}

func (t *tables) ListCustomers(_ context.Context, f ledger.CustomerFilter) ([]ledger.Customer, error) {
	search := strings.ToLower(f.Search)
	var result []ledger.Customer
	for _, c := range t.customers {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(c.Name), search) &&
			!strings.Contains(strings.ToLower(c.Email), search) &&
			!strings.Contains(strings.ToLower(c.Phone), search) {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (t *tables) SumCansInPossession(_ context.Context) (int64, error) {
	var sum int64
	for _, c := range t.customers {
		sum += c.CansInPossession
	}
	return sum, nil
}

// AppendTransaction adds a transaction. Append-only.
func (t *tables) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	t.transactions = append(t.transactions, tx)
	return nil
}

func (t *tables) QueryTransactions(_ context.Context, q ledger.TransactionQuery) ([]ledger.Transaction, int, error) {
	var matched []ledger.Transaction
	// Walk backwards: newest first, and ties on CreatedAt keep insertion order reversed.
	for i := len(t.transactions) - 1; i >= 0; i-- {
		tx := t.transactions[i]
		if q.CustomerID != "" && tx.CustomerID != q.CustomerID {
			continue
		}
		if q.Type != "" && tx.Type != q.Type {
			continue
		}
		if q.From != nil && tx.CreatedAt.Before(*q.From) {
			continue
		}
		if q.To != nil && tx.CreatedAt.After(*q.To) {
			continue
		}
		matched = append(matched, tx)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	offset := max(q.Offset, 0)
	if offset >= total {
		return []ledger.Transaction{}, total, nil
	}
	matched = matched[offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

func (t *tables) InsertOrder(_ context.Context, o ledger.Order) error {
	t.orders[o.ID] = o
	return nil
}

func (t *tables) UpdateOrder(_ context.Context, o ledger.Order) error {
	if _, ok := t.orders[o.ID]; !ok {
		return ledger.ErrOrderNotFound
	}
	t.orders[o.ID] = o
	return nil
}

func (t *tables) GetOrder(_ context.Context, id ledger.OrderID) (*ledger.Order, error) {
	o, ok := t.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (t *tables) ListOrders(_ context.Context, f ledger.OrderFilter) ([]ledger.Order, error) {
	var result []ledger.Order
	for _, o := range t.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.From != nil && o.OrderDate.Before(*f.From) {
			continue
		}
		if f.To != nil && o.OrderDate.After(*f.To) {
			continue
		}
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].OrderDate.Equal(result[j].OrderDate) {
			return result[i].OrderDate.After(result[j].OrderDate)
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// AppendSnapshot adds a snapshot with the next Seq. Append-only.
func (t *tables) AppendSnapshot(_ context.Context, s ledger.InventorySnapshot) (ledger.InventorySnapshot, error) {
	t.seq++
	s.Seq = t.seq
	t.snapshots = append(t.snapshots, s)
	return s, nil
}

func (t *tables) AppendInventoryChange(_ context.Context, c ledger.InventoryChange) error {
	t.changes = append(t.changes, c)
	return nil
}

func (t *tables) LatestSnapshot(_ context.Context) (*ledger.InventorySnapshot, error) {
	if len(t.snapshots) == 0 {
		return nil, nil
	}
	s := t.snapshots[len(t.snapshots)-1]
	return &s, nil
}

func (t *tables) RecentSnapshots(_ context.Context, limit int) ([]ledger.InventorySnapshot, error) {
	n := len(t.snapshots)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]ledger.InventorySnapshot, 0, n)
	for i := len(t.snapshots) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, t.snapshots[i])
	}
	return result, nil
}
