package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/watercan/ledger-engine/ledger"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ledger.Store over a connection or an open transaction.
// It takes no locks; Store and WithTx do that.
type queries struct {
	db dbtx
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// CUSTOMERS
// =============================================================================

const customerColumns = `id, name, address, phone, email, balance, cans_in_possession,
	status, join_date, version, created_at, updated_at`

func scanCustomer(row scanner) (ledger.Customer, error) {
	var (
		c                               ledger.Customer
		joinDate, createdAt, updatedAt string
		err                             error
	)
	if err = row.Scan(&c.ID, &c.Name, &c.Address, &c.Phone, &c.Email, &c.Balance,
		&c.CansInPossession, &c.Status, &joinDate, &c.Version, &createdAt, &updatedAt); err != nil {
		return c, err
	}
	if c.JoinDate, err = parseTime(joinDate); err != nil {
		return c, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return c, err
	}
	return c, nil
}

func (q queries) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = ?", id)
	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &c, nil
}

func (q queries) CreateCustomer(ctx context.Context, c ledger.Customer) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		c.ID, c.Name, c.Address, c.Phone, c.Email, c.Balance, c.CansInPossession,
		c.Status, formatTime(c.JoinDate), formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrCustomerExists
		}
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// UpdateCustomer only writes when the stored version still matches.
func (q queries) UpdateCustomer(ctx context.Context, c ledger.Customer) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE customers
		SET name = ?, address = ?, phone = ?, email = ?, balance = ?, cans_in_possession = ?,
		    status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		c.Name, c.Address, c.Phone, c.Email, c.Balance, c.CansInPossession,
		c.Status, formatTime(c.UpdatedAt), c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	if n == 0 {
		return ledger.ErrConcurrentModification
	}
	return nil
}

func (q queries) ListCustomers(ctx context.Context, f ledger.CustomerFilter) ([]ledger.Customer, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(phone) LIKE ?)")
		args = append(args, like, like, like)
	}

	query := "SELECT " + customerColumns + " FROM customers" + whereClause(where) + " ORDER BY name, id"
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var customers []ledger.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (q queries) SumCansInPossession(ctx context.Context) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(cans_in_possession), 0) FROM customers").Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum cans: %w", err)
	}
	return sum, nil
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

const transactionColumns = `id, customer_id, amount, type, description, created_by,
	balance_after, reference_id, created_at`

func (q queries) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.CustomerID, tx.Amount, tx.Type, tx.Description, tx.CreatedBy,
		tx.BalanceAfter, nullString(tx.ReferenceID), formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (q queries) QueryTransactions(ctx context.Context, tq ledger.TransactionQuery) ([]ledger.Transaction, int, error) {
	var (
		where []string
		args  []any
	)
	if tq.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, tq.CustomerID)
	}
	if tq.Type != "" {
		where = append(where, "type = ?")
		args = append(args, tq.Type)
	}
	if tq.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*tq.From))
	}
	if tq.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*tq.To))
	}
	cond := whereClause(where)

	var total int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions"+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := "SELECT " + transactionColumns + " FROM transactions" + cond +
		" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	rows, err := q.db.QueryContext(ctx, query, append(args, limitOrAll(tq.Limit), max(tq.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	transactions := []ledger.Transaction{}
	for rows.Next() {
		var (
			tx          ledger.Transaction
			referenceID sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&tx.ID, &tx.CustomerID, &tx.Amount, &tx.Type, &tx.Description,
			&tx.CreatedBy, &tx.BalanceAfter, &referenceID, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.ReferenceID = referenceID.String
		if tx.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, 0, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, total, rows.Err()
}

// =============================================================================
// ORDERS
// =============================================================================

const orderColumns = `id, user_id, quantity, price, total_amount, status,
	order_date, delivery_date, created_at, updated_at`

func scanOrder(row scanner) (ledger.Order, error) {
	var (
		o                               ledger.Order
		orderDate, createdAt, updatedAt string
		deliveryDate                    sql.NullString
		err                             error
	)
	if err = row.Scan(&o.ID, &o.UserID, &o.Quantity, &o.Price, &o.TotalAmount, &o.Status,
		&orderDate, &deliveryDate, &createdAt, &updatedAt); err != nil {
		return o, err
	}
	if o.OrderDate, err = parseTime(orderDate); err != nil {
		return o, err
	}
	if deliveryDate.Valid {
		d, err := parseTime(deliveryDate.String)
		if err != nil {
			return o, err
		}
		o.DeliveryDate = &d
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return o, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return o, err
	}
	return o, nil
}

func (q queries) InsertOrder(ctx context.Context, o ledger.Order) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.Quantity, o.Price, o.TotalAmount, o.Status,
		formatTime(o.OrderDate), nullTime(o.DeliveryDate), formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (q queries) UpdateOrder(ctx context.Context, o ledger.Order) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, delivery_date = ?, updated_at = ?
		WHERE id = ?`,
		o.Status, nullTime(o.DeliveryDate), formatTime(o.UpdatedAt), o.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrOrderNotFound
	}
	return nil
}

func (q queries) GetOrder(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	o, err := scanOrder(q.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

func (q queries) ListOrders(ctx context.Context, f ledger.OrderFilter) ([]ledger.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.From != nil {
		where = append(where, "order_date >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "order_date <= ?")
		args = append(args, formatTime(*f.To))
	}

	query := "SELECT " + orderColumns + " FROM orders" + whereClause(where) +
		" ORDER BY order_date DESC, created_at DESC, id DESC LIMIT ?"
	rows, err := q.db.QueryContext(ctx, query, append(args, limitOrAll(f.Limit))...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []ledger.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// =============================================================================
// INVENTORY (append-only)
// =============================================================================

const snapshotColumns = `seq, id, total_cans, available_cans, cans_with_customers, updated_by, created_at`

func scanSnapshot(row scanner) (ledger.InventorySnapshot, error) {
	var (
		s         ledger.InventorySnapshot
		createdAt string
		err       error
	)
	if err = row.Scan(&s.Seq, &s.ID, &s.TotalCans, &s.AvailableCans, &s.CansWithCustomers,
		&s.UpdatedBy, &createdAt); err != nil {
		return s, err
	}
	s.CreatedAt, err = parseTime(createdAt)
	return s, err
}

func (q queries) AppendSnapshot(ctx context.Context, s ledger.InventorySnapshot) (ledger.InventorySnapshot, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO inventory_snapshots (id, total_cans, available_cans, cans_with_customers, updated_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.TotalCans, s.AvailableCans, s.CansWithCustomers, s.UpdatedBy, formatTime(s.CreatedAt),
	)
	if err != nil {
		return s, fmt.Errorf("failed to append snapshot: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return s, fmt.Errorf("failed to read snapshot seq: %w", err)
	}
	s.Seq = seq
	return s, nil
}

func (q queries) AppendInventoryChange(ctx context.Context, c ledger.InventoryChange) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO inventory_changes
		(id, snapshot_id, operation, quantity, reason, previous_total, new_total,
		 previous_available, new_available, performed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SnapshotID, c.Operation, c.Quantity, c.Reason, c.PreviousTotal, c.NewTotal,
		c.PreviousAvailable, c.NewAvailable, c.PerformedBy, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append inventory change: %w", err)
	}
	return nil
}

func (q queries) LatestSnapshot(ctx context.Context) (*ledger.InventorySnapshot, error) {
	s, err := scanSnapshot(q.db.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM inventory_snapshots ORDER BY seq DESC LIMIT 1"))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return &s, nil
}

func (q queries) RecentSnapshots(ctx context.Context, limit int) ([]ledger.InventorySnapshot, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+snapshotColumns+" FROM inventory_snapshots ORDER BY seq DESC LIMIT ?", limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []ledger.InventorySnapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

func (q queries) InventoryChanges(ctx context.Context, limit int) ([]ledger.InventoryChange, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, snapshot_id, operation, quantity, reason, previous_total, new_total,
		       previous_available, new_available, performed_by, created_at
		FROM inventory_changes ORDER BY created_at DESC, rowid DESC LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory changes: %w", err)
	}
	defer rows.Close()

	var changes []ledger.InventoryChange
	for rows.Next() {
		var (
			c         ledger.InventoryChange
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.SnapshotID, &c.Operation, &c.Quantity, &c.Reason,
			&c.PreviousTotal, &c.NewTotal, &c.PreviousAvailable, &c.NewAvailable,
			&c.PerformedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan inventory change: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
