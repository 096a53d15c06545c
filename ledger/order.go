/*
order.go - Order placement, status updates and can returns

PLACEMENT:
  PlaceOrder charges UnitPrice * quantity to the customer, records the debit
  in the transaction log, increases the customer's cans in possession and
  inserts a pending order. All of it commits together or not at all.

  A customer placing a first order has no record yet. One is created inside
  the same unit-of-work with a placeholder profile and the configured
  starting balance, recorded as an "Opening balance" credit.

STATE MACHINE:
  pending --> confirmed --> delivered
     |            |
     +------------+-----> cancelled

  delivered and cancelled are terminal. Skipping forward (pending -->
  delivered) is allowed; moving backward or out of a terminal state is not.
  Setting the current status again is a no-op.
*/
package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

var statusRank = map[OrderStatus]int{
	OrderPending:   0,
	OrderConfirmed: 1,
	OrderDelivered: 2,
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// CanTransitionTo reports whether an order in status s may move to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	if next == OrderCancelled {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// =============================================================================
// ORDER SERVICE
// =============================================================================

type OrderService struct {
	Store   TxStore
	Pricing Pricing
	Env
}

func NewOrderService(store TxStore, pricing Pricing, env Env) *OrderService {
	return &OrderService{Store: store, Pricing: pricing, Env: env.withDefaults()}
}

type PlaceOrderInput struct {
	CustomerID  CustomerID
	Quantity    int64
	RequestedAt *time.Time

	// Profile hints used only when the customer record has to be created.
	Name  string
	Email string

	ActorID string
}

type PlaceOrderResult struct {
	Order           Order
	NewBalance      int64
	CustomerCreated bool
}

// PlaceOrder validates and places an order.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	if in.Quantity < 1 {
		return nil, &InvalidQuantityError{Quantity: in.Quantity}
	}
	price := s.Pricing.UnitPrice
	if price > 0 && in.Quantity > math.MaxInt64/price {
		return nil, &InvalidQuantityError{Quantity: in.Quantity, Max: math.MaxInt64 / price, Bounded: true}
	}
	total := price * in.Quantity
	actor := in.ActorID
	if actor == "" {
		actor = string(in.CustomerID)
	}

	var result PlaceOrderResult
	err := runUnit(ctx, s.Store, "place order", func(st Store) error {
		now := s.Now()

		customer, err := st.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		if customer == nil {
			customer, err = s.createForOrder(ctx, st, in, now)
			if err != nil {
				return err
			}
			result.CustomerCreated = true
		}

		if customer.Balance < total {
			return &InsufficientBalanceError{
				CustomerID: customer.ID,
				Available:  customer.Balance,
				Requested:  total,
			}
		}

		orderDate := now
		if in.RequestedAt != nil && !in.RequestedAt.IsZero() {
			orderDate = in.RequestedAt.UTC()
		}
		order := Order{
			ID:          OrderID(s.NewID()),
			UserID:      customer.ID,
			Quantity:    in.Quantity,
			Price:       price,
			TotalAmount: total,
			Status:      OrderPending,
			OrderDate:   orderDate,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := order.Validate(); err != nil {
			return err
		}
		if err := st.InsertOrder(ctx, order); err != nil {
			return err
		}

		customer.CansInPossession += in.Quantity
		newBalance := customer.Balance - total
		description := fmt.Sprintf("Order of %d cans", in.Quantity)
		if _, err := appendBalanceChange(ctx, st, s.Env, customer, TxDebit, total, newBalance, description, actor, string(order.ID)); err != nil {
			return err
		}

		result.Order = order
		result.NewBalance = newBalance
		return nil
	})
	if err != nil {
		s.Logger.Debug("order rejected",
			zap.String("customer_id", string(in.CustomerID)),
			zap.Int64("quantity", in.Quantity),
			zap.Error(err))
		return nil, err
	}

	s.Logger.Info("order placed",
		zap.String("order_id", string(result.Order.ID)),
		zap.String("customer_id", string(in.CustomerID)),
		zap.Int64("quantity", in.Quantity),
		zap.Int64("total_amount", total),
		zap.Int64("balance_after", result.NewBalance),
		zap.Bool("customer_created", result.CustomerCreated))
	return &result, nil
}

// createForOrder inserts a placeholder customer and, if configured, credits
// the starting balance.
func (s *OrderService) createForOrder(ctx context.Context, st Store, in PlaceOrderInput, now time.Time) (*Customer, error) {
	name := in.Name
	if name == "" {
		name = "Customer"
	}
	customer := &Customer{
		ID:        in.CustomerID,
		Name:      name,
		Email:     in.Email,
		Address:   "Address pending update",
		Phone:     "Phone pending update",
		Status:    CustomerActive,
		JoinDate:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.CreateCustomer(ctx, *customer); err != nil {
		return nil, err
	}
	customer.Version = 1

	if opening := s.Pricing.StartingBalance; opening > 0 {
		if _, err := appendBalanceChange(ctx, st, s.Env, customer, TxCredit, opening, opening, "Opening balance", SystemActor, OpeningBalanceRef); err != nil {
			return nil, err
		}
	}
	return customer, nil
}

// =============================================================================
// STATUS UPDATES
// =============================================================================

type UpdateOrderStatusInput struct {
	OrderID      OrderID
	Status       OrderStatus // empty = unchanged
	DeliveryDate *time.Time  // nil = unchanged
}

// UpdateOrderStatus changes only the provided fields of an order.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, in UpdateOrderStatusInput) (*Order, error) {
	if in.Status != "" && !in.Status.Valid() {
		return nil, ErrInvalidStatus
	}

	var updated Order
	err := runUnit(ctx, s.Store, "update order status", func(st Store) error {
		order, err := st.GetOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}

		if in.Status != "" {
			if !order.Status.CanTransitionTo(in.Status) {
				return &InvalidTransitionError{OrderID: order.ID, From: order.Status, To: in.Status}
			}
			order.Status = in.Status
		}
		if in.DeliveryDate != nil {
			if order.Status == OrderCancelled {
				return ErrCancelledDelivery
			}
			d := in.DeliveryDate.UTC()
			order.DeliveryDate = &d
		}
		order.UpdatedAt = s.Now()

		if err := order.Validate(); err != nil {
			return err
		}
		if err := st.UpdateOrder(ctx, *order); err != nil {
			return err
		}
		updated = *order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("order updated",
		zap.String("order_id", string(updated.ID)),
		zap.String("status", string(updated.Status)))
	return &updated, nil
}

// =============================================================================
// CAN RETURNS
// =============================================================================

type CanReturnInput struct {
	CustomerID CustomerID
	Quantity   int64
	ActorID    string
}

type CanReturnResult struct {
	CustomerID    CustomerID
	Returned      int64
	CansRemaining int64
}

// ProcessCanReturn reduces the cans a customer holds.
func (s *OrderService) ProcessCanReturn(ctx context.Context, in CanReturnInput) (*CanReturnResult, error) {
	if in.Quantity < 1 {
		return nil, &InvalidQuantityError{Quantity: in.Quantity}
	}

	var result CanReturnResult
	err := runUnit(ctx, s.Store, "process can return", func(st Store) error {
		customer, err := st.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return ErrCustomerNotFound
		}
		if in.Quantity > customer.CansInPossession {
			return &InvalidQuantityError{Quantity: in.Quantity, Max: customer.CansInPossession, Bounded: true}
		}

		updated := *customer
		updated.CansInPossession -= in.Quantity
		updated.UpdatedAt = s.Now()
		if err := st.UpdateCustomer(ctx, updated); err != nil {
			return err
		}
		result = CanReturnResult{
			CustomerID:    customer.ID,
			Returned:      in.Quantity,
			CansRemaining: updated.CansInPossession,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("cans returned",
		zap.String("customer_id", string(in.CustomerID)),
		zap.Int64("quantity", in.Quantity),
		zap.Int64("cans_remaining", result.CansRemaining),
		zap.String("actor_id", in.ActorID))
	return &result, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// GetOrder returns one order or ErrOrderNotFound.
func (s *OrderService) GetOrder(ctx context.Context, id OrderID) (*Order, error) {
	order, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, storeError("get order", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// UserOrders returns a customer's orders, newest first.
func (s *OrderService) UserOrders(ctx context.Context, id CustomerID, filter OrderFilter) ([]Order, error) {
	if id == "" {
		return []Order{}, nil
	}
	filter.UserID = id
	return s.listOrders(ctx, filter)
}

// AllOrders returns every order matching filter, newest first.
func (s *OrderService) AllOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	return s.listOrders(ctx, filter)
}

func (s *OrderService) listOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	orders, err := s.Store.ListOrders(ctx, filter)
	if err != nil {
		return nil, storeError("list orders", err)
	}
	if orders == nil {
		orders = []Order{}
	}
	return orders, nil
}
