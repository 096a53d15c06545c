package ledger

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CustomerService manages customer profiles. Balances are only changed
// through BalanceService and OrderService; the one exception is the opening
// balance of a customer created by an operator, which is logged like any
// other balance change.
type CustomerService struct {
	Store TxStore
	Env
}

func NewCustomerService(store TxStore, env Env) *CustomerService {
	return &CustomerService{Store: store, Env: env.withDefaults()}
}

// CustomerProfile is a customer with order statistics.
type CustomerProfile struct {
	Customer      Customer
	TotalOrders   int
	LastOrderDate *time.Time
}

// Get returns a customer or ErrCustomerNotFound.
func (s *CustomerService) Get(ctx context.Context, id CustomerID) (*Customer, error) {
	c, err := s.Store.GetCustomer(ctx, id)
	if err != nil {
		return nil, storeError("get customer", err)
	}
	if c == nil {
		return nil, ErrCustomerNotFound
	}
	return c, nil
}

// Profile returns the customer with order count and last order date.
func (s *CustomerService) Profile(ctx context.Context, id CustomerID) (*CustomerProfile, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	orders, err := s.Store.ListOrders(ctx, OrderFilter{UserID: id})
	if err != nil {
		return nil, storeError("profile orders", err)
	}
	profile := &CustomerProfile{Customer: *c, TotalOrders: len(orders)}
	if len(orders) > 0 {
		last := orders[0].OrderDate
		profile.LastOrderDate = &last
	}
	return profile, nil
}

// List returns customers sorted by name.
func (s *CustomerService) List(ctx context.Context, filter CustomerFilter) ([]Customer, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidProfile
	}
	filter.Search = strings.TrimSpace(filter.Search)
	customers, err := s.Store.ListCustomers(ctx, filter)
	if err != nil {
		return nil, storeError("list customers", err)
	}
	if customers == nil {
		customers = []Customer{}
	}
	return customers, nil
}

type CreateCustomerInput struct {
	ID             CustomerID
	Name           string
	Address        string
	Phone          string
	Email          string
	OpeningBalance int64
	ActorID        string
}

// Create inserts a new customer. A non-zero opening balance is recorded as a
// credit (or a debit, for debt carried over) so the log explains it.
func (s *CustomerService) Create(ctx context.Context, in CreateCustomerInput) (*Customer, error) {
	if in.ID == "" || strings.TrimSpace(in.Name) == "" ||
		strings.TrimSpace(in.Address) == "" || strings.TrimSpace(in.Phone) == "" {
		return nil, ErrInvalidProfile
	}
	if in.OpeningBalance == math.MinInt64 {
		return nil, ErrInvalidAmount
	}

	var created Customer
	err := runUnit(ctx, s.Store, "create customer", func(st Store) error {
		existing, err := st.GetCustomer(ctx, in.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrCustomerExists
		}

		now := s.Now()
		c := &Customer{
			ID:        in.ID,
			Name:      strings.TrimSpace(in.Name),
			Address:   strings.TrimSpace(in.Address),
			Phone:     strings.TrimSpace(in.Phone),
			Email:     strings.TrimSpace(in.Email),
			Status:    CustomerActive,
			JoinDate:  now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.CreateCustomer(ctx, *c); err != nil {
			return err
		}
		c.Version = 1

		if in.OpeningBalance != 0 {
			kind, amount := TxCredit, in.OpeningBalance
			if amount < 0 {
				kind, amount = TxDebit, -amount
			}
			if _, err := appendBalanceChange(ctx, st, s.Env, c, kind, amount, in.OpeningBalance, "Opening balance", in.ActorID, OpeningBalanceRef); err != nil {
				return err
			}
		}
		created = *c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("customer created",
		zap.String("customer_id", string(created.ID)),
		zap.Int64("opening_balance", created.Balance),
		zap.String("actor_id", in.ActorID))
	return &created, nil
}

// UpdateProfileInput carries the profile fields to change; empty strings
// leave a field untouched.
type UpdateProfileInput struct {
	CustomerID CustomerID
	Name       string
	Address    string
	Phone      string
	Email      string

	// CreateIfMissing creates the record, with a zero balance, when the
	// customer does not exist yet.
	CreateIfMissing bool
	// DefaultName and DefaultEmail fill a created record when Name or
	// Email is empty, typically from the caller's identity.
	DefaultName  string
	DefaultEmail string
}

// UpdateProfile changes profile fields. It reports whether the customer was
// created by this call.
func (s *CustomerService) UpdateProfile(ctx context.Context, in UpdateProfileInput) (*Customer, bool, error) {
	if in.CustomerID == "" {
		return nil, false, ErrInvalidProfile
	}

	var (
		result  Customer
		created bool
	)
	err := runUnit(ctx, s.Store, "update profile", func(st Store) error {
		now := s.Now()
		c, err := st.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return err
		}

		if c == nil {
			if !in.CreateIfMissing {
				return ErrCustomerNotFound
			}
			fresh := Customer{
				ID:        in.CustomerID,
				Name:      orDefault(in.Name, orDefault(in.DefaultName, "Customer")),
				Address:   orDefault(in.Address, "Address not provided"),
				Phone:     orDefault(in.Phone, "Phone not provided"),
				Email:     orDefault(in.Email, strings.TrimSpace(in.DefaultEmail)),
				Status:    CustomerActive,
				JoinDate:  now,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := st.CreateCustomer(ctx, fresh); err != nil {
				return err
			}
			fresh.Version = 1
			result, created = fresh, true
			return nil
		}

		updated := *c
		if v := strings.TrimSpace(in.Name); v != "" {
			updated.Name = v
		}
		if v := strings.TrimSpace(in.Address); v != "" {
			updated.Address = v
		}
		if v := strings.TrimSpace(in.Phone); v != "" {
			updated.Phone = v
		}
		if v := strings.TrimSpace(in.Email); v != "" {
			updated.Email = v
		}
		updated.UpdatedAt = now
		if err := st.UpdateCustomer(ctx, updated); err != nil {
			return err
		}
		updated.Version++
		result = updated
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
