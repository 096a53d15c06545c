/*
dto.go - JSON shapes of the HTTP API

NAMING CONVENTION:
  - *DTO:      response types returned to clients
  - *Request:  request bodies from clients
  - *Response: wrappers around several DTOs

MONEY:
  Balances and transaction amounts are whole currency units (int64).
  Client-supplied amounts decode into decimal.Decimal so that "150",
  150 and 150.0 are all accepted and 150.5 is rejected by the ledger,
  not by the JSON decoder. Dashboard totals are reported as decimals.

VALIDATION:
  Done by the ledger services. DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/watercan/ledger-engine/ledger"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

type CustomerDTO struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Address          string    `json:"address"`
	Phone            string    `json:"phone"`
	Email            string    `json:"email,omitempty"`
	Balance          int64     `json:"balance"`
	CansInPossession int64     `json:"cansInPossession"`
	Status           string    `json:"status"`
	JoinDate         time.Time `json:"joinDate"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// CustomerProfileDTO is a customer with order statistics.
type CustomerProfileDTO struct {
	CustomerDTO
	TotalOrders   int        `json:"totalOrders"`
	LastOrderDate *time.Time `json:"lastOrderDate"`
}

type CreateCustomerRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	// Balance is the opening balance; negative carries existing debt.
	Balance *decimal.Decimal `json:"balance"`
}

type UpdateProfileRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

func toCustomerDTO(c ledger.Customer) CustomerDTO {
	return CustomerDTO{
		ID:               string(c.ID),
		Name:             c.Name,
		Address:          c.Address,
		Phone:            c.Phone,
		Email:            c.Email,
		Balance:          c.Balance,
		CansInPossession: c.CansInPossession,
		Status:           string(c.Status),
		JoinDate:         c.JoinDate,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func toCustomerDTOs(cs []ledger.Customer) []CustomerDTO {
	out := make([]CustomerDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, toCustomerDTO(c))
	}
	return out
}

// =============================================================================
// BALANCE
// =============================================================================

type AdjustBalanceRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
}

type TransactionDTO struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customerId"`
	Amount       int64     `json:"amount"`
	Type         string    `json:"type"`
	Description  string    `json:"description"`
	CreatedBy    string    `json:"createdBy"`
	BalanceAfter int64     `json:"balanceAfter"`
	ReferenceID  string    `json:"referenceId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type AdjustBalanceResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	NewBalance  int64          `json:"newBalance"`
}

type PaginationDTO struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Limit int `json:"limit"`
}

type TransactionPageDTO struct {
	Transactions []TransactionDTO `json:"transactions"`
	Pagination   PaginationDTO    `json:"pagination"`
}

type ReconciliationDTO struct {
	CustomerID   string `json:"customerId"`
	Balance      int64  `json:"balance"`
	LedgerSum    int64  `json:"ledgerSum"`
	Transactions int    `json:"transactions"`
	Consistent   bool   `json:"consistent"`
}

func toTransactionDTO(t ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(t.ID),
		CustomerID:   string(t.CustomerID),
		Amount:       t.Amount,
		Type:         string(t.Type),
		Description:  t.Description,
		CreatedBy:    t.CreatedBy,
		BalanceAfter: t.BalanceAfter,
		ReferenceID:  t.ReferenceID,
		CreatedAt:    t.CreatedAt,
	}
}

// =============================================================================
// ORDERS
// =============================================================================

type PlaceOrderRequest struct {
	// UserID lets an owner order on a customer's behalf. Customers may
	// only name themselves.
	UserID    string     `json:"userId"`
	Quantity  int64      `json:"quantity"`
	OrderDate *time.Time `json:"orderDate"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
}

type OrderDTO struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Quantity     int64      `json:"quantity"`
	Price        int64      `json:"price"`
	TotalAmount  int64      `json:"totalAmount"`
	Status       string     `json:"status"`
	OrderDate    time.Time  `json:"orderDate"`
	DeliveryDate *time.Time `json:"deliveryDate,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type PlaceOrderResponse struct {
	Order           OrderDTO `json:"order"`
	NewBalance      int64    `json:"newBalance"`
	CustomerCreated bool     `json:"customerCreated"`
}

type UpdateOrderStatusRequest struct {
	Status       string     `json:"status"`
	DeliveryDate *time.Time `json:"deliveryDate"`
}

type CanReturnRequest struct {
	CustomerID string `json:"customerId"`
	Quantity   int64  `json:"quantity"`
}

type CanReturnResponse struct {
	CustomerID    string `json:"customerId"`
	Returned      int64  `json:"returned"`
	CansRemaining int64  `json:"cansRemaining"`
}

func toOrderDTO(o ledger.Order) OrderDTO {
	return OrderDTO{
		ID:           string(o.ID),
		UserID:       string(o.UserID),
		Quantity:     o.Quantity,
		Price:        o.Price,
		TotalAmount:  o.TotalAmount,
		Status:       string(o.Status),
		OrderDate:    o.OrderDate,
		DeliveryDate: o.DeliveryDate,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func toOrderDTOs(os []ledger.Order) []OrderDTO {
	out := make([]OrderDTO, 0, len(os))
	for _, o := range os {
		out = append(out, toOrderDTO(o))
	}
	return out
}

// =============================================================================
// INVENTORY
// =============================================================================

type InventoryDTO struct {
	ID                string    `json:"id"`
	TotalCans         int64     `json:"totalCans"`
	AvailableCans     int64     `json:"availableCans"`
	CansWithCustomers int64     `json:"cansWithCustomers"`
	UpdatedBy         string    `json:"updatedBy"`
	CreatedAt         time.Time `json:"createdAt"`
}

type AdjustInventoryRequest struct {
	Operation string `json:"operation"`
	Quantity  int64  `json:"quantity"`
	Reason    string `json:"reason"`
}

type InventoryChangeDTO struct {
	ID                string    `json:"id"`
	Operation         string    `json:"operation"`
	Quantity          int64     `json:"quantity"`
	Reason            string    `json:"reason,omitempty"`
	PreviousTotal     int64     `json:"previousTotal"`
	NewTotal          int64     `json:"newTotal"`
	PreviousAvailable int64     `json:"previousAvailable"`
	NewAvailable      int64     `json:"newAvailable"`
	PerformedBy       string    `json:"performedBy"`
	CreatedAt         time.Time `json:"createdAt"`
}

type InventoryAdjustmentResponse struct {
	Previous InventoryDTO       `json:"previous"`
	Current  InventoryDTO       `json:"current"`
	Change   InventoryChangeDTO `json:"change"`
}

type InventoryDeltaDTO struct {
	TotalDiff         int64 `json:"totalDiff"`
	AvailableDiff     int64 `json:"availableDiff"`
	WithCustomersDiff int64 `json:"withCustomersDiff"`
}

type InventoryHistoryEntryDTO struct {
	InventoryDTO
	Changes *InventoryDeltaDTO `json:"changes"`
}

func toInventoryDTO(s ledger.InventorySnapshot) InventoryDTO {
	return InventoryDTO{
		ID:                string(s.ID),
		TotalCans:         s.TotalCans,
		AvailableCans:     s.AvailableCans,
		CansWithCustomers: s.CansWithCustomers,
		UpdatedBy:         s.UpdatedBy,
		CreatedAt:         s.CreatedAt,
	}
}

func toInventoryChangeDTO(c ledger.InventoryChange) InventoryChangeDTO {
	return InventoryChangeDTO{
		ID:                c.ID,
		Operation:         string(c.Operation),
		Quantity:          c.Quantity,
		Reason:            c.Reason,
		PreviousTotal:     c.PreviousTotal,
		NewTotal:          c.NewTotal,
		PreviousAvailable: c.PreviousAvailable,
		NewAvailable:      c.NewAvailable,
		PerformedBy:       c.PerformedBy,
		CreatedAt:         c.CreatedAt,
	}
}

// =============================================================================
// DASHBOARD
// =============================================================================

type RecentOrderDTO struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customerId"`
	CustomerName string    `json:"customerName"`
	Quantity     int64     `json:"quantity"`
	Date         time.Time `json:"date"`
}

type DashboardSummaryDTO struct {
	TotalCustomers     int              `json:"totalCustomers"`
	MonthlyRevenue     decimal.Decimal  `json:"monthlyRevenue"`
	CansInStock        int64            `json:"cansInStock"`
	PendingDeliveries  int              `json:"pendingDeliveries"`
	RecentOrders       []RecentOrderDTO `json:"recentOrders"`
	CollectedToday     decimal.Decimal  `json:"collectedToday"`
	PendingCollections decimal.Decimal  `json:"pendingCollections"`
}

func toDashboardSummaryDTO(s ledger.Summary) DashboardSummaryDTO {
	recent := make([]RecentOrderDTO, 0, len(s.RecentOrders))
	for _, o := range s.RecentOrders {
		recent = append(recent, RecentOrderDTO{
			ID:           string(o.ID),
			CustomerID:   string(o.CustomerID),
			CustomerName: o.CustomerName,
			Quantity:     o.Quantity,
			Date:         o.Date,
		})
	}
	return DashboardSummaryDTO{
		TotalCustomers:     s.TotalCustomers,
		MonthlyRevenue:     ledger.Money(s.MonthlyRevenue),
		CansInStock:        s.CansInStock,
		PendingDeliveries:  s.PendingDeliveries,
		RecentOrders:       recent,
		CollectedToday:     ledger.Money(s.CollectedToday),
		PendingCollections: ledger.Money(s.PendingCollections),
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
	Details  string `json:"details,omitempty"`
}
