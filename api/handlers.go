/*
handlers.go - HTTP API handlers for the water-can ledger

ENDPOINTS:
  Customers:
    GET    /api/customers/me                  Caller's profile with order stats
    GET    /api/customers                     List customers (owner)
    POST   /api/customers                     Create customer (owner)
    GET    /api/customers/{id}                Get customer (owner)
    PATCH  /api/customers/{id}                Update profile (self or owner)
    POST   /api/customers/{id}/balance        Credit or debit (owner)
    GET    /api/customers/{id}/transactions   Transaction history (self or owner)
    GET    /api/customers/{id}/reconcile      Balance vs. ledger check (owner)

  Orders:
    POST   /api/orders                        Place order
    GET    /api/orders                        All orders (owner)
    GET    /api/orders/user                   Caller's orders
    GET    /api/orders/{id}                   One order (self or owner)
    PATCH  /api/orders/{id}/status            Status / delivery date (owner)
    POST   /api/orders/return                 Can return (owner)

  Inventory:
    GET    /api/inventory/status              Current snapshot
    POST   /api/inventory/update              Add or remove cans (owner)
    GET    /api/inventory/history             Recent snapshots with deltas (owner)

  Dashboard:
    GET    /api/dashboard/summary             Owner dashboard figures

REQUEST FLOW:
  1. Guard.Authenticate turns the Authorization header into an access.Caller
  2. The wrapper passes the Caller explicitly to the handler
  3. The handler decodes input and calls one ledger service
  4. Errors are mapped by category, never by message

ERROR HANDLING:
  - 400: validation (bad amount, quantity, enum value, body)
  - 401: missing or unknown credential
  - 403: role or ownership check failed
  - 404: customer, order or inventory record missing
  - 409: duplicate customer, concurrent modification
  - 422: business rule (insufficient balance or stock, illegal transition)
  - 500: store failure (details are logged, not returned)
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/watercan/ledger-engine/access"
	"github.com/watercan/ledger-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Maintenance is the part of the store the API uses outside the services.
type Maintenance interface {
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Services *ledger.Services
	Guard    *access.Guard
	Store    Maintenance
	Logger   *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(services *ledger.Services, guard *access.Guard, store Maintenance, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Services: services,
		Guard:    guard,
		Store:    store,
		Logger:   logger,
	}
}

// callerHandler is an HTTP handler that runs for an authenticated caller.
type callerHandler func(w http.ResponseWriter, r *http.Request, caller access.Caller)

// authed authenticates the request and hands the caller to next.
func (h *Handler) authed(next callerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := h.Guard.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			h.writeAccessError(w, r, err)
			return
		}
		next(w, r, caller)
	}
}

// ownerOnly is authed plus an owner role check.
func (h *Handler) ownerOnly(next callerHandler) http.HandlerFunc {
	return h.authed(func(w http.ResponseWriter, r *http.Request, caller access.Caller) {
		if !caller.IsOwner() {
			writeError(w, http.StatusForbidden, "Owner access required", nil)
			return
		}
		next(w, r, caller)
	})
}

// Healthz reports whether the store answers.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.Logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// GetMyProfile returns the caller's customer record with order statistics.
func (h *Handler) GetMyProfile(w http.ResponseWriter, r *http.Request, caller access.Caller) {
	profile, err := h.Services.Customers.Profile(r.Context(), caller.CustomerID())
	if err != nil {
		h.writeServiceError(w, r, "Failed to fetch customer profile", err)
		return
	}
	writeJSON(w, http.StatusOK, CustomerProfileDTO{
		CustomerDTO:   toCustomerDTO(profile.Customer),
		TotalOrders:   profile.TotalOrders,
		LastOrderDate: profile.LastOrderDate,
	})
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request, _ access.Caller) {
	q := r.URL.Query()
	customers, err := h.Services.Customers.List(r.Context(), ledger.CustomerFilter{
		Status: ledger.CustomerStatus(q.Get("status")),
		Search: q.Get("search"),
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to fetch customers", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTOs(customers))
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request, _ access.Caller) {
	customer, err := h.Services.Customers.Get(r.Context(), customerIDParam(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to fetch customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(*customer))
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request, caller access.Caller) {
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var opening int64
	if req.Balance != nil {
		var err error
		if opening, err = ledger.ParseOpeningBalance(*req.Balance); err != nil {
			h.writeServiceError(w, r, "Invalid opening balance", err)
			return
		}
	}

	customer, err := h.Services.Customers.Create(r.Context(), ledger.CreateCustomerInput{
		ID:             ledger.CustomerID(req.ID),
		Name:           req.Name,
		Address:        req.Address,
		Phone:          req.Phone,
		Email:          req.Email,
		OpeningBalance: opening,
		ActorID:        caller.ID,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(*customer))
}

// UpdateCustomer changes profile fields. A customer updating their own
// missing record creates it.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request, caller access.Caller) {
	id := customerIDParam(r)
	if !caller.CanAccessCustomer(id) {
		writeError(w, http.StatusForbidden, "You can only update your own profile", nil)
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := ledger.UpdateProfileInput{
		CustomerID: id,
		Name:       req.Name,
		Address:    req.Address,
		Phone:      req.Phone,
		Email:      req.Email,
	}
	if caller.CustomerID() == id {
		in.CreateIfMissing = true
		in.DefaultName = caller.Name
		in.DefaultEmail = caller.Email
	}

	customer, created, err := h.Services.Customers.UpdateProfile(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, "Failed to update customer profile", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toCustomerDTO(*customer))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request, caller access.Caller) {
	var req AdjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		h.writeServiceError(w, r, "Invalid amount", err)
		return
	}

	result, err := h.Services.Balance.AdjustBalance(r.Context(), ledger.AdjustBalanceInput{
		CustomerID:  customerIDParam(r),
		Amount:      amount,
		Kind:        ledger.TxType(req.Type),
		Description: req.Description,
		ActorID:     caller.ID,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to update balance", err)
		return
	}
	writeJSON(w, http.StatusOK, AdjustBalanceResponse{
		Transaction: toTransactionDTO(result.Transaction),
		NewBalance:  result.NewBalance,
	})
}

// GetTransactions returns one page of history.
// Query: page, limit, type (credit|debit), startDate, endDate.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request, caller access.Caller) {
	id := customerIDParam(r)
	if !caller.CanAccessCustomer(id) {
		writeError(w, http.StatusForbidden, "You can only view your own transactions", nil)
		return
	}

	q := r.URL.Query()
	page, err := intParam(q.Get("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page", err)
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	from, err := dateParam(q.Get("startDate"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid startDate (use YYYY-MM-DD or RFC 3339)", err)
		return
	}
	to, err := dateParam(q.Get("endDate"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid endDate (use YYYY-MM-DD or RFC 3339)", err)
		return
	}

	result, err := h.Services.Balance.TransactionHistory(r.Context(), ledger.TransactionFilter{
		CustomerID: id,
		Type:       ledger.TxType(q.Get("type")),
		From:       from,
		To:         to,
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to fetch transactions", err)
		return
	}

	txs := make([]TransactionDTO, 0, len(result.Transactions))
	for _, t := range result.Transactions {
		txs = append(txs, toTransactionDTO(t))
	}
	writeJSON(w, http.StatusOK, TransactionPageDTO{
		Transactions: txs,
		Pagination: PaginationDTO{
			Total: result.Pagination.Total,
			Page:  result.Pagination.Page,
			Pages: result.Pagination.Pages,
			Limit: result.Pagination.Limit,
		},
	})
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request, _ access.Caller) {
	rec, err := h.Services.Balance.Reconcile(r.Context(), customerIDParam(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to reconcile balance", err)
		return
	}
	writeJSON(w, http.StatusOK, ReconciliationDTO{
		CustomerID:   string(rec.CustomerID),
		Balance:      rec.Balance,
		LedgerSum:    rec.LedgerSum,
		Transactions: rec.Transactions,
		Consistent:   rec.Consistent,
	})
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// PlaceOrder orders for the caller, or for userId when the caller is an owner.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request, caller access.Caller) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	target := caller.CustomerID()
	name, email := caller.Name, caller.Email
	if req.UserID != "" && ledger.CustomerID(req.UserID) != target {
		if !caller.IsOwner() {
			writeError(w, http.StatusForbidden, "You can only place orders for yourself", nil)
			return
		}
		target = ledger.CustomerID(req.UserID)
		name, email = "", ""
	}
	if req.Name != "" {
		name = req.Name
	}
	if req.Email != "" {
		email = req.Email
	}

	result, err := h.Services.Orders.PlaceOrder(r.Context(), ledger.PlaceOrderInput{
		CustomerID:  target,
		Quantity:    req.Quantity,
		RequestedAt: req.OrderDate,
		Name:        name,
		Email:       email,
		ActorID:     caller.ID,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, PlaceOrderResponse{
		Order:           toOrderDTO(result.Order),
		NewBalance:      result.NewBalance,
		CustomerCreated: result.CustomerCreated,
	})
}

// ListOrders returns every order. Query: status, limit, startDate, endDate.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request, _ access.Caller) {
	filter, err := orderFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order filter", err)
		return
	}
	orders, err := h.Services.Orders.AllOrders(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to fetch orders", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTOs(orders))
}

func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request, caller access.Caller) {
	filter, err := orderFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order filter", err)
		return
	}
	orders, err := h.Services.Orders.UserOrders(r.Context(), caller.CustomerID(), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to fetch orders", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTOs(orders))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request, caller access.Caller) {
	order, err := h.Services.Orders.GetOrder(r.Context(), ledger.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to fetch order", err)
		return
	}
	if !caller.CanAccessCustomer(order.UserID) {
		writeError(w, http.StatusForbidden, "You can only view your own orders", nil)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(*order))
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request, _ access.Caller) {
	var req UpdateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	order, err := h.Services.Orders.UpdateOrderStatus(r.Context(), ledger.UpdateOrderStatusInput{
		OrderID:      ledger.OrderID(chi.URLParam(r, "id")),
		Status:       ledger.OrderStatus(req.Status),
		DeliveryDate: req.DeliveryDate,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to update order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(*order))
}

func (h *Handler) ProcessCanReturn(w http.ResponseWriter, r *http.Request, caller access.Caller) {
	var req CanReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Services.Orders.ProcessCanReturn(r.Context(), ledger.CanReturnInput{
		CustomerID: ledger.CustomerID(req.CustomerID),
		Quantity:   req.Quantity,
		ActorID:    caller.ID,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to process can return", err)
		return
	}
	writeJSON(w, http.StatusOK, CanReturnResponse{
		CustomerID:    string(result.CustomerID),
		Returned:      result.Returned,
		CansRemaining: result.CansRemaining,
	})
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

func (h *Handler) GetInventoryStatus(w http.ResponseWriter, r *http.Request, caller access.Caller) {
	snap, err := h.Services.Inventory.CurrentInventory(r.Context(), caller.ID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to fetch inventory status", err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryDTO(*snap))
}

func (h *Handler) AdjustInventory(w http.ResponseWriter, r *http.Request, caller access.Caller) {
	var req AdjustInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	adj, err := h.Services.Inventory.AdjustInventory(r.Context(), ledger.AdjustInventoryInput{
		Operation: ledger.InventoryOperation(req.Operation),
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		ActorID:   caller.ID,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to update inventory", err)
		return
	}
	writeJSON(w, http.StatusOK, InventoryAdjustmentResponse{
		Previous: toInventoryDTO(adj.Previous),
		Current:  toInventoryDTO(adj.Snapshot),
		Change:   toInventoryChangeDTO(adj.Change),
	})
}

// GetInventoryHistory returns recent snapshots. Query: limit.
func (h *Handler) GetInventoryHistory(w http.ResponseWriter, r *http.Request, _ access.Caller) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	entries, err := h.Services.Inventory.InventoryHistory(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, "Failed to fetch inventory history", err)
		return
	}

	out := make([]InventoryHistoryEntryDTO, 0, len(entries))
	for _, e := range entries {
		dto := InventoryHistoryEntryDTO{InventoryDTO: toInventoryDTO(e.Snapshot)}
		if e.Delta != nil {
			dto.Changes = &InventoryDeltaDTO{
				TotalDiff:         e.Delta.TotalDiff,
				AvailableDiff:     e.Delta.AvailableDiff,
				WithCustomersDiff: e.Delta.WithCustomersDiff,
			}
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// DASHBOARD
// =============================================================================

func (h *Handler) GetDashboardSummary(w http.ResponseWriter, r *http.Request, _ access.Caller) {
	summary, err := h.Services.Summary.Summary(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Failed to fetch dashboard summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardSummaryDTO(*summary))
}

// =============================================================================
// HELPERS
// =============================================================================

func customerIDParam(r *http.Request) ledger.CustomerID {
	return ledger.CustomerID(chi.URLParam(r, "id"))
}

// orderFilter reads status, limit, startDate and endDate. Dates bound the
// order date and take the same forms as transaction history.
func orderFilter(r *http.Request) (ledger.OrderFilter, error) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		return ledger.OrderFilter{}, fmt.Errorf("limit: %w", err)
	}
	from, err := dateParam(q.Get("startDate"), false)
	if err != nil {
		return ledger.OrderFilter{}, fmt.Errorf("startDate: %w", err)
	}
	to, err := dateParam(q.Get("endDate"), true)
	if err != nil {
		return ledger.OrderFilter{}, fmt.Errorf("endDate: %w", err)
	}
	return ledger.OrderFilter{
		Status: ledger.OrderStatus(q.Get("status")),
		From:   from,
		To:     to,
		Limit:  limit,
	}, nil
}

// intParam parses an optional non-negative integer query value.
func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}

// dateParam parses YYYY-MM-DD or RFC 3339. A bare date used as an upper
// bound covers the whole day.
func dateParam(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps a ledger error category to an HTTP status.
func statusFor(err error) int {
	switch ledger.Categorize(err) {
	case ledger.CategoryValidation:
		return http.StatusBadRequest
	case ledger.CategoryNotFound:
		return http.StatusNotFound
	case ledger.CategoryBusinessRule:
		return http.StatusUnprocessableEntity
	case ledger.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports a ledger error. Store failures are logged and
// their details withheld from the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: message, Category: string(ledger.Categorize(err))}
	if status == http.StatusInternalServerError {
		h.Logger.Error(message,
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	} else {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func (h *Handler) writeAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
	case errors.Is(err, access.ErrForbidden):
		writeError(w, http.StatusForbidden, "Access denied", nil)
	default:
		h.Logger.Error("authentication failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Authentication unavailable", nil)
	}
}

