/*
scenarios.go - Demo data loaders

PURPOSE:
  Seeds a fresh database with a recognisable shop so the frontend has
  something to show. Every loader goes through the ledger services, so
  seeded data obeys the same rules as live data: every balance has its
  transactions and every inventory figure has its snapshot.

SCENARIOS:
  starter-shop     Stocked warehouse, three customers, orders in each state
  debt-collection  Customers carrying debt from before the ledger existed
  low-stock        Few cans left and deliveries queued

LOADING:
  LoadScenario resets the store first. It is meant for demo deployments.
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/watercan/ledger-engine/access"
	"github.com/watercan/ledger-engine/ledger"
)

// scenarioActor is recorded as the author of seeded records.
const scenarioActor = "demo-loader"

var scenarios = []ScenarioDTO{
	{
		ID:          "starter-shop",
		Name:        "Starter Shop",
		Description: "Stocked warehouse, three customers, orders pending, confirmed and delivered",
	},
	{
		ID:          "debt-collection",
		Name:        "Debt Collection",
		Description: "Customers carrying debt from paper records, partial payments collected",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "Few cans left in the warehouse with deliveries queued",
	},
}

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request, _ access.Caller) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request, _ access.Caller) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request, caller access.Caller) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := strings.ToLower(strings.TrimSpace(req.ScenarioID))
	load, ok := scenarioLoaders[id]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeServiceError(w, r, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx, h.Services); err != nil {
		h.writeServiceError(w, r, fmt.Sprintf("Failed to load scenario %s", id), err)
		return
	}
	h.currentScenario = id

	h.Logger.Info("scenario loaded",
		zap.String("scenario", id),
		zap.String("actor_id", caller.ID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": id})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var scenarioLoaders = map[string]func(context.Context, *ledger.Services) error{
	"starter-shop":    loadStarterShop,
	"debt-collection": loadDebtCollection,
	"low-stock":       loadLowStock,
}

type seedCustomer struct {
	id, name, address, phone, email string
	opening                         int64
}

func seedCustomers(ctx context.Context, svc *ledger.Services, customers []seedCustomer) error {
	for _, c := range customers {
		_, err := svc.Customers.Create(ctx, ledger.CreateCustomerInput{
			ID:             ledger.CustomerID(c.id),
			Name:           c.name,
			Address:        c.address,
			Phone:          c.phone,
			Email:          c.email,
			OpeningBalance: c.opening,
			ActorID:        scenarioActor,
		})
		if err != nil {
			return fmt.Errorf("customer %s: %w", c.id, err)
		}
	}
	return nil
}

func seedStock(ctx context.Context, svc *ledger.Services, cans int64) error {
	if _, err := svc.Inventory.CurrentInventory(ctx, scenarioActor); err != nil {
		return err
	}
	_, err := svc.Inventory.AdjustInventory(ctx, ledger.AdjustInventoryInput{
		Operation: ledger.InventoryAdd,
		Quantity:  cans,
		Reason:    "Opening stock",
		ActorID:   scenarioActor,
	})
	return err
}

// seedOrder places an order daysAgo days back and moves it to status.
func seedOrder(ctx context.Context, svc *ledger.Services, customer string, qty int64, daysAgo int, status ledger.OrderStatus) error {
	at := time.Now().UTC().AddDate(0, 0, -daysAgo)
	res, err := svc.Orders.PlaceOrder(ctx, ledger.PlaceOrderInput{
		CustomerID:  ledger.CustomerID(customer),
		Quantity:    qty,
		RequestedAt: &at,
		ActorID:     scenarioActor,
	})
	if err != nil {
		return fmt.Errorf("order for %s: %w", customer, err)
	}
	if status == ledger.OrderPending {
		return nil
	}
	in := ledger.UpdateOrderStatusInput{OrderID: res.Order.ID, Status: status}
	if status == ledger.OrderDelivered {
		delivered := at.Add(6 * time.Hour)
		in.DeliveryDate = &delivered
	}
	_, err = svc.Orders.UpdateOrderStatus(ctx, in)
	return err
}

func seedPayment(ctx context.Context, svc *ledger.Services, customer string, amount int64, description string) error {
	_, err := svc.Balance.AdjustBalance(ctx, ledger.AdjustBalanceInput{
		CustomerID:  ledger.CustomerID(customer),
		Amount:      amount,
		Kind:        ledger.TxCredit,
		Description: description,
		ActorID:     scenarioActor,
	})
	return err
}

func loadStarterShop(ctx context.Context, svc *ledger.Services) error {
	if err := seedStock(ctx, svc, 200); err != nil {
		return err
	}
	err := seedCustomers(ctx, svc, []seedCustomer{
		{"cust-anita", "Anita Rao", "14 Lake View Road", "555-0101", "anita@example.com", 600},
		{"cust-bilal", "Bilal Khan", "3 Mill Lane", "555-0102", "bilal@example.com", 450},
		{"cust-chen", "Chen Wei", "88 Harbour Street", "555-0103", "", 300},
	})
	if err != nil {
		return err
	}

	orders := []struct {
		customer string
		qty      int64
		daysAgo  int
		status   ledger.OrderStatus
	}{
		{"cust-anita", 4, 12, ledger.OrderDelivered},
		{"cust-bilal", 2, 9, ledger.OrderDelivered},
		{"cust-anita", 3, 5, ledger.OrderDelivered},
		{"cust-chen", 5, 2, ledger.OrderConfirmed},
		{"cust-bilal", 2, 0, ledger.OrderPending},
	}
	for _, o := range orders {
		if err := seedOrder(ctx, svc, o.customer, o.qty, o.daysAgo, o.status); err != nil {
			return err
		}
	}

	_, err = svc.Orders.ProcessCanReturn(ctx, ledger.CanReturnInput{
		CustomerID: "cust-anita",
		Quantity:   4,
		ActorID:    scenarioActor,
	})
	return err
}

func loadDebtCollection(ctx context.Context, svc *ledger.Services) error {
	if err := seedStock(ctx, svc, 120); err != nil {
		return err
	}
	err := seedCustomers(ctx, svc, []seedCustomer{
		{"cust-devi", "Devi Menon", "5 Temple Street", "555-0201", "", -240},
		{"cust-emeka", "Emeka Obi", "21 Station Road", "555-0202", "emeka@example.com", -90},
		{"cust-farah", "Farah Aziz", "9 Garden Close", "555-0203", "farah@example.com", 500},
	})
	if err != nil {
		return err
	}
	if err := seedPayment(ctx, svc, "cust-devi", 100, "Partial payment"); err != nil {
		return err
	}
	if err := seedPayment(ctx, svc, "cust-emeka", 90, "Settled paper balance"); err != nil {
		return err
	}
	return seedOrder(ctx, svc, "cust-farah", 6, 3, ledger.OrderDelivered)
}

func loadLowStock(ctx context.Context, svc *ledger.Services) error {
	if err := seedStock(ctx, svc, 12); err != nil {
		return err
	}
	err := seedCustomers(ctx, svc, []seedCustomer{
		{"cust-gita", "Gita Sharma", "17 Hill Road", "555-0301", "gita@example.com", 900},
		{"cust-hari", "Hari Prasad", "2 Canal Walk", "555-0302", "", 900},
	})
	if err != nil {
		return err
	}
	for _, o := range []struct {
		customer string
		qty      int64
	}{{"cust-gita", 6}, {"cust-hari", 8}, {"cust-gita", 4}} {
		if err := seedOrder(ctx, svc, o.customer, o.qty, 0, ledger.OrderPending); err != nil {
			return err
		}
	}
	_, err = svc.Inventory.AdjustInventory(ctx, ledger.AdjustInventoryInput{
		Operation: ledger.InventoryRemove,
		Quantity:  7,
		Reason:    "Damaged cans",
		ActorID:   scenarioActor,
	})
	return err
}
