/*
inventory.go - Append-only can inventory

PURPOSE:
  Inventory is a log of immutable snapshots. Adding or removing cans never
  edits the current snapshot: a new one is derived from it and inserted,
  together with an InventoryChange row describing the operation.

  current = latest snapshot
  next    = current ± quantity (total and available), withCustomers carried

BOOTSTRAP:
  Before any snapshot exists, CurrentInventory seeds one from the cans
  customers hold: total = withCustomers = sum(cansInPossession), available = 0.
  AdjustInventory never bootstraps; it fails with ErrNoInventoryRecord.

HISTORY:
  InventoryHistory is a read-only view: recent snapshots, each paired with
  its difference to the snapshot immediately before it.
*/
package ledger

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
)

type InventoryService struct {
	Store TxStore
	Env
}

func NewInventoryService(store TxStore, env Env) *InventoryService {
	return &InventoryService{Store: store, Env: env.withDefaults()}
}

type AdjustInventoryInput struct {
	Operation InventoryOperation
	Quantity  int64
	Reason    string
	ActorID   string
}

type InventoryAdjustment struct {
	Previous InventorySnapshot
	Snapshot InventorySnapshot
	Change   InventoryChange
}

// AdjustInventory adds or removes cans by appending a new snapshot.
func (s *InventoryService) AdjustInventory(ctx context.Context, in AdjustInventoryInput) (*InventoryAdjustment, error) {
	if !in.Operation.Valid() {
		return nil, ErrInvalidOperation
	}
	if in.Quantity < 1 {
		return nil, &InvalidQuantityError{Quantity: in.Quantity}
	}
	reason := in.Reason
	if reason == "" {
		if in.Operation == InventoryAdd {
			reason = fmt.Sprintf("Added %d cans", in.Quantity)
		} else {
			reason = fmt.Sprintf("Removed %d cans", in.Quantity)
		}
	}

	var result InventoryAdjustment
	err := runUnit(ctx, s.Store, "adjust inventory", func(st Store) error {
		current, err := st.LatestSnapshot(ctx)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrNoInventoryRecord
		}

		total, available := current.TotalCans, current.AvailableCans
		switch in.Operation {
		case InventoryAdd:
			if total > math.MaxInt64-in.Quantity {
				return &InvalidQuantityError{Quantity: in.Quantity, Max: math.MaxInt64 - total, Bounded: true}
			}
			total += in.Quantity
			available += in.Quantity
		case InventoryRemove:
			if available < in.Quantity {
				return &InsufficientStockError{Available: available, Requested: in.Quantity}
			}
			total -= in.Quantity
			available -= in.Quantity
		}
		if total < 0 {
			// Available cans are a subset of the total; a negative total means
			// the log is already inconsistent.
			return &InsufficientStockError{Available: current.TotalCans, Requested: in.Quantity}
		}

		now := s.Now()
		next, err := st.AppendSnapshot(ctx, InventorySnapshot{
			ID:                SnapshotID(s.NewID()),
			TotalCans:         total,
			AvailableCans:     available,
			CansWithCustomers: current.CansWithCustomers,
			UpdatedBy:         in.ActorID,
			CreatedAt:         now,
		})
		if err != nil {
			return err
		}

		change := InventoryChange{
			ID:                s.NewID(),
			SnapshotID:        next.ID,
			Operation:         in.Operation,
			Quantity:          in.Quantity,
			Reason:            reason,
			PreviousTotal:     current.TotalCans,
			NewTotal:          total,
			PreviousAvailable: current.AvailableCans,
			NewAvailable:      available,
			PerformedBy:       in.ActorID,
			CreatedAt:         now,
		}
		if err := st.AppendInventoryChange(ctx, change); err != nil {
			return err
		}

		result = InventoryAdjustment{Previous: *current, Snapshot: next, Change: change}
		return nil
	})
	if err != nil {
		s.Logger.Debug("inventory adjustment rejected",
			zap.String("operation", string(in.Operation)),
			zap.Int64("quantity", in.Quantity),
			zap.Error(err))
		return nil, err
	}

	s.Logger.Info("inventory adjusted",
		zap.String("operation", string(in.Operation)),
		zap.Int64("quantity", in.Quantity),
		zap.Int64("total_cans", result.Snapshot.TotalCans),
		zap.Int64("available_cans", result.Snapshot.AvailableCans),
		zap.String("actor_id", in.ActorID))
	return &result, nil
}

// CurrentInventory returns the latest snapshot, seeding the log first when
// it is empty.
func (s *InventoryService) CurrentInventory(ctx context.Context, actorID string) (*InventorySnapshot, error) {
	var current InventorySnapshot
	err := runUnit(ctx, s.Store, "current inventory", func(st Store) error {
		latest, err := st.LatestSnapshot(ctx)
		if err != nil {
			return err
		}
		if latest != nil {
			current = *latest
			return nil
		}

		withCustomers, err := st.SumCansInPossession(ctx)
		if err != nil {
			return err
		}
		seeded, err := st.AppendSnapshot(ctx, InventorySnapshot{
			ID:                SnapshotID(s.NewID()),
			TotalCans:         withCustomers,
			AvailableCans:     0,
			CansWithCustomers: withCustomers,
			UpdatedBy:         actorID,
			CreatedAt:         s.Now(),
		})
		if err != nil {
			return err
		}
		s.Logger.Info("inventory bootstrapped",
			zap.Int64("cans_with_customers", withCustomers),
			zap.String("actor_id", actorID))
		current = seeded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &current, nil
}

// =============================================================================
// HISTORY
// =============================================================================

const (
	defaultInventoryHistory = 10
	maxInventoryHistory     = 100
)

// InventoryHistoryEntry pairs a snapshot with its difference to the
// preceding snapshot. Delta is nil for the first snapshot ever recorded.
type InventoryHistoryEntry struct {
	Snapshot InventorySnapshot
	Delta    *InventoryDelta
}

// InventoryHistory returns the limit most recent snapshots, newest first.
func (s *InventoryService) InventoryHistory(ctx context.Context, limit int) ([]InventoryHistoryEntry, error) {
	if limit <= 0 {
		limit = defaultInventoryHistory
	}
	if limit > maxInventoryHistory {
		limit = maxInventoryHistory
	}

	// One extra snapshot gives the oldest entry in the window its predecessor.
	snaps, err := s.Store.RecentSnapshots(ctx, limit+1)
	if err != nil {
		return nil, storeError("inventory history", err)
	}

	n := len(snaps)
	if n > limit {
		n = limit
	}
	entries := make([]InventoryHistoryEntry, 0, n)
	for i := 0; i < n; i++ {
		entry := InventoryHistoryEntry{Snapshot: snaps[i]}
		if i+1 < len(snaps) {
			d := snaps[i].DeltaFrom(snaps[i+1])
			entry.Delta = &d
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
