package pharmacy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/internal/platform/workflow"
)

func TestAddInventoryItem_PostsOpeningStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.WithValue(context.Background(), db.BranchIDKey, 2)
	it := &InventoryItem{
		Name:         "Metformin 500mg",
		ExpiryDate:   testNow.AddDate(2, 0, 0),
		Quantity:     200,
		ReorderLevel: 50,
		UnitPrice:    4,
		Location:     "main",
	}
	if err := env.svc.AddInventoryItem(ctx, it, "pharm-3"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if it.ID == uuid.Nil || it.BranchID != 2 {
		t.Errorf("expected id and branch 2, got %+v", it)
	}
	ins := env.movements.ofType(MovementIn)
	if len(ins) != 1 || ins[0].Quantity != 200 || ins[0].Reason != "Opening stock" {
		t.Errorf("unexpected opening movement %+v", ins)
	}

	empty := &InventoryItem{Name: "Insulin glargine", ExpiryDate: testNow.AddDate(1, 0, 0)}
	env.svc.AddInventoryItem(ctx, empty, "pharm-3")
	if len(env.movements.items) != 1 {
		t.Error("zero opening stock should not post a movement")
	}
}

func TestAddInventoryItem_Validation(t *testing.T) {
	env := newTestEnv(t)
	for _, it := range []*InventoryItem{
		{ExpiryDate: testNow},
		{Name: "Ceftriaxone"},
		{Name: "Ceftriaxone", ExpiryDate: testNow, Quantity: -1},
		{Name: "Ceftriaxone", ExpiryDate: testNow, UnitPrice: -3},
	} {
		if err := env.svc.AddInventoryItem(context.Background(), it, "pharm-3"); err == nil {
			t.Errorf("expected validation error for %+v", it)
		}
	}
}

func TestUpdateInventoryItem_KeepsQuantity(t *testing.T) {
	env := newTestEnv(t)
	it := env.stock("Amoxicillin 500mg", "main", 40, 10, 12.5)
	price, loc := 14.0, "store"
	got, err := env.svc.UpdateInventoryItem(context.Background(), it.ID, InventoryUpdate{UnitPrice: &price, Location: &loc})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.UnitPrice != 14 || got.Location != "store" || got.Quantity != 40 {
		t.Errorf("unexpected item %+v", got)
	}
	if env.inventory.locks != 1 || env.tx.calls == 0 {
		t.Errorf("expected a locked read in a transaction, locks=%d tx=%d", env.inventory.locks, env.tx.calls)
	}
	blank := ""
	if _, err := env.svc.UpdateInventoryItem(context.Background(), it.ID, InventoryUpdate{Name: &blank}); err == nil {
		t.Error("expected name required")
	}
}

func TestAdjustStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	it := env.stock("Amoxicillin 500mg", "main", 12, 10, 12.5)

	got, err := env.svc.AdjustStock(ctx, it.ID, -3, "Damaged blister packs", "pharm-3")
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if got.Quantity != 9 {
		t.Errorf("expected 9, got %d", got.Quantity)
	}
	adj := env.movements.ofType(MovementAdjustment)
	if len(adj) != 1 || adj[0].Quantity != -3 || !adj[0].PerformedAt.Equal(testNow) {
		t.Errorf("unexpected adjustment %+v", adj)
	}
	if len(env.notifier.toasts) != 1 {
		t.Error("expected low stock toast after adjusting below reorder level")
	}

	if _, err := env.svc.AdjustStock(ctx, it.ID, -10, "Count correction", "pharm-3"); !errors.Is(err, ErrOutOfStock) {
		t.Errorf("expected ErrOutOfStock, got %v", err)
	}
	if _, err := env.svc.AdjustStock(ctx, it.ID, 0, "noop", "pharm-3"); err == nil {
		t.Error("expected nonzero error")
	}
	if _, err := env.svc.AdjustStock(ctx, it.ID, 2, "", "pharm-3"); err == nil {
		t.Error("expected reason required")
	}
	if _, err := env.svc.AdjustStock(ctx, uuid.New(), 2, "x", "pharm-3"); !db.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestReceiveStock(t *testing.T) {
	env := newTestEnv(t)
	it := env.stock("Amoxicillin 500mg", "main", 5, 10, 12.5)
	got, err := env.svc.ReceiveStock(context.Background(), it.ID, 100, "", "GRN-204", "pharm-3")
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got.Quantity != 105 {
		t.Errorf("expected 105, got %d", got.Quantity)
	}
	ins := env.movements.ofType(MovementIn)
	if len(ins) != 1 || ins[0].Reason != "Stock received" || ins[0].Reference != "GRN-204" {
		t.Errorf("unexpected receipt %+v", ins)
	}
	if len(env.notifier.toasts) != 0 {
		t.Error("receipts should not raise low stock notices")
	}
	if _, err := env.svc.ReceiveStock(context.Background(), it.ID, 0, "", "", "pharm-3"); err == nil {
		t.Error("expected positive quantity error")
	}
}

func TestReorderReport(t *testing.T) {
	env := newTestEnv(t)
	env.stock("Amoxicillin 500mg", "main", 5, 10, 12.5)
	env.stock("Paracetamol", "main", 10, 10, 2)
	env.stock("Metformin 500mg", "main", 300, 50, 4)

	items, err := env.svc.ReorderReport(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items at or below reorder level, got %d", len(items))
	}
	for _, it := range items {
		if it.Name == "Metformin 500mg" {
			t.Error("metformin is well stocked")
		}
	}

	empty := newTestEnv(t)
	items, _ = empty.svc.ReorderReport(context.Background())
	if items == nil || len(items) != 0 {
		t.Error("expected an empty, non-nil report")
	}
}

func TestExpiryReport(t *testing.T) {
	env := newTestEnv(t)
	expired := env.stock("Amoxicillin 500mg", "main", 5, 1, 12.5)
	env.inventory.items[expired.ID].ExpiryDate = testNow.AddDate(0, 0, -3)
	soon := env.stock("Paracetamol", "main", 10, 1, 2)
	env.inventory.items[soon.ID].ExpiryDate = testNow.AddDate(0, 2, 0)
	later := env.stock("Metformin 500mg", "main", 300, 1, 4)
	env.inventory.items[later.ID].ExpiryDate = testNow.AddDate(0, 5, 0)

	items, err := env.svc.ExpiryReport(context.Background(), 0)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items within 3 months, got %d", len(items))
	}
	if items[0].ID != expired.ID || !items[0].IsExpired || !items[0].IsExpiringSoon {
		t.Errorf("expected expired amoxicillin first, got %+v", items[0])
	}
	if items[1].IsExpired || !items[1].IsExpiringSoon {
		t.Errorf("paracetamol is expiring, not expired: %+v", items[1])
	}

	items, _ = env.svc.ExpiryReport(context.Background(), 6)
	if len(items) != 3 {
		t.Errorf("expected 3 items within 6 months, got %d", len(items))
	}
}

func TestStockMovementSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	amox := env.stock("Amoxicillin 500mg", "main", 50, 10, 12.5)
	env.stock("Paracetamol", "main", 10, 1, 2)

	env.svc.ReceiveStock(ctx, amox.ID, 30, "Delivery", "GRN-1", "pharm-3")
	env.svc.AdjustStock(ctx, amox.ID, -4, "Expired", "pharm-3")
	env.svc.AdjustStock(ctx, amox.ID, 1, "Found in store", "pharm-3")
	rx := amoxicillinRx()
	env.svc.CreatePrescription(ctx, rx)
	env.svc.DispenseMedication(ctx, rx.ID, 0, 15, "pharm-3")

	from, to := testNow.Add(-time.Hour), testNow.Add(time.Hour)
	out, err := env.svc.StockMovementSummary(ctx, &amox.ID, from, to)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one item, got %d", len(out))
	}
	s := out[0]
	if s.Received != 30 || s.Dispensed != 15 || s.Adjusted != 3 || s.Transferred != 0 {
		t.Errorf("unexpected totals %+v", s)
	}
	if s.ClosingBalance != 62 || s.OpeningBalance != 50 {
		t.Errorf("expected 50 -> 62, got %d -> %d", s.OpeningBalance, s.ClosingBalance)
	}

	all, _ := env.svc.StockMovementSummary(ctx, nil, from, to)
	if len(all) != 2 {
		t.Errorf("expected a row per item, got %d", len(all))
	}
	if _, err := env.svc.StockMovementSummary(ctx, nil, to, from); err == nil {
		t.Error("expected reversed range error")
	}
}

// -- Stock takes --

func TestStockTake_CompleteAdjustsToCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	amox := env.stock("Amoxicillin 500mg", "main", 50, 10, 12.5)
	para := env.stock("Paracetamol", "main", 80, 10, 2)
	env.stock("Metformin 500mg", "store", 300, 50, 4)

	st, err := env.svc.CreateStockTake(ctx, StockTakeInput{Name: "March count", Location: "main", ConductedBy: "pharm-3"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(st.Items) != 2 || st.Status != StockTakeInProgress {
		t.Fatalf("expected two items at main, got %+v", st)
	}

	if _, err := env.svc.CompleteStockTake(ctx, st.ID, "pharm-3"); err == nil {
		t.Error("completing with uncounted items should fail")
	}

	got, err := env.svc.RecordCount(ctx, st.ID, amox.ID, 47, "three packs missing")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if line := got.item(amox.ID); line.Discrepancy != -3 || line.Notes != "three packs missing" {
		t.Errorf("unexpected line %+v", line)
	}
	env.svc.RecordCount(ctx, st.ID, para.ID, 80, "")

	// Stock moved after the snapshot; the count still wins.
	env.svc.ReceiveStock(ctx, amox.ID, 10, "Delivery", "", "pharm-3")

	done, err := env.svc.CompleteStockTake(ctx, st.ID, "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StockTakeCompleted || done.EndDate == nil {
		t.Errorf("expected completed with end date, got %+v", done)
	}
	if q := env.quantity(t, amox.ID); q != 47 {
		t.Errorf("expected amoxicillin set to 47, got %d", q)
	}
	adj := env.movements.ofType(MovementAdjustment)
	if len(adj) != 1 || adj[0].Quantity != -13 || adj[0].PerformedBy != "pharm-3" || adj[0].Reference != st.ID.String() {
		t.Errorf("unexpected adjustments %+v", adj)
	}

	if _, err := env.svc.RecordCount(ctx, st.ID, amox.ID, 40, ""); !errors.Is(err, ErrStockTakeClosed) {
		t.Errorf("expected ErrStockTakeClosed, got %v", err)
	}
	if _, err := env.svc.CompleteStockTake(ctx, st.ID, "pharm-3"); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStockTake_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	amox := env.stock("Amoxicillin 500mg", "main", 50, 10, 12.5)

	for _, in := range []StockTakeInput{
		{Location: "main", ConductedBy: "pharm-3"},
		{Name: "Count", Location: "main"},
		{Name: "Count", ConductedBy: "pharm-3"},
		{Name: "Count", Location: "ward-b", ConductedBy: "pharm-3"},
		{Name: "Count", ConductedBy: "pharm-3", ItemIDs: []uuid.UUID{uuid.New()}},
	} {
		if _, err := env.svc.CreateStockTake(ctx, in); err == nil {
			t.Errorf("expected error for %+v", in)
		}
	}

	st, err := env.svc.CreateStockTake(ctx, StockTakeInput{Name: "Spot check", ConductedBy: "pharm-3", ItemIDs: []uuid.UUID{amox.ID}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.RecordCount(ctx, st.ID, uuid.New(), 5, ""); !db.IsNotFound(err) {
		t.Errorf("expected not found for item off the sheet, got %v", err)
	}
	if _, err := env.svc.RecordCount(ctx, st.ID, amox.ID, -1, ""); err == nil {
		t.Error("expected negative count error")
	}

	items, total, _ := env.svc.ListStockTakes(ctx, StockTakeInProgress, 10, 0)
	if total != 1 || items[0].ID != st.ID {
		t.Errorf("expected the open stock take, got %d", total)
	}
	if _, _, err := env.svc.ListStockTakes(ctx, "paused", 10, 0); err == nil {
		t.Error("expected invalid status error")
	}
}

// -- Transfers --

func TestTransfer_InternalCreditsDestination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	amox := env.stock("Amoxicillin 500mg", "main", 50, 30, 12.5)

	tr := &Transfer{
		FromLocation: "main",
		ToLocation:   "ward-b",
		RequestedBy:  "nurse-9",
		Items:        []TransferItem{{ItemID: amox.ID, Quantity: 20}},
	}
	if err := env.svc.CreateTransfer(ctx, tr); err != nil {
		t.Fatalf("create: %v", err)
	}
	if tr.Status != TransferPending || tr.TransferType != TransferInternal || tr.Items[0].ItemName != "Amoxicillin 500mg" {
		t.Errorf("unexpected transfer %+v", tr)
	}

	done, err := env.svc.CompleteTransfer(ctx, tr.ID, "pharm-3")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != TransferCompleted || *done.CompletedBy != "pharm-3" {
		t.Errorf("unexpected completion %+v", done)
	}
	if q := env.quantity(t, amox.ID); q != 30 {
		t.Errorf("expected 30 left at main, got %d", q)
	}
	ward, err := env.inventory.FindByName(ctx, "amoxicillin 500MG", 0, "ward-b")
	if err != nil {
		t.Fatalf("expected a new item at ward-b: %v", err)
	}
	if ward.Quantity != 20 || ward.UnitPrice != 12.5 {
		t.Errorf("unexpected ward item %+v", ward)
	}
	if len(env.movements.ofType(MovementTransfer)) != 1 || len(env.movements.ofType(MovementIn)) != 1 {
		t.Errorf("expected transfer out and in, got %+v", env.movements.items)
	}
	if len(env.notifier.toasts) != 1 {
		t.Error("main is at its reorder level and should raise a notice")
	}

	// A second transfer tops up the existing ward item.
	again := &Transfer{FromLocation: "main", ToLocation: "ward-b", RequestedBy: "nurse-9",
		Items: []TransferItem{{ItemID: amox.ID, Quantity: 5}}}
	env.svc.CreateTransfer(ctx, again)
	if _, err := env.svc.CompleteTransfer(ctx, again.ID, "pharm-3"); err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	if q := env.quantity(t, ward.ID); q != 25 {
		t.Errorf("expected ward topped up to 25, got %d", q)
	}
}

func TestTransfer_ExternalOnlyDecrements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	amox := env.stock("Amoxicillin 500mg", "main", 50, 10, 12.5)

	tr := &Transfer{
		TransferType: TransferExternal,
		ToBranchID:   4,
		FromLocation: "main",
		ToLocation:   "main",
		RequestedBy:  "pharm-3",
		Items:        []TransferItem{{ItemID: amox.ID, Quantity: 10}},
	}
	if err := env.svc.CreateTransfer(ctx, tr); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.CompleteTransfer(ctx, tr.ID, "pharm-3"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if q := env.quantity(t, amox.ID); q != 40 {
		t.Errorf("expected 40, got %d", q)
	}
	if len(env.inventory.items) != 1 || len(env.movements.ofType(MovementIn)) != 0 {
		t.Error("external transfers should not credit any local item")
	}
}

func TestTransfer_ShortStockRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	amox := env.stock("Amoxicillin 500mg", "main", 5, 1, 12.5)
	tr := &Transfer{FromLocation: "main", ToLocation: "ward-b", RequestedBy: "nurse-9",
		Items: []TransferItem{{ItemID: amox.ID, Quantity: 8}}}
	env.svc.CreateTransfer(ctx, tr)

	if _, err := env.svc.CompleteTransfer(ctx, tr.ID, "pharm-3"); !errors.Is(err, ErrOutOfStock) {
		t.Errorf("expected ErrOutOfStock, got %v", err)
	}
	if env.transfers.items[tr.ID].Status != TransferPending {
		t.Error("transfer should stay pending")
	}
}

func TestTransfer_Validation(t *testing.T) {
	env := newTestEnv(t)
	amox := env.stock("Amoxicillin 500mg", "main", 5, 1, 12.5)
	line := []TransferItem{{ItemID: amox.ID, Quantity: 1}}
	for _, tr := range []*Transfer{
		{FromLocation: "main", ToLocation: "main", RequestedBy: "x", Items: line},
		{FromLocation: "main", RequestedBy: "x", Items: line},
		{FromLocation: "main", ToLocation: "ward-b", Items: line},
		{FromLocation: "main", ToLocation: "ward-b", RequestedBy: "x"},
		{FromLocation: "main", ToLocation: "ward-b", RequestedBy: "x", Items: []TransferItem{{ItemID: amox.ID}}},
		{FromLocation: "main", ToLocation: "ward-b", RequestedBy: "x", Items: []TransferItem{{ItemID: uuid.New(), Quantity: 1}}},
		{TransferType: "courier", FromLocation: "main", ToLocation: "ward-b", RequestedBy: "x", Items: line},
	} {
		if err := env.svc.CreateTransfer(context.Background(), tr); err == nil {
			t.Errorf("expected error for %+v", tr)
		}
	}
}

func TestCancelTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	amox := env.stock("Amoxicillin 500mg", "main", 5, 1, 12.5)
	tr := &Transfer{FromLocation: "main", ToLocation: "ward-b", RequestedBy: "nurse-9",
		Items: []TransferItem{{ItemID: amox.ID, Quantity: 2}}}
	env.svc.CreateTransfer(ctx, tr)

	got, err := env.svc.CancelTransfer(ctx, tr.ID, "Ward restocked")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != TransferCancelled || !strings.Contains(got.Notes, "Cancelled: Ward restocked") {
		t.Errorf("unexpected transfer %+v", got)
	}
	if _, err := env.svc.CompleteTransfer(ctx, tr.ID, "pharm-3"); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if env.quantity(t, amox.ID) != 5 {
		t.Error("cancelled transfer moved stock")
	}
}
