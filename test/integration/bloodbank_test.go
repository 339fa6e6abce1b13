package integration

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bristolpark/hmis/internal/domain/bloodbank"
	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/internal/platform/sequence"
)

func newBloodBankService(pool *pgxpool.Pool) *bloodbank.Service {
	svc := bloodbank.NewService(bloodbank.NewUnitRepoPG(pool), bloodbank.NewDonorRepoPG(pool),
		bloodbank.NewRequestRepoPG(pool), sequence.NewMemorySequencer())
	svc.SetTransactor(db.NewTxManager(pool))
	return svc
}

func createBloodRequest(t *testing.T, ctx context.Context, svc *bloodbank.Service) *bloodbank.Request {
	t.Helper()
	patient := "P-1001"
	bt := bloodbank.APos
	r := &bloodbank.Request{
		RequestedBy:      "dr.kamau",
		Department:       "SURGICAL",
		PatientID:        &patient,
		PatientBloodType: &bt,
		Urgency:          bloodbank.UrgencyUrgent,
		Products:         []bloodbank.ProductLine{{ProductType: bloodbank.WholeBlood, BloodType: bloodbank.APos, Quantity: 1}},
	}
	if err := svc.CreateBloodRequest(ctx, r); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return r
}

func TestBloodBank_RequestNumbersContinueAfterRestart(t *testing.T) {
	ctx := context.Background()
	pool := newSchemaPool(t, ctx, "bb_seq")

	first := createBloodRequest(t, ctx, newBloodBankService(pool))
	second := createBloodRequest(t, ctx, newBloodBankService(pool))

	year := first.RequestDate.Year()
	if first.RequestNumber != sequence.FormatNumber(bloodbank.RequestNumberPrefix, year, 1) {
		t.Errorf("unexpected first number %s", first.RequestNumber)
	}
	if second.RequestNumber != sequence.FormatNumber(bloodbank.RequestNumberPrefix, year, 2) {
		t.Errorf("expected numbering to continue, got %s", second.RequestNumber)
	}

	max, err := bloodbank.NewRequestRepoPG(pool).MaxNumber(ctx, "BB-2000-")
	if err != nil {
		t.Fatalf("max number: %v", err)
	}
	if max != 0 {
		t.Errorf("expected 0 for a year with no requests, got %d", max)
	}
}
