package bloodbank

import (
	"reflect"
	"testing"

	"github.com/bristolpark/hmis/internal/platform/workflow"
)

func TestCanDonate_Chart(t *testing.T) {
	chart := map[BloodType][]BloodType{
		ONeg:  {ONeg, OPos, ANeg, APos, BNeg, BPos, ABNeg, ABPos},
		OPos:  {OPos, APos, BPos, ABPos},
		ANeg:  {ANeg, APos, ABNeg, ABPos},
		APos:  {APos, ABPos},
		BNeg:  {BNeg, BPos, ABNeg, ABPos},
		BPos:  {BPos, ABPos},
		ABNeg: {ABNeg, ABPos},
		ABPos: {ABPos},
	}
	for donor, recipients := range chart {
		allowed := map[BloodType]bool{}
		for _, r := range recipients {
			allowed[r] = true
		}
		for _, r := range BloodTypes {
			if got := CanDonate(donor, r); got != allowed[r] {
				t.Errorf("CanDonate(%s, %s) = %v, want %v", donor, r, got, allowed[r])
			}
		}
	}
}

func TestCompatibleDonorTypes(t *testing.T) {
	if got := CompatibleDonorTypes(ONeg); !reflect.DeepEqual(got, []BloodType{ONeg}) {
		t.Errorf("O- receives only O-, got %v", got)
	}
	if got := CompatibleDonorTypes(ABPos); len(got) != len(BloodTypes) {
		t.Errorf("AB+ receives from everyone, got %v", got)
	}
	if got := CompatibleDonorTypes(APos); !reflect.DeepEqual(got, []BloodType{APos, ANeg, OPos, ONeg}) {
		t.Errorf("unexpected donors for A+: %v", got)
	}
	if got := CompatibleDonorTypes("X"); len(got) != 0 {
		t.Errorf("unknown type has no donors, got %v", got)
	}
}

func TestBuildInventorySummary_IgnoresUnknown(t *testing.T) {
	s := BuildInventorySummary([]InventoryCount{
		{BloodType: OPos, ProductType: WholeBlood, Count: 7},
		{BloodType: "C+", ProductType: WholeBlood, Count: 3},
		{BloodType: OPos, ProductType: "serum", Count: 2},
	})
	if s.Total != 7 {
		t.Errorf("expected 7, got %d", s.Total)
	}
	if s.CriticalCells != len(BloodTypes)*len(ProductTypes)-1 {
		t.Errorf("expected every other cell critical, got %d", s.CriticalCells)
	}
	if c := s.Cell(OPos, WholeBlood); c.Critical || c.Count != 7 {
		t.Errorf("unexpected cell %+v", c)
	}
	if s.ByBloodType[OPos] != 7 || s.ByProductType[WholeBlood] != 7 {
		t.Error("unexpected totals")
	}
}

func TestUnitMachine_Table(t *testing.T) {
	allowed := []struct{ from, to UnitStatus }{
		{UnitAvailable, UnitReserved},
		{UnitAvailable, UnitCrossmatched},
		{UnitReserved, UnitCrossmatched},
		{UnitReserved, UnitAvailable},
		{UnitCrossmatched, UnitIssued},
		{UnitCrossmatched, UnitAvailable},
		{UnitIssued, UnitTransfused},
		{UnitIssued, UnitDiscarded},
		{UnitExpired, UnitDiscarded},
	}
	for _, tc := range allowed {
		if !UnitMachine.Can(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}
	denied := []struct{ from, to UnitStatus }{
		{UnitIssued, UnitAvailable},
		{UnitIssued, UnitExpired},
		{UnitTransfused, UnitDiscarded},
		{UnitDiscarded, UnitAvailable},
		{UnitExpired, UnitAvailable},
		{UnitAvailable, UnitIssued},
	}
	for _, tc := range denied {
		if UnitMachine.Can(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
	if !UnitMachine.IsTerminal(UnitTransfused) || !UnitMachine.IsTerminal(UnitDiscarded) {
		t.Error("transfused and discarded are terminal")
	}
}

func TestRequestMachine_Table(t *testing.T) {
	path := []RequestStatus{RequestPending, RequestApproved, RequestProcessing, RequestReady, RequestIssued, RequestCompleted}
	for i := 0; i+1 < len(path); i++ {
		if !RequestMachine.Can(path[i], path[i+1]) {
			t.Errorf("expected %s -> %s", path[i], path[i+1])
		}
	}
	if RequestMachine.Can(RequestIssued, RequestCancelled) {
		t.Error("an issued request cannot be cancelled")
	}
	if _, err := RequestMachine.Transition(RequestCompleted, RequestPending); err == nil {
		t.Error("completed is terminal")
	} else if _, ok := err.(*workflow.TransitionError); !ok {
		t.Errorf("expected *TransitionError, got %T", err)
	}
}
