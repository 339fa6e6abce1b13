package admissions

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type mockRepo struct {
	wards    []*WardOverview
	branches []*BranchSummary
	stats    *HospitalStats
	beds     []*BedDetail
	err      error

	lastWardFilter     WardFilter
	lastBedFilter      BedFilter
	lastTransferFilter TransferFilter
}

func (m *mockRepo) WardManagement(_ context.Context) ([]*WardBed, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []*WardBed{{AdmissionID: 1, BedStatus: BedOccupied}}, nil
}

func (m *mockRepo) Departments(_ context.Context) ([]*DepartmentSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return nil, nil
}

func (m *mockRepo) Wards(_ context.Context, f WardFilter) ([]*WardOverview, error) {
	m.lastWardFilter = f
	if m.err != nil {
		return nil, m.err
	}
	return m.wards, nil
}

func (m *mockRepo) Branches(_ context.Context) ([]*BranchSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.branches, nil
}

func (m *mockRepo) HospitalStats(_ context.Context) (*HospitalStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.stats == nil {
		return &HospitalStats{}, nil
	}
	return m.stats, nil
}

func (m *mockRepo) Beds(_ context.Context, f BedFilter) ([]*BedDetail, error) {
	m.lastBedFilter = f
	if m.err != nil {
		return nil, m.err
	}
	return m.beds, nil
}

func (m *mockRepo) TransferablePatients(_ context.Context, f TransferFilter) ([]*TransferablePatient, error) {
	m.lastTransferFilter = f
	if m.err != nil {
		return nil, m.err
	}
	return nil, nil
}

func (m *mockRepo) Ping(_ context.Context) (*APIStatus, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &APIStatus{CurrentTime: time.Now(), Message: "Bristol Park Hospital API"}, nil
}

func pct(v float64) *float64 { return &v }

func sampleWards() []*WardOverview {
	return []*WardOverview{
		{WardName: "Ward 1", TotalBeds: 10, OccupiedBeds: 10, AvailableBeds: 0, OccupancyPercentage: pct(100)},
		{WardName: "Ward 2", TotalBeds: 10, OccupiedBeds: 9, AvailableBeds: 1, OccupancyPercentage: pct(90)},
		{WardName: "Ward 3", TotalBeds: 10, OccupiedBeds: 2, AvailableBeds: 8, OccupancyPercentage: pct(20)},
		{WardName: "Ward 4", TotalBeds: 0, OccupiedBeds: 0, AvailableBeds: 0},
	}
}

func wardNames(ws []*WardOverview) []string {
	var out []string
	for _, w := range ws {
		out = append(out, w.WardName)
	}
	return out
}

func TestService_Wards_OccupancyFilter(t *testing.T) {
	tests := []struct {
		status string
		want   []string
	}{
		{"", []string{"Ward 1", "Ward 2", "Ward 3", "Ward 4"}},
		{OccupancyFull, []string{"Ward 1", "Ward 4"}},
		{OccupancyAvailable, []string{"Ward 2", "Ward 3"}},
		{OccupancyCritical, []string{"Ward 1", "Ward 2"}},
	}
	for _, tt := range tests {
		t.Run("status="+tt.status, func(t *testing.T) {
			svc := NewService(&mockRepo{wards: sampleWards()})
			got, err := svc.Wards(context.Background(), WardFilter{OccupancyStatus: tt.status})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			names := wardNames(got)
			if fmt.Sprint(names) != fmt.Sprint(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, names)
			}
		})
	}
}

func TestService_Wards_InvalidOccupancy(t *testing.T) {
	svc := NewService(&mockRepo{})
	if _, err := svc.Wards(context.Background(), WardFilter{OccupancyStatus: "half"}); err == nil {
		t.Error("expected error for unknown occupancy_status")
	}
}

func TestService_Wards_PassesFilterToRepo(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo)
	hid := 19
	svc.Wards(context.Background(), WardFilter{Department: "MATERNITY", HospitalID: &hid})
	if repo.lastWardFilter.Department != "MATERNITY" || *repo.lastWardFilter.HospitalID != 19 {
		t.Errorf("filter not passed through: %+v", repo.lastWardFilter)
	}
}

func TestService_Wards_RepoError(t *testing.T) {
	svc := NewService(&mockRepo{err: fmt.Errorf("connection refused")})
	if _, err := svc.Wards(context.Background(), WardFilter{}); err == nil {
		t.Error("expected repository error")
	}
}

func TestService_Branches_FillsMissingName(t *testing.T) {
	svc := NewService(&mockRepo{branches: []*BranchSummary{
		{HospitalID: 20, HospitalName: ""},
		{HospitalID: 99, HospitalName: ""},
		{HospitalID: 18, HospitalName: "Bristol Park Hospital - Main"},
	}})
	got, err := svc.Branches(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].HospitalName != "Bristol Park Hospital - Utawala" {
		t.Errorf("expected Utawala, got %q", got[0].HospitalName)
	}
	if got[1].HospitalName != "Hospital 99" {
		t.Errorf("expected fallback name, got %q", got[1].HospitalName)
	}
}

func TestBranchName(t *testing.T) {
	want := map[int]string{
		18: "Bristol Park Hospital - Main",
		19: "Bristol Park Hospital - Fedha",
		20: "Bristol Park Hospital - Utawala",
		21: "Bristol Park Hospital - Tassia",
		22: "Bristol Park Hospital - Machakos",
		23: "Bristol Park Hospital - Kitengela",
		7:  "Hospital 7",
	}
	for id, name := range want {
		if got := BranchName(id); got != name {
			t.Errorf("BranchName(%d) = %q, want %q", id, got, name)
		}
	}
}

func TestService_HospitalStats_EmptyView(t *testing.T) {
	svc := NewService(&mockRepo{})
	stats, err := svc.HospitalStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats == nil {
		t.Fatal("expected one aggregate row")
	}
	if stats.OverallOccupancyPercentage != nil {
		t.Error("expected NULL occupancy for an empty view")
	}
}

func TestWardOverview_MatchesOccupancy_NullPercentage(t *testing.T) {
	w := &WardOverview{AvailableBeds: 0}
	if w.MatchesOccupancy(OccupancyCritical) {
		t.Error("a ward without an occupancy percentage is not critical")
	}
	if !w.MatchesOccupancy(OccupancyFull) {
		t.Error("a ward without available beds is full")
	}
}
