package admissions

import (
	"context"
	"fmt"
)

// Service answers the read-only admissions reports.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) WardManagement(ctx context.Context) ([]*WardBed, error) {
	return s.repo.WardManagement(ctx)
}

func (s *Service) Departments(ctx context.Context) ([]*DepartmentSummary, error) {
	return s.repo.Departments(ctx)
}

var validOccupancy = map[string]bool{
	"": true, OccupancyFull: true, OccupancyAvailable: true, OccupancyCritical: true,
}

// Wards returns the ward overview, keeping only wards that match
// f.OccupancyStatus.
func (s *Service) Wards(ctx context.Context, f WardFilter) ([]*WardOverview, error) {
	if !validOccupancy[f.OccupancyStatus] {
		return nil, fmt.Errorf("invalid occupancy_status: %s", f.OccupancyStatus)
	}
	wards, err := s.repo.Wards(ctx, f)
	if err != nil {
		return nil, err
	}
	if f.OccupancyStatus == "" {
		return wards, nil
	}
	filtered := make([]*WardOverview, 0, len(wards))
	for _, w := range wards {
		if w.MatchesOccupancy(f.OccupancyStatus) {
			filtered = append(filtered, w)
		}
	}
	return filtered, nil
}

func (s *Service) Branches(ctx context.Context) ([]*BranchSummary, error) {
	items, err := s.repo.Branches(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range items {
		if b.HospitalName == "" {
			b.HospitalName = BranchName(b.HospitalID)
		}
	}
	return items, nil
}

func (s *Service) HospitalStats(ctx context.Context) (*HospitalStats, error) {
	return s.repo.HospitalStats(ctx)
}

func (s *Service) Beds(ctx context.Context, f BedFilter) ([]*BedDetail, error) {
	return s.repo.Beds(ctx, f)
}

func (s *Service) TransferablePatients(ctx context.Context, f TransferFilter) ([]*TransferablePatient, error) {
	return s.repo.TransferablePatients(ctx, f)
}

func (s *Service) Ping(ctx context.Context) (*APIStatus, error) {
	return s.repo.Ping(ctx)
}

// BranchName returns the display name for a hospital id.
func BranchName(id int) string {
	if name, ok := BranchNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Hospital %d", id)
}
