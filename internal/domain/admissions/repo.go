package admissions

import "context"

// Repository reads the admissions schema. Every method is read-only.
type Repository interface {
	WardManagement(ctx context.Context) ([]*WardBed, error)
	Departments(ctx context.Context) ([]*DepartmentSummary, error)
	Wards(ctx context.Context, f WardFilter) ([]*WardOverview, error)
	Branches(ctx context.Context) ([]*BranchSummary, error)
	HospitalStats(ctx context.Context) (*HospitalStats, error)
	Beds(ctx context.Context, f BedFilter) ([]*BedDetail, error)
	TransferablePatients(ctx context.Context, f TransferFilter) ([]*TransferablePatient, error)
	Ping(ctx context.Context) (*APIStatus, error)
}
