package radiology

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/internal/platform/notification"
	"github.com/bristolpark/hmis/internal/platform/telemetry"
	"github.com/bristolpark/hmis/internal/platform/websocket"
)

// EventResultsAdded is published on the radiology topic when a report is
// attached to a test line.
const EventResultsAdded = "results.added"

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

type Service struct {
	tests    TestRepository
	requests RequestRepository
	patients ExternalPatientRepository

	tx        db.Transactor
	publisher websocket.EventPublisher
	notifier  notification.Notifier
	metrics   telemetry.Recorder
	now       func() time.Time
}

func NewService(tests TestRepository, requests RequestRepository, patients ExternalPatientRepository) *Service {
	return &Service{
		tests:     tests,
		requests:  requests,
		patients:  patients,
		publisher: websocket.NopPublisher{},
		metrics:   telemetry.NopRecorder{},
		now:       time.Now,
	}
}

func (s *Service) SetTransactor(tx db.Transactor)          { s.tx = tx }
func (s *Service) SetPublisher(p websocket.EventPublisher) { s.publisher = p }
func (s *Service) SetNotifier(n notification.Notifier)     { s.notifier = n }
func (s *Service) SetRecorder(r telemetry.Recorder)        { s.metrics = r }

// -- Catalogue --

func validateTest(t *Test) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(t.Category) == "" {
		return fmt.Errorf("category is required")
	}
	if t.Price < 0 {
		return fmt.Errorf("price must be at least 0")
	}
	if t.Duration != nil && *t.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	return nil
}

// CreateTest adds a catalogue entry. New entries are active.
func (s *Service) CreateTest(ctx context.Context, t *Test) error {
	if err := validateTest(t); err != nil {
		return err
	}
	t.Active = true
	return s.tests.Create(ctx, t)
}

func (s *Service) GetTest(ctx context.Context, id uuid.UUID) (*Test, error) {
	return s.tests.GetByID(ctx, id)
}

func (s *Service) ListTests(ctx context.Context, f TestFilter, limit, offset int) ([]*Test, int, error) {
	return s.tests.List(ctx, f, limit, offset)
}

func (s *Service) UpdateTest(ctx context.Context, id uuid.UUID, upd TestUpdate) (*Test, error) {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.Category != nil {
		t.Category = *upd.Category
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.Price != nil {
		t.Price = *upd.Price
	}
	if upd.PreparationInstructions != nil {
		t.PreparationInstructions = *upd.PreparationInstructions
	}
	if upd.Duration != nil {
		t.Duration = upd.Duration
	}
	if upd.Active != nil {
		t.Active = *upd.Active
	}
	if err := validateTest(t); err != nil {
		return nil, err
	}
	if err := s.tests.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// SetTestActive toggles whether a test can be ordered.
func (s *Service) SetTestActive(ctx context.Context, id uuid.UUID, active bool) (*Test, error) {
	return s.UpdateTest(ctx, id, TestUpdate{Active: &active})
}

// -- External patients --

func (s *Service) RegisterExternalPatient(ctx context.Context, p *ExternalPatient) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if p.Phone == "" {
		return fmt.Errorf("phone is required")
	}
	switch p.Gender {
	case "Male", "Female", "Other":
	default:
		return fmt.Errorf("gender must be Male, Female or Other")
	}
	if p.Age < 0 || p.Age > 150 {
		return fmt.Errorf("age must be between 0 and 150")
	}
	now := s.now()
	p.RegistrationDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.patients.Create(ctx, p)
}

func (s *Service) GetExternalPatient(ctx context.Context, id uuid.UUID) (*ExternalPatient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) ListExternalPatients(ctx context.Context, f ExternalPatientFilter, limit, offset int) ([]*ExternalPatient, int, error) {
	return s.patients.List(ctx, f, limit, offset)
}

// -- Requests --

// CreateRequest orders one line per test id. Every test must exist and be
// active; the lines copy the test name and start pending.
func (s *Service) CreateRequest(ctx context.Context, r *Request, testIDs []uuid.UUID) error {
	if r.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if strings.TrimSpace(r.PatientName) == "" {
		return fmt.Errorf("patient_name is required")
	}
	if len(testIDs) == 0 {
		return fmt.Errorf("at least one test is required")
	}
	if r.PatientType == "" {
		r.PatientType = PatientOutpatient
	}
	if !r.PatientType.Valid() {
		return fmt.Errorf("invalid patient_type: %s", r.PatientType)
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("invalid priority: %s", r.Priority)
	}
	if r.PaymentStatus == "" {
		r.PaymentStatus = PaymentPending
	}
	if !r.PaymentStatus.Valid() {
		return fmt.Errorf("invalid payment_status: %s", r.PaymentStatus)
	}

	lines := make([]TestLine, 0, len(testIDs))
	for _, id := range testIDs {
		t, err := s.tests.GetByID(ctx, id)
		if err != nil {
			if db.IsNotFound(err) {
				return fmt.Errorf("test %s does not exist", id)
			}
			return err
		}
		if !t.Active {
			return fmt.Errorf("test %q is not active", t.Name)
		}
		lines = append(lines, TestLine{
			ID:       uuid.New(),
			TestID:   t.ID,
			TestName: t.Name,
			Status:   TestLineMachine.Initial(),
		})
	}

	now := s.now()
	r.Tests = lines
	r.Status = RequestMachine.Initial()
	r.RequestDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	r.RequestTime = now.Format(timeLayout)
	r.CancelReason = nil
	if r.BranchID == 0 {
		r.BranchID = db.BranchFromContext(ctx)
	}
	if err := s.requests.Create(ctx, r); err != nil {
		return err
	}
	s.publisher.Publish(ctx, websocket.NewEvent("request.created", websocket.TopicRadiology, "RadiologyRequest", r.ID.String(), map[string]interface{}{
		"patient_name": r.PatientName,
		"priority":     r.Priority,
		"tests":        len(r.Tests),
	}))
	return nil
}

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *Service) ListRequests(ctx context.Context, f RequestFilter, limit, offset int) ([]*Request, int, error) {
	if f.Status != "" && !RequestMachine.Valid(f.Status) {
		return nil, 0, fmt.Errorf("invalid status: %s", f.Status)
	}
	return s.requests.List(ctx, f, limit, offset)
}

// updateLine locks the request, applies fn to one of its lines, moves the
// line to status and recomputes the request status.
func (s *Service) updateLine(ctx context.Context, requestID, lineID uuid.UUID, status Status, fn func(*TestLine, time.Time)) (*Request, Status, error) {
	var (
		req  *Request
		from Status
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		from = req.Status
		line := req.line(lineID)
		if line == nil {
			return fmt.Errorf("test line %s: %w", lineID, db.ErrNotFound)
		}
		lineFrom := line.Status
		if _, err := TestLineMachine.Transition(line.Status, status); err != nil {
			return err
		}
		now := s.now()
		line.Status = status
		if fn != nil {
			fn(line, now)
		}
		s.metrics.RecordTransition(TestLineMachine.Name(), string(lineFrom), string(status))

		if next := aggregateStatus(req.Tests, req.Status); next != req.Status {
			if _, err := RequestMachine.Transition(req.Status, next); err != nil {
				return err
			}
			req.Status = next
			s.metrics.RecordTransition(RequestMachine.Name(), string(from), string(next))
		}
		req.LastUpdatedAt = now
		return s.requests.Update(ctx, req)
	})
	if err != nil {
		return nil, "", err
	}
	s.publishStatus(ctx, req, from)
	return req, from, nil
}

func (s *Service) publishStatus(ctx context.Context, r *Request, from Status) {
	if from == r.Status {
		return
	}
	s.publisher.Publish(ctx, websocket.NewStatusChangedEvent(websocket.TopicRadiology, "RadiologyRequest",
		r.ID.String(), string(from), string(r.Status), map[string]string{
			"patient_id":   r.PatientID,
			"patient_name": r.PatientName,
		}))
}

// StartProcessing moves a test line to in_progress. The request follows once
// no open line is still pending.
func (s *Service) StartProcessing(ctx context.Context, requestID, lineID uuid.UUID) (*Request, error) {
	req, _, err := s.updateLine(ctx, requestID, lineID, StatusInProgress, nil)
	return req, err
}

// ResultInput is the report for one test line.
type ResultInput struct {
	ReportText   string   `json:"report_text"`
	ReportImages []string `json:"report_images"`
	CompletedBy  string   `json:"completed_by"`
}

// AddTestResults completes a test line with its report. The request
// completes once every open line is completed, and the ordering doctor is
// told.
func (s *Service) AddTestResults(ctx context.Context, requestID, lineID uuid.UUID, in ResultInput) (*Request, error) {
	if strings.TrimSpace(in.ReportText) == "" {
		return nil, fmt.Errorf("report_text is required")
	}
	if in.CompletedBy == "" {
		return nil, fmt.Errorf("completed_by is required")
	}
	var testName string
	req, _, err := s.updateLine(ctx, requestID, lineID, StatusCompleted, func(l *TestLine, now time.Time) {
		l.ReportText = in.ReportText
		l.ReportImages = append([]string(nil), in.ReportImages...)
		l.CompletedBy = in.CompletedBy
		l.CompletedAt = &now
		testName = l.TestName
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, websocket.NewEvent(EventResultsAdded, websocket.TopicRadiology, "RadiologyRequest", req.ID.String(), map[string]string{
		"test_line_id": lineID.String(),
		"test_name":    testName,
		"patient_name": req.PatientName,
		"completed_by": in.CompletedBy,
	}))
	if s.notifier != nil && req.Status == StatusCompleted {
		s.notifier.Show(ctx, notification.Toast{
			Type:      notification.ToastSuccess,
			Title:     "Radiology report ready",
			Message:   fmt.Sprintf("All radiology results for %s are ready", req.PatientName),
			Recipient: req.DoctorID,
			Data:      map[string]string{"request_id": req.ID.String(), "patient_id": req.PatientID},
		})
	}
	return req, nil
}

// CancelTestLine drops one line. The request completes if every remaining
// line is already completed.
func (s *Service) CancelTestLine(ctx context.Context, requestID, lineID uuid.UUID, reason string) (*Request, error) {
	req, _, err := s.updateLine(ctx, requestID, lineID, StatusCancelled, func(l *TestLine, _ time.Time) {
		if reason != "" {
			l.Notes = reason
		}
	})
	return req, err
}

// CancelRequest cancels the request and every line not yet completed.
// Completed lines keep their reports.
func (s *Service) CancelRequest(ctx context.Context, id uuid.UUID, reason string) (*Request, error) {
	var (
		req  *Request
		from Status
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = req.Status
		if _, err := RequestMachine.Transition(req.Status, StatusCancelled); err != nil {
			return err
		}
		for i := range req.Tests {
			l := &req.Tests[i]
			if TestLineMachine.Can(l.Status, StatusCancelled) {
				s.metrics.RecordTransition(TestLineMachine.Name(), string(l.Status), string(StatusCancelled))
				l.Status = StatusCancelled
			}
		}
		req.Status = StatusCancelled
		if reason != "" {
			req.CancelReason = &reason
		}
		req.LastUpdatedAt = s.now()
		return s.requests.Update(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(RequestMachine.Name(), string(from), string(StatusCancelled))
	s.publishStatus(ctx, req, from)
	return req, nil
}

// ScheduleRequest books an open request for date (YYYY-MM-DD) at clock
// (HH:MM).
func (s *Service) ScheduleRequest(ctx context.Context, id uuid.UUID, date, clock string) (*Request, error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("scheduled_date must be YYYY-MM-DD")
	}
	if _, err := time.Parse(timeLayout, clock); err != nil {
		return nil, fmt.Errorf("scheduled_time must be HH:MM")
	}
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if day.Before(today) {
		return nil, fmt.Errorf("scheduled_date is in the past")
	}
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if RequestMachine.IsTerminal(req.Status) {
		return nil, fmt.Errorf("request is %s and cannot be scheduled", req.Status)
	}
	req.ScheduledDate = &day
	req.ScheduledTime = &clock
	req.LastUpdatedAt = now
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, websocket.NewEvent("request.scheduled", websocket.TopicRadiology, "RadiologyRequest", req.ID.String(), map[string]string{
		"scheduled_date": date,
		"scheduled_time": clock,
	}))
	return req, nil
}

// PaymentUpdate changes how a request is paid for. Insurance requires a
// provider.
type PaymentUpdate struct {
	Status                PaymentStatus `json:"payment_status"`
	InsuranceProvider     string        `json:"insurance_provider"`
	InsurancePolicyNumber string        `json:"insurance_policy_number"`
}

func (s *Service) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, upd PaymentUpdate) (*Request, error) {
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("invalid payment_status: %s", upd.Status)
	}
	if upd.Status == PaymentInsurance && upd.InsuranceProvider == "" {
		return nil, fmt.Errorf("insurance_provider is required for insurance payment")
	}
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req.PaymentStatus = upd.Status
	if upd.Status == PaymentInsurance {
		req.InsuranceProvider = &upd.InsuranceProvider
		if upd.InsurancePolicyNumber != "" {
			req.InsurancePolicyNumber = &upd.InsurancePolicyNumber
		}
	}
	req.LastUpdatedAt = s.now()
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// GetDashboardStats counts requests by status. Every status is present.
func (s *Service) GetDashboardStats(ctx context.Context) (*DashboardStats, error) {
	stats, err := s.requests.Stats(ctx, s.now())
	if err != nil {
		return nil, err
	}
	if stats.ByStatus == nil {
		stats.ByStatus = map[Status]int{}
	}
	for _, st := range RequestMachine.States() {
		if _, ok := stats.ByStatus[st]; !ok {
			stats.ByStatus[st] = 0
		}
	}
	return stats, nil
}
