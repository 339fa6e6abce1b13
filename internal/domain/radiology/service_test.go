package radiology

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/internal/platform/notification"
	"github.com/bristolpark/hmis/internal/platform/websocket"
	"github.com/bristolpark/hmis/internal/platform/workflow"
)

// -- Mock Repositories --

type mockTestRepo struct {
	items map[uuid.UUID]*Test
}

func (m *mockTestRepo) Create(_ context.Context, t *Test) error {
	t.ID = uuid.New()
	cp := *t
	m.items[t.ID] = &cp
	return nil
}

func (m *mockTestRepo) GetByID(_ context.Context, id uuid.UUID) (*Test, error) {
	t, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *mockTestRepo) Update(_ context.Context, t *Test) error {
	if _, ok := m.items[t.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *t
	m.items[t.ID] = &cp
	return nil
}

func (m *mockTestRepo) List(_ context.Context, f TestFilter, limit, offset int) ([]*Test, int, error) {
	var out []*Test
	for _, t := range m.items {
		if (f.Category == "" || t.Category == f.Category) && (f.Active == nil || t.Active == *f.Active) {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

type mockRequestRepo struct {
	items map[uuid.UUID]*Request
	locks int
}

func cloneRequest(r *Request) *Request {
	cp := *r
	cp.Tests = append([]TestLine(nil), r.Tests...)
	return &cp
}

func (m *mockRequestRepo) Create(_ context.Context, r *Request) error {
	r.ID = uuid.New()
	m.items[r.ID] = cloneRequest(r)
	return nil
}

func (m *mockRequestRepo) GetByID(_ context.Context, id uuid.UUID) (*Request, error) {
	r, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return cloneRequest(r), nil
}

func (m *mockRequestRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error) {
	m.locks++
	return m.GetByID(ctx, id)
}

func (m *mockRequestRepo) Update(_ context.Context, r *Request) error {
	m.items[r.ID] = cloneRequest(r)
	return nil
}

func (m *mockRequestRepo) List(_ context.Context, f RequestFilter, limit, offset int) ([]*Request, int, error) {
	var out []*Request
	for _, r := range m.items {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.PatientID != "" && r.PatientID != f.PatientID {
			continue
		}
		if f.Date != nil && !r.RequestDate.Equal(*f.Date) {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	return out, len(out), nil
}

func (m *mockRequestRepo) Stats(_ context.Context, day time.Time) (*DashboardStats, error) {
	stats := &DashboardStats{ByStatus: map[Status]int{}}
	d := day.Format(dateLayout)
	for _, r := range m.items {
		stats.ByStatus[r.Status]++
		stats.Total++
		if r.RequestDate.Format(dateLayout) == d {
			stats.Today++
		}
		if r.PaymentStatus == PaymentPending && r.Status != StatusCancelled {
			stats.AwaitingPayment++
		}
		if r.ScheduledDate != nil && r.ScheduledDate.Format(dateLayout) == d &&
			(r.Status == StatusPending || r.Status == StatusInProgress) {
			stats.ScheduledToday++
		}
	}
	return stats, nil
}

type mockPatientRepo struct {
	items map[uuid.UUID]*ExternalPatient
}

func (m *mockPatientRepo) Create(_ context.Context, p *ExternalPatient) error {
	p.ID = uuid.New()
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*ExternalPatient, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return p, nil
}

func (m *mockPatientRepo) List(_ context.Context, f ExternalPatientFilter, limit, offset int) ([]*ExternalPatient, int, error) {
	var out []*ExternalPatient
	for _, p := range m.items {
		out = append(out, p)
	}
	return out, len(out), nil
}

type recordingPublisher struct {
	events []websocket.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e websocket.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t string) []websocket.Event {
	var out []websocket.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingNotifier struct {
	toasts []notification.Toast
}

func (n *recordingNotifier) Show(_ context.Context, t notification.Toast) (*notification.Toast, error) {
	n.toasts = append(n.toasts, t)
	return &t, nil
}

func (n *recordingNotifier) Notify(_ context.Context, templateID, recipient string, data map[string]string) (*notification.Toast, error) {
	t := notification.Toast{TemplateID: templateID, Recipient: recipient, Data: data}
	n.toasts = append(n.toasts, t)
	return &t, nil
}

type countingTx struct{ calls int }

func (t *countingTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}

type testEnv struct {
	svc       *Service
	tests     *mockTestRepo
	requests  *mockRequestRepo
	patients  *mockPatientRepo
	tx        *countingTx
	publisher *recordingPublisher
	notifier  *recordingNotifier
	catalogue map[string]uuid.UUID
}

var testNow = time.Date(2025, 4, 22, 10, 15, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		tests:     &mockTestRepo{items: map[uuid.UUID]*Test{}},
		requests:  &mockRequestRepo{items: map[uuid.UUID]*Request{}},
		patients:  &mockPatientRepo{items: map[uuid.UUID]*ExternalPatient{}},
		tx:        &countingTx{},
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
		catalogue: map[string]uuid.UUID{},
	}
	env.svc = NewService(env.tests, env.requests, env.patients)
	env.svc.SetTransactor(env.tx)
	env.svc.SetPublisher(env.publisher)
	env.svc.SetNotifier(env.notifier)
	env.svc.now = func() time.Time { return testNow }

	for _, seed := range []struct {
		name, category string
		price          float64
	}{
		{"Chest X-Ray", "X-Ray", 2500},
		{"Abdominal Ultrasound", "Ultrasound", 3500},
		{"Brain CT", "CT Scan", 8000},
	} {
		test := &Test{Name: seed.name, Category: seed.category, Price: seed.price}
		if err := env.svc.CreateTest(context.Background(), test); err != nil {
			t.Fatalf("seed %s: %v", seed.name, err)
		}
		env.catalogue[seed.name] = test.ID
	}
	return env
}

func (env *testEnv) newRequest(t *testing.T, tests ...string) *Request {
	t.Helper()
	var ids []uuid.UUID
	for _, name := range tests {
		ids = append(ids, env.catalogue[name])
	}
	r := &Request{PatientID: "P-2001", PatientName: "Grace Akinyi", DoctorID: "dr.odhiambo", DoctorName: "Dr. Odhiambo"}
	if err := env.svc.CreateRequest(context.Background(), r, ids); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return r
}

// -- Catalogue --

func TestCreateTest_Validation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]*Test{
		"no name":        {Category: "MRI", Price: 1},
		"no category":    {Name: "Knee MRI", Price: 1},
		"negative price": {Name: "Knee MRI", Category: "MRI", Price: -1},
	}
	for name, test := range cases {
		t.Run(name, func(t *testing.T) {
			if err := env.svc.CreateTest(context.Background(), test); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	free := &Test{Name: "Review", Category: "Consult", Price: 0}
	if err := env.svc.CreateTest(context.Background(), free); err != nil || !free.Active {
		t.Errorf("zero price must be allowed and active, got %v", err)
	}
}

func TestUpdateTest_Partial(t *testing.T) {
	env := newTestEnv(t)
	price := 2800.0
	got, err := env.svc.UpdateTest(context.Background(), env.catalogue["Chest X-Ray"], TestUpdate{Price: &price})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Price != price || got.Name != "Chest X-Ray" || !got.Active {
		t.Errorf("unexpected test %+v", got)
	}
	neg := -5.0
	if _, err := env.svc.UpdateTest(context.Background(), got.ID, TestUpdate{Price: &neg}); err == nil {
		t.Error("expected error for negative price")
	}
}

func TestSetTestActive(t *testing.T) {
	env := newTestEnv(t)
	id := env.catalogue["Brain CT"]
	got, err := env.svc.SetTestActive(context.Background(), id, false)
	if err != nil || got.Active {
		t.Fatalf("expected inactive test, got %v", err)
	}
	active := false
	items, total, _ := env.svc.ListTests(context.Background(), TestFilter{Active: &active}, 20, 0)
	if total != 1 || items[0].ID != id {
		t.Errorf("expected only Brain CT inactive, got %d", total)
	}
}

// -- External patients --

func TestRegisterExternalPatient(t *testing.T) {
	env := newTestEnv(t)
	p := &ExternalPatient{Name: "Alice Njoroge", Gender: "Female", Age: 45, Phone: "0712345678", ReferralFacility: "Tala Health Centre"}
	if err := env.svc.RegisterExternalPatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.RegistrationDate.Format(dateLayout) != "2025-04-22" {
		t.Errorf("unexpected registration date %v", p.RegistrationDate)
	}
	bad := &ExternalPatient{Name: "X", Gender: "unknown", Phone: "1"}
	if err := env.svc.RegisterExternalPatient(context.Background(), bad); err == nil {
		t.Error("expected gender validation error")
	}
}

// -- Requests --

func TestCreateRequest(t *testing.T) {
	env := newTestEnv(t)
	r := env.newRequest(t, "Chest X-Ray", "Brain CT")

	if r.Status != StatusPending || r.PaymentStatus != PaymentPending || r.Priority != PriorityNormal {
		t.Errorf("unexpected defaults %+v", r)
	}
	if r.RequestDate.Format(dateLayout) != "2025-04-22" || r.RequestTime != "10:15" {
		t.Errorf("unexpected request stamp %v %s", r.RequestDate, r.RequestTime)
	}
	if len(r.Tests) != 2 || r.Tests[0].TestName != "Chest X-Ray" || r.Tests[1].Status != StatusPending {
		t.Errorf("unexpected lines %+v", r.Tests)
	}
	if r.Tests[0].ID == r.Tests[1].ID {
		t.Error("lines need distinct ids")
	}
	if len(env.publisher.ofType("request.created")) != 1 {
		t.Error("expected request.created event")
	}
}

func TestCreateRequest_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	xray := []uuid.UUID{env.catalogue["Chest X-Ray"]}

	if err := env.svc.CreateRequest(ctx, &Request{PatientName: "A"}, xray); err == nil {
		t.Error("expected error without patient_id")
	}
	if err := env.svc.CreateRequest(ctx, &Request{PatientID: "P-1"}, xray); err == nil {
		t.Error("expected error without patient_name")
	}
	if err := env.svc.CreateRequest(ctx, &Request{PatientID: "P-1", PatientName: "A"}, nil); err == nil {
		t.Error("expected error without tests")
	}
	if err := env.svc.CreateRequest(ctx, &Request{PatientID: "P-1", PatientName: "A"}, []uuid.UUID{uuid.New()}); err == nil {
		t.Error("expected error for unknown test")
	}
	env.svc.SetTestActive(ctx, xray[0], false)
	if err := env.svc.CreateRequest(ctx, &Request{PatientID: "P-1", PatientName: "A"}, xray); err == nil {
		t.Error("expected error for inactive test")
	}
	if len(env.requests.items) != 0 {
		t.Error("no request may be stored")
	}
}

func TestStartProcessing_AggregatesStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.newRequest(t, "Chest X-Ray", "Brain CT")

	got, err := env.svc.StartProcessing(ctx, r.ID, r.Tests[0].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Tests[0].Status != StatusInProgress || got.Status != StatusPending {
		t.Errorf("request stays pending while a line is pending, got %s", got.Status)
	}
	got, _ = env.svc.StartProcessing(ctx, r.ID, r.Tests[1].ID)
	if got.Status != StatusInProgress {
		t.Errorf("expected in_progress, got %s", got.Status)
	}
	if env.requests.locks != 2 || env.tx.calls != 2 {
		t.Errorf("expected each line update locked in a transaction, got %d locks %d tx", env.requests.locks, env.tx.calls)
	}
	if len(env.publisher.ofType(websocket.EventStatusChanged)) != 1 {
		t.Error("expected one status change event")
	}
}

func TestStartProcessing_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.newRequest(t, "Chest X-Ray")

	_, err := env.svc.StartProcessing(ctx, r.ID, uuid.New())
	if !db.IsNotFound(err) {
		t.Errorf("expected not found for unknown line, got %v", err)
	}
	_, err = env.svc.StartProcessing(ctx, uuid.New(), r.Tests[0].ID)
	if !db.IsNotFound(err) {
		t.Errorf("expected not found for unknown request, got %v", err)
	}
	env.svc.StartProcessing(ctx, r.ID, r.Tests[0].ID)
	_, err = env.svc.StartProcessing(ctx, r.ID, r.Tests[0].ID)
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
}

func TestAddTestResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.newRequest(t, "Chest X-Ray", "Abdominal Ultrasound")
	for _, l := range r.Tests {
		env.svc.StartProcessing(ctx, r.ID, l.ID)
	}

	got, err := env.svc.AddTestResults(ctx, r.ID, r.Tests[0].ID, ResultInput{
		ReportText: "No active lung lesion", ReportImages: []string{"img-1.dcm"}, CompletedBy: "dr.wekesa",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	line := got.Tests[0]
	if line.Status != StatusCompleted || line.CompletedAt == nil || !line.CompletedAt.Equal(testNow) || line.CompletedBy != "dr.wekesa" {
		t.Errorf("unexpected line %+v", line)
	}
	if got.Status != StatusInProgress {
		t.Errorf("request completes only when every line does, got %s", got.Status)
	}
	if len(env.notifier.toasts) != 0 {
		t.Error("no toast before the request completes")
	}

	got, _ = env.svc.AddTestResults(ctx, r.ID, r.Tests[1].ID, ResultInput{ReportText: "Normal", CompletedBy: "dr.wekesa"})
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if n := len(env.publisher.ofType(EventResultsAdded)); n != 2 {
		t.Errorf("expected 2 results events, got %d", n)
	}
	if len(env.notifier.toasts) != 1 || env.notifier.toasts[0].Recipient != "dr.odhiambo" {
		t.Errorf("expected one toast for the ordering doctor, got %+v", env.notifier.toasts)
	}
}

func TestAddTestResults_RequiresInProgress(t *testing.T) {
	env := newTestEnv(t)
	r := env.newRequest(t, "Chest X-Ray")
	_, err := env.svc.AddTestResults(context.Background(), r.ID, r.Tests[0].ID, ResultInput{ReportText: "x", CompletedBy: "y"})
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("expected invalid transition from pending, got %v", err)
	}
	if _, err := env.svc.AddTestResults(context.Background(), r.ID, r.Tests[0].ID, ResultInput{CompletedBy: "y"}); err == nil {
		t.Error("expected error without report text")
	}
}

func TestCancelRequest_KeepsCompletedLines(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.newRequest(t, "Chest X-Ray", "Brain CT", "Abdominal Ultrasound")
	env.svc.StartProcessing(ctx, r.ID, r.Tests[0].ID)
	env.svc.AddTestResults(ctx, r.ID, r.Tests[0].ID, ResultInput{ReportText: "Clear", CompletedBy: "dr.wekesa"})
	env.svc.StartProcessing(ctx, r.ID, r.Tests[1].ID)

	got, err := env.svc.CancelRequest(ctx, r.ID, "patient discharged")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Status{StatusCompleted, StatusCancelled, StatusCancelled}
	for i, l := range got.Tests {
		if l.Status != want[i] {
			t.Errorf("line %d: expected %s, got %s", i, want[i], l.Status)
		}
	}
	if got.Status != StatusCancelled || got.CancelReason == nil || *got.CancelReason != "patient discharged" {
		t.Errorf("unexpected request %+v", got)
	}

	_, err = env.svc.CancelRequest(ctx, r.ID, "")
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("cancelled is terminal, got %v", err)
	}
}

func TestCancelTestLine_CompletesRemainder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.newRequest(t, "Chest X-Ray", "Brain CT")
	env.svc.StartProcessing(ctx, r.ID, r.Tests[0].ID)
	env.svc.AddTestResults(ctx, r.ID, r.Tests[0].ID, ResultInput{ReportText: "Clear", CompletedBy: "dr.wekesa"})

	got, err := env.svc.CancelTestLine(ctx, r.ID, r.Tests[1].ID, "scanner down")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleted || got.Tests[1].Notes != "scanner down" {
		t.Errorf("expected completed request, got %s", got.Status)
	}
}

func TestCancelTestLine_AllCancelled(t *testing.T) {
	env := newTestEnv(t)
	r := env.newRequest(t, "Chest X-Ray")
	got, err := env.svc.CancelTestLine(context.Background(), r.ID, r.Tests[0].ID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
}

func TestScheduleRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.newRequest(t, "Brain CT")

	got, err := env.svc.ScheduleRequest(ctx, r.ID, "2025-04-23", "14:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ScheduledDate.Format(dateLayout) != "2025-04-23" || *got.ScheduledTime != "14:30" {
		t.Errorf("unexpected schedule %v %v", got.ScheduledDate, got.ScheduledTime)
	}

	cases := map[string][2]string{
		"bad date": {"23/04/2025", "14:30"},
		"bad time": {"2025-04-23", "2pm"},
		"past":     {"2025-04-21", "09:00"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := env.svc.ScheduleRequest(ctx, r.ID, c[0], c[1]); err == nil {
				t.Error("expected error")
			}
		})
	}

	env.svc.CancelRequest(ctx, r.ID, "")
	if _, err := env.svc.ScheduleRequest(ctx, r.ID, "2025-04-23", "14:30"); err == nil {
		t.Error("cancelled requests cannot be scheduled")
	}
}

func TestUpdatePaymentStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.newRequest(t, "Chest X-Ray")

	if _, err := env.svc.UpdatePaymentStatus(ctx, r.ID, PaymentUpdate{Status: PaymentInsurance}); err == nil {
		t.Error("expected error without insurance provider")
	}
	got, err := env.svc.UpdatePaymentStatus(ctx, r.ID, PaymentUpdate{Status: PaymentInsurance, InsuranceProvider: "SHA", InsurancePolicyNumber: "SHA12345"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PaymentStatus != PaymentInsurance || *got.InsuranceProvider != "SHA" || *got.InsurancePolicyNumber != "SHA12345" {
		t.Errorf("unexpected payment %+v", got)
	}
	if _, err := env.svc.UpdatePaymentStatus(ctx, r.ID, PaymentUpdate{Status: "barter"}); err == nil {
		t.Error("expected error for unknown payment status")
	}
}

func TestListRequests_Filters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.newRequest(t, "Chest X-Ray")
	env.newRequest(t, "Brain CT")
	env.svc.CancelRequest(ctx, r.ID, "")

	_, total, _ := env.svc.ListRequests(ctx, RequestFilter{Status: StatusPending}, 20, 0)
	if total != 1 {
		t.Errorf("expected 1 pending, got %d", total)
	}
	day := time.Date(2025, 4, 22, 0, 0, 0, 0, time.UTC)
	_, total, _ = env.svc.ListRequests(ctx, RequestFilter{Date: &day, PatientID: "P-2001"}, 20, 0)
	if total != 2 {
		t.Errorf("expected 2 for the day, got %d", total)
	}
	if _, _, err := env.svc.ListRequests(ctx, RequestFilter{Status: "archived"}, 20, 0); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestGetDashboardStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newRequest(t, "Chest X-Ray")
	env.newRequest(t, "Brain CT")
	env.svc.StartProcessing(ctx, a.ID, a.Tests[0].ID)
	env.svc.ScheduleRequest(ctx, a.ID, "2025-04-22", "16:00")

	stats, err := env.svc.GetDashboardStats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 2 || stats.Today != 2 || stats.AwaitingPayment != 2 || stats.ScheduledToday != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if len(stats.ByStatus) != 4 || stats.ByStatus[StatusInProgress] != 1 || stats.ByStatus[StatusCompleted] != 0 {
		t.Errorf("unexpected by_status %v", stats.ByStatus)
	}
}

// -- Aggregation --

func TestAggregateStatus(t *testing.T) {
	line := func(s Status) TestLine { return TestLine{Status: s} }
	tests := []struct {
		name    string
		lines   []TestLine
		current Status
		want    Status
	}{
		{"all pending", []TestLine{line(StatusPending), line(StatusPending)}, StatusPending, StatusPending},
		{"one started", []TestLine{line(StatusInProgress), line(StatusPending)}, StatusPending, StatusPending},
		{"all started", []TestLine{line(StatusInProgress), line(StatusCompleted)}, StatusPending, StatusInProgress},
		{"all done", []TestLine{line(StatusCompleted), line(StatusCompleted)}, StatusInProgress, StatusCompleted},
		{"cancelled ignored", []TestLine{line(StatusCompleted), line(StatusCancelled)}, StatusInProgress, StatusCompleted},
		{"all cancelled", []TestLine{line(StatusCancelled)}, StatusPending, StatusCancelled},
		{"no lines", nil, StatusPending, StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := aggregateStatus(tt.lines, tt.current); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMachines(t *testing.T) {
	if TestLineMachine.Can(StatusPending, StatusCompleted) {
		t.Error("a line must be started before it completes")
	}
	if !RequestMachine.Can(StatusPending, StatusCompleted) {
		t.Error("request may complete from pending")
	}
	if !TestLineMachine.IsTerminal(StatusCompleted) || !RequestMachine.IsTerminal(StatusCancelled) {
		t.Error("completed and cancelled are terminal")
	}
}
