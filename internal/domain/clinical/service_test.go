package clinical

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/internal/platform/notification"
	"github.com/bristolpark/hmis/internal/platform/sequence"
	"github.com/bristolpark/hmis/internal/platform/websocket"
	"github.com/bristolpark/hmis/internal/platform/workflow"
)

// -- Mock Repository --

type mockQueueRepo struct {
	items map[uuid.UUID]*QueueEntry
	locks int
}

func cloneEntry(e *QueueEntry) *QueueEntry {
	cp := *e
	cp.LabTests = append([]LabTest(nil), e.LabTests...)
	cp.Medications = append([]Medication(nil), e.Medications...)
	cp.Diagnoses = append([]Diagnosis(nil), e.Diagnoses...)
	if e.Vitals != nil {
		v := *e.Vitals
		cp.Vitals = &v
	}
	return &cp
}

func (m *mockQueueRepo) Create(_ context.Context, e *QueueEntry) error {
	e.ID = uuid.New()
	m.items[e.ID] = cloneEntry(e)
	return nil
}

func (m *mockQueueRepo) GetByID(_ context.Context, id uuid.UUID) (*QueueEntry, error) {
	e, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return cloneEntry(e), nil
}

func (m *mockQueueRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	m.locks++
	return m.GetByID(ctx, id)
}

func (m *mockQueueRepo) MaxToken(_ context.Context, day time.Time) (int64, error) {
	var max int64
	for _, e := range m.items {
		if e.QueueDate.Format("2006-01-02") == day.Format("2006-01-02") && int64(e.TokenNumber) > max {
			max = int64(e.TokenNumber)
		}
	}
	return max, nil
}

func (m *mockQueueRepo) Update(_ context.Context, e *QueueEntry) error {
	if _, ok := m.items[e.ID]; !ok {
		return pgx.ErrNoRows
	}
	m.items[e.ID] = cloneEntry(e)
	return nil
}

var priorityRank = map[Priority]int{PriorityEmergency: 0, PriorityUrgent: 1, PriorityNormal: 2}

func (m *mockQueueRepo) List(_ context.Context, f QueueFilter, limit, offset int) ([]*QueueEntry, int, error) {
	var out []*QueueEntry
	for _, e := range m.items {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.DoctorID != "" && (e.DoctorID == nil || *e.DoctorID != f.DoctorID) {
			continue
		}
		if f.PatientID != "" && e.PatientID != f.PatientID {
			continue
		}
		if f.Date != nil && !e.QueueDate.Equal(*f.Date) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := priorityRank[out[i].Priority], priorityRank[out[j].Priority]; ri != rj {
			return ri < rj
		}
		return out[i].TokenNumber < out[j].TokenNumber
	})
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

// -- Fakes --

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
	t := notification.Toast{Type: notification.ToastInfo, TemplateID: templateID, Recipient: recipient, Data: data}
	n.toasts = append(n.toasts, t)
	return &t, nil
}

type countingRecorder struct {
	transitions []string
	tokens      int
}

func (r *countingRecorder) RecordTransition(machine, from, to string) {
	r.transitions = append(r.transitions, machine+":"+from+"->"+to)
}
func (r *countingRecorder) RecordDispatch() {}
func (r *countingRecorder) RecordToken()    { r.tokens++ }

type countingTx struct{ calls int }

func (t *countingTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}

var testNow = time.Date(2025, 3, 11, 8, 5, 0, 0, time.UTC)

type testEnv struct {
	svc       *Service
	queue     *mockQueueRepo
	seq       *sequence.MemorySequencer
	publisher *recordingPublisher
	notifier  *recordingNotifier
	metrics   *countingRecorder
	tx        *countingTx
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		queue:     &mockQueueRepo{items: map[uuid.UUID]*QueueEntry{}},
		seq:       sequence.NewMemorySequencer(),
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
		metrics:   &countingRecorder{},
		tx:        &countingTx{},
		now:       testNow,
	}
	env.svc = NewService(env.queue, env.seq)
	env.svc.SetPublisher(env.publisher)
	env.svc.SetNotifier(env.notifier)
	env.svc.SetRecorder(env.metrics)
	env.svc.SetTransactor(env.tx)
	env.svc.now = func() time.Time { return env.now }
	return env
}

func (env *testEnv) register(t *testing.T, name string, p Priority) *QueueEntry {
	t.Helper()
	e, err := env.svc.RegisterPatient(context.Background(), RegisterInput{
		PatientID:       "P-" + name,
		PatientName:     name,
		Priority:        p,
		ChiefComplaints: "Headache and fever",
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return e
}

// withDoctor walks a fresh entry through triage to a doctor.
func (env *testEnv) withDoctor(t *testing.T, name string) *QueueEntry {
	t.Helper()
	ctx := context.Background()
	e := env.register(t, name, PriorityNormal)
	if _, err := env.svc.RecordVitals(ctx, e.ID, sampleVitals()); err != nil {
		t.Fatalf("vitals: %v", err)
	}
	e, err := env.svc.AssignDoctor(ctx, e.ID, "doc-17", "Dr. Wanjiru Kamau")
	if err != nil {
		t.Fatalf("assign doctor: %v", err)
	}
	return e
}

func sampleVitals() Vitals {
	h, w := 170.0, 65.0
	return Vitals{
		Temperature:            37.8,
		BloodPressureSystolic:  128,
		BloodPressureDiastolic: 84,
		PulseRate:              88,
		RespiratoryRate:        18,
		OxygenSaturation:       97,
		Height:                 &h,
		Weight:                 &w,
		RecordedBy:             "nurse.achieng",
	}
}

// -- Registration --

func TestRegisterPatient_TokensAndWaits(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		priority Priority
		token    int
		wait     int
	}{
		{"Peter Otieno", PriorityNormal, 1, 30},
		{"Faith Njeri", PriorityUrgent, 2, 10},
		{"James Mwangi", PriorityEmergency, 3, 0},
		{"Lucy Chebet", "", 4, 30},
	}
	for _, tt := range tests {
		e := env.register(t, tt.name, tt.priority)
		if e.TokenNumber != tt.token {
			t.Errorf("%s: expected token %d, got %d", tt.name, tt.token, e.TokenNumber)
		}
		if e.EstimatedWaitTime != tt.wait {
			t.Errorf("%s: expected wait %d, got %d", tt.name, tt.wait, e.EstimatedWaitTime)
		}
		if e.Status != StatusRegistered {
			t.Errorf("%s: expected registered, got %s", tt.name, e.Status)
		}
		if !e.QueueDate.Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("%s: unexpected queue date %v", tt.name, e.QueueDate)
		}
	}
	if env.metrics.tokens != 4 {
		t.Errorf("expected 4 tokens recorded, got %d", env.metrics.tokens)
	}
	if got := len(env.publisher.ofType(EventPatientRegistered)); got != 4 {
		t.Errorf("expected 4 registration events, got %d", got)
	}
	if env.publisher.events[0].Topic != websocket.TopicClinical {
		t.Errorf("expected clinical topic, got %s", env.publisher.events[0].Topic)
	}
}

func TestRegisterPatient_TokensRestartEachDay(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "Peter Otieno", PriorityNormal)
	env.register(t, "Faith Njeri", PriorityNormal)

	env.now = testNow.Add(24 * time.Hour)
	e := env.register(t, "James Mwangi", PriorityNormal)
	if e.TokenNumber != 1 {
		t.Errorf("expected token 1 on a new day, got %d", e.TokenNumber)
	}
}

func TestRegisterPatient_TokensContinueAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "Peter Otieno", PriorityNormal)
	env.register(t, "Faith Njeri", PriorityNormal)

	// A new process starts with empty in-memory counters over the same store.
	env.seq = sequence.NewMemorySequencer()
	env.svc = NewService(env.queue, env.seq)
	env.svc.now = func() time.Time { return env.now }

	board, err := env.svc.GetTokenBoard(context.Background())
	if err != nil {
		t.Fatalf("token board: %v", err)
	}
	if board.LastToken != 2 {
		t.Errorf("expected last token 2 after restart, got %d", board.LastToken)
	}
	e := env.register(t, "James Mwangi", PriorityNormal)
	if e.TokenNumber != 3 {
		t.Errorf("expected token 3 after restart, got %d", e.TokenNumber)
	}
}

func TestRegisterPatient_Validation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing patient id", RegisterInput{PatientName: "Peter Otieno"}},
		{"missing name", RegisterInput{PatientID: "P-1"}},
		{"bad priority", RegisterInput{PatientID: "P-1", PatientName: "Peter Otieno", Priority: "critical"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.RegisterPatient(context.Background(), tt.in); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if n, _ := env.seq.Current(context.Background(), sequence.DailyKey(tokenKeyPrefix, testNow)); n != 0 {
		t.Errorf("rejected registrations must not draw tokens, current is %d", n)
	}
}

// -- Status and priority --

func TestUpdatePatientStatus_Waits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.register(t, "Faith Njeri", PriorityUrgent)

	e, err := env.svc.UpdatePatientStatus(ctx, e.ID, StatusWaitingVitals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.EstimatedWaitTime != 10 {
		t.Errorf("expected wait 10 while waiting for vitals, got %d", e.EstimatedWaitTime)
	}
	e, err = env.svc.UpdatePatientStatus(ctx, e.ID, StatusVitalsTaken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.EstimatedWaitTime != 5 {
		t.Errorf("expected urgent wait 5 after vitals, got %d", e.EstimatedWaitTime)
	}
	e, err = env.svc.UpdatePatientStatus(ctx, e.ID, StatusWithDoctor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.EstimatedWaitTime != 0 {
		t.Errorf("expected wait 0 with doctor, got %d", e.EstimatedWaitTime)
	}

	changes := env.publisher.ofType(websocket.EventStatusChanged)
	if len(changes) != 3 {
		t.Fatalf("expected 3 status events, got %d", len(changes))
	}
	if changes[0].ResourceType != "QueueEntry" || changes[0].ResourceID != e.ID.String() {
		t.Errorf("unexpected event %+v", changes[0])
	}
}

func TestUpdatePatientStatus_Rejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.register(t, "Peter Otieno", PriorityNormal)

	_, err := env.svc.UpdatePatientStatus(ctx, e.ID, StatusWithDoctor)
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	_, err = env.svc.UpdatePatientStatus(ctx, e.ID, "discharged")
	if !errors.Is(err, workflow.ErrUnknownState) {
		t.Errorf("expected ErrUnknownState, got %v", err)
	}
	_, err = env.svc.UpdatePatientStatus(ctx, uuid.New(), StatusWaitingVitals)
	if !db.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if got := env.queue.items[e.ID].Status; got != StatusRegistered {
		t.Errorf("expected status unchanged, got %s", got)
	}
}

func TestUpdatePatientStatus_Cancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.register(t, "Peter Otieno", PriorityNormal)

	e, err := env.svc.UpdatePatientStatus(ctx, e.ID, StatusCancelled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.EstimatedWaitTime != 0 {
		t.Errorf("expected wait 0, got %d", e.EstimatedWaitTime)
	}
	if _, err := env.svc.UpdatePatientStatus(ctx, e.ID, StatusWaitingVitals); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("cancelled entry must be terminal, got %v", err)
	}
}

func TestUpdatePriority(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	e := env.register(t, "Peter Otieno", PriorityNormal)
	tests := []struct {
		priority Priority
		wait     int
	}{
		{PriorityUrgent, 10},
		{PriorityEmergency, 0},
		{PriorityNormal, 30},
	}
	for _, tt := range tests {
		got, err := env.svc.UpdatePriority(ctx, e.ID, tt.priority)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.priority, err)
		}
		if got.Priority != tt.priority || got.EstimatedWaitTime != tt.wait {
			t.Errorf("%s: expected wait %d, got %s/%d", tt.priority, tt.wait, got.Priority, got.EstimatedWaitTime)
		}
	}

	if _, err := env.svc.RecordVitals(ctx, e.ID, sampleVitals()); err != nil {
		t.Fatalf("vitals: %v", err)
	}
	got, _ := env.svc.UpdatePriority(ctx, e.ID, PriorityUrgent)
	if got.EstimatedWaitTime != 5 {
		t.Errorf("expected urgent wait 5 after vitals, got %d", got.EstimatedWaitTime)
	}
	got, _ = env.svc.UpdatePriority(ctx, e.ID, PriorityNormal)
	if got.EstimatedWaitTime != 15 {
		t.Errorf("expected normal wait 15 after vitals, got %d", got.EstimatedWaitTime)
	}
}

func TestUpdatePriority_Rejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.register(t, "Peter Otieno", PriorityNormal)

	if _, err := env.svc.UpdatePriority(ctx, e.ID, "critical"); err == nil {
		t.Error("expected error for unknown priority")
	}
	env.svc.UpdatePatientStatus(ctx, e.ID, StatusCancelled)
	if _, err := env.svc.UpdatePriority(ctx, e.ID, PriorityUrgent); !errors.Is(err, ErrEntryClosed) {
		t.Errorf("expected ErrEntryClosed, got %v", err)
	}
}

// -- Triage and consultation --

func TestRecordVitals_FromRegistered(t *testing.T) {
	env := newTestEnv(t)
	e := env.register(t, "Peter Otieno", PriorityNormal)

	got, err := env.svc.RecordVitals(context.Background(), e.ID, sampleVitals())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusVitalsTaken {
		t.Errorf("expected vitals_taken, got %s", got.Status)
	}
	if got.Vitals == nil || got.Vitals.BMI == nil || *got.Vitals.BMI != 22.5 {
		t.Errorf("expected BMI 22.5, got %+v", got.Vitals)
	}
	if !got.Vitals.RecordedAt.Equal(testNow) {
		t.Errorf("expected recorded_at %v, got %v", testNow, got.Vitals.RecordedAt)
	}
	if got.EstimatedWaitTime != 15 {
		t.Errorf("expected wait 15, got %d", got.EstimatedWaitTime)
	}
	want := []string{
		"clinical_queue:registered->waiting_vitals",
		"clinical_queue:waiting_vitals->vitals_taken",
	}
	if len(env.metrics.transitions) != 2 || env.metrics.transitions[0] != want[0] || env.metrics.transitions[1] != want[1] {
		t.Errorf("unexpected transitions %v", env.metrics.transitions)
	}
	if env.queue.locks != 1 || env.tx.calls != 1 {
		t.Errorf("expected one locked transaction, got %d locks %d tx", env.queue.locks, env.tx.calls)
	}
}

func TestRecordVitals_WithoutHeight(t *testing.T) {
	env := newTestEnv(t)
	e := env.register(t, "Peter Otieno", PriorityNormal)
	v := sampleVitals()
	v.Height = nil

	got, err := env.svc.RecordVitals(context.Background(), e.ID, v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Vitals.BMI != nil {
		t.Errorf("expected no BMI, got %v", *got.Vitals.BMI)
	}
}

func TestRecordVitals_Validation(t *testing.T) {
	env := newTestEnv(t)
	e := env.register(t, "Peter Otieno", PriorityNormal)

	tests := []struct {
		name string
		mod  func(v *Vitals)
	}{
		{"temperature", func(v *Vitals) { v.Temperature = 50 }},
		{"missing pressure", func(v *Vitals) { v.BloodPressureSystolic = 0 }},
		{"inverted pressure", func(v *Vitals) { v.BloodPressureDiastolic = 140 }},
		{"pulse", func(v *Vitals) { v.PulseRate = 0 }},
		{"saturation", func(v *Vitals) { v.OxygenSaturation = 101 }},
		{"weight", func(v *Vitals) { w := -1.0; v.Weight = &w }},
		{"recorder", func(v *Vitals) { v.RecordedBy = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := sampleVitals()
			tt.mod(&v)
			if _, err := env.svc.RecordVitals(context.Background(), e.ID, v); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if env.queue.items[e.ID].Status != StatusRegistered {
		t.Error("rejected vitals must not move the entry")
	}
}

func TestRecordVitals_AfterDoctorRejected(t *testing.T) {
	env := newTestEnv(t)
	e := env.withDoctor(t, "Peter Otieno")

	_, err := env.svc.RecordVitals(context.Background(), e.ID, sampleVitals())
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAssignDoctor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.register(t, "Peter Otieno", PriorityNormal)

	if _, err := env.svc.AssignDoctor(ctx, e.ID, "doc-17", "Dr. Wanjiru Kamau"); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition before vitals, got %v", err)
	}
	if _, err := env.svc.AssignDoctor(ctx, e.ID, "", ""); err == nil {
		t.Error("expected error for missing doctor")
	}

	e = env.withDoctor(t, "Faith Njeri")
	if e.Status != StatusWithDoctor || *e.DoctorID != "doc-17" || *e.DoctorName != "Dr. Wanjiru Kamau" {
		t.Errorf("unexpected entry %+v", e)
	}
}

// -- Lab tests --

func TestLabFlow_ResultsReadyNotifiesDoctor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.withDoctor(t, "Peter Otieno")

	e, err := env.svc.OrderLabTests(ctx, e.ID, []string{"Full Blood Count", " Malaria Smear "}, "Dr. Wanjiru Kamau")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if e.Status != StatusLabOrdered || len(e.LabTests) != 2 {
		t.Fatalf("unexpected entry %s with %d tests", e.Status, len(e.LabTests))
	}
	if e.LabTests[1].Name != "Malaria Smear" || e.LabTests[1].Status != LabOrdered {
		t.Errorf("unexpected test %+v", e.LabTests[1])
	}
	fbc, smear := e.LabTests[0].ID, e.LabTests[1].ID

	for _, st := range []LabTestStatus{LabSampleCollected, LabProcessing} {
		if e, err = env.svc.UpdateLabTestStatus(ctx, e.ID, fbc, LabUpdate{Status: st}); err != nil {
			t.Fatalf("%s: %v", st, err)
		}
	}
	e, err = env.svc.UpdateLabTestStatus(ctx, e.ID, fbc, LabUpdate{Status: LabCompleted, Results: "Hb 13.2 g/dL", UploadedBy: "lab.kiprop"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if e.Status != StatusLabOrdered {
		t.Errorf("expected lab_ordered while a test is open, got %s", e.Status)
	}
	if e.LabTests[0].ResultUploadedAt == nil || e.LabTests[0].ResultUploadedBy != "lab.kiprop" {
		t.Errorf("expected result stamp, got %+v", e.LabTests[0])
	}
	if len(env.notifier.toasts) != 0 {
		t.Errorf("expected no toast yet, got %d", len(env.notifier.toasts))
	}

	e, err = env.svc.UpdateLabTestStatus(ctx, e.ID, smear, LabUpdate{Status: LabCancelled})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if e.Status != StatusLabCompleted {
		t.Errorf("expected lab_completed, got %s", e.Status)
	}
	if len(env.notifier.toasts) != 1 {
		t.Fatalf("expected one toast, got %d", len(env.notifier.toasts))
	}
	toast := env.notifier.toasts[0]
	if toast.TemplateID != notification.TemplateLabResultsReady || toast.Recipient != "doc-17" {
		t.Errorf("unexpected toast %+v", toast)
	}
	if toast.Data["token"] != "1" || toast.Data["patient_name"] != "Peter Otieno" {
		t.Errorf("unexpected toast data %v", toast.Data)
	}
	if got := len(env.publisher.ofType(EventLabTestUpdated)); got != 4 {
		t.Errorf("expected 4 lab events, got %d", got)
	}

	// Back to the doctor with results.
	if _, err := env.svc.UpdatePatientStatus(ctx, e.ID, StatusWithDoctor); err != nil {
		t.Errorf("expected lab_completed -> with_doctor, got %v", err)
	}
}

func TestOrderLabTests_AppendsWhilePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.withDoctor(t, "Peter Otieno")

	env.svc.OrderLabTests(ctx, e.ID, []string{"Urinalysis"}, "Dr. Wanjiru Kamau")
	e, err := env.svc.OrderLabTests(ctx, e.ID, []string{"Blood Sugar"}, "Dr. Wanjiru Kamau")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Status != StatusLabOrdered || len(e.LabTests) != 2 {
		t.Errorf("expected two tests on lab_ordered, got %s/%d", e.Status, len(e.LabTests))
	}
}

func TestOrderLabTests_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.withDoctor(t, "Peter Otieno")

	if _, err := env.svc.OrderLabTests(ctx, e.ID, nil, "Dr. Wanjiru Kamau"); err == nil {
		t.Error("expected error for no tests")
	}
	if _, err := env.svc.OrderLabTests(ctx, e.ID, []string{" "}, "Dr. Wanjiru Kamau"); err == nil {
		t.Error("expected error for blank test")
	}
	if _, err := env.svc.OrderLabTests(ctx, e.ID, []string{"Urinalysis"}, ""); err == nil {
		t.Error("expected error for missing orderer")
	}

	fresh := env.register(t, "Faith Njeri", PriorityNormal)
	if _, err := env.svc.OrderLabTests(ctx, fresh.ID, []string{"Urinalysis"}, "Dr. Wanjiru Kamau"); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition before consultation, got %v", err)
	}
}

func TestUpdateLabTestStatus_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.withDoctor(t, "Peter Otieno")
	e, _ = env.svc.OrderLabTests(ctx, e.ID, []string{"Urinalysis"}, "Dr. Wanjiru Kamau")
	testID := e.LabTests[0].ID

	if _, err := env.svc.UpdateLabTestStatus(ctx, e.ID, uuid.New(), LabUpdate{Status: LabSampleCollected}); !db.IsNotFound(err) {
		t.Errorf("expected not found for unknown test, got %v", err)
	}
	if _, err := env.svc.UpdateLabTestStatus(ctx, e.ID, testID, LabUpdate{Status: LabProcessing}); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition when skipping collection, got %v", err)
	}
	if _, err := env.svc.UpdateLabTestStatus(ctx, e.ID, testID, LabUpdate{Status: LabCompleted, UploadedBy: "lab.kiprop"}); err == nil {
		t.Error("expected error for completion without results")
	}
	if got := env.queue.items[e.ID].LabTests[0].Status; got != LabOrdered {
		t.Errorf("expected test unchanged, got %s", got)
	}
}

// -- Diagnosis and prescriptions --

func TestRecordDiagnosis(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.withDoctor(t, "Peter Otieno")

	e, err := env.svc.RecordDiagnosis(ctx, e.ID, Diagnosis{Description: "Malaria", ICDCode: "B54"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Diagnoses) != 1 || e.Diagnoses[0].Type != "provisional" || e.Diagnoses[0].ID == uuid.Nil {
		t.Errorf("unexpected diagnoses %+v", e.Diagnoses)
	}
	if e.Status != StatusWithDoctor {
		t.Errorf("diagnosis must not move the entry, got %s", e.Status)
	}
	if _, err := env.svc.RecordDiagnosis(ctx, e.ID, Diagnosis{Description: "Malaria", Type: "suspected"}); err == nil {
		t.Error("expected error for unknown type")
	}
	env.svc.UpdatePatientStatus(ctx, e.ID, StatusCompleted)
	if _, err := env.svc.RecordDiagnosis(ctx, e.ID, Diagnosis{Description: "Malaria", Type: "final"}); !errors.Is(err, ErrEntryClosed) {
		t.Errorf("expected ErrEntryClosed, got %v", err)
	}
}

func TestPrescribeMedications(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e := env.withDoctor(t, "Peter Otieno")

	meds := []Medication{
		{Name: "Artemether/Lumefantrine", Dosage: "80/480mg", Frequency: "BD", Duration: "3 days"},
		{Name: "Paracetamol", Dosage: "1g", Frequency: "TDS", Duration: "3 days", Instructions: "After meals"},
	}
	e, err := env.svc.PrescribeMedications(ctx, e.ID, meds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Status != StatusPharmacy || len(e.Medications) != 2 || e.Medications[0].ID == uuid.Nil {
		t.Errorf("unexpected entry %s %+v", e.Status, e.Medications)
	}
	issued := env.publisher.ofType(EventPrescriptionSent)
	if len(issued) != 1 || issued[0].Topic != websocket.TopicPharmacy {
		t.Errorf("expected one prescription event on the pharmacy topic, got %+v", issued)
	}

	if _, err := env.svc.PrescribeMedications(ctx, e.ID, []Medication{{Name: "Paracetamol"}}); err == nil {
		t.Error("expected error for incomplete medication")
	}
	if _, err := env.svc.UpdatePatientStatus(ctx, e.ID, StatusCompleted); err != nil {
		t.Errorf("expected pharmacy -> completed, got %v", err)
	}
}

// -- Notifications --

func TestNotifyPatient(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "Peter Otieno", PriorityNormal)
	e := env.register(t, "Faith Njeri", PriorityNormal)

	toast, err := env.svc.NotifyPatient(context.Background(), e.ID, "Triage Room 2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toast.TemplateID != notification.TemplatePatientCalled || toast.Recipient != "P-Faith Njeri" {
		t.Errorf("unexpected toast %+v", toast)
	}
	if toast.Data["token"] != "2" || toast.Data["location"] != "Triage Room 2" {
		t.Errorf("unexpected data %v", toast.Data)
	}
	if got := len(env.publisher.ofType(EventPatientCalled)); got != 1 {
		t.Errorf("expected one call event, got %d", got)
	}
	if _, err := env.svc.NotifyPatient(context.Background(), e.ID, ""); err == nil {
		t.Error("expected error for missing location")
	}
}

func TestNotifyDoctor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	waiting := env.register(t, "Faith Njeri", PriorityNormal)
	if _, err := env.svc.NotifyDoctor(ctx, waiting.ID); !errors.Is(err, ErrNoDoctor) {
		t.Errorf("expected ErrNoDoctor, got %v", err)
	}

	e := env.withDoctor(t, "Peter Otieno")
	toast, err := env.svc.NotifyDoctor(ctx, e.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toast.TemplateID != notification.TemplateDoctorAssigned || toast.Recipient != "doc-17" {
		t.Errorf("unexpected toast %+v", toast)
	}
	if toast.Data["doctor_name"] != "Dr. Wanjiru Kamau" || toast.Data["patient_name"] != "Peter Otieno" || toast.Data["token"] != "2" {
		t.Errorf("unexpected data %v", toast.Data)
	}
}

func TestNotify_WithoutNotifier(t *testing.T) {
	env := newTestEnv(t)
	env.svc.SetNotifier(nil)
	e := env.register(t, "Peter Otieno", PriorityNormal)

	if _, err := env.svc.NotifyPatient(context.Background(), e.ID, "Room 1"); !errors.Is(err, ErrNotificationsOff) {
		t.Errorf("expected ErrNotificationsOff, got %v", err)
	}
}

// -- Queue views --

func TestListQueue_PriorityThenToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "Peter Otieno", PriorityNormal)
	env.register(t, "Faith Njeri", PriorityUrgent)
	env.register(t, "James Mwangi", PriorityEmergency)
	env.register(t, "Lucy Chebet", PriorityNormal)

	items, total, err := env.svc.ListQueue(context.Background(), QueueFilter{Status: StatusRegistered}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected 4, got %d", total)
	}
	want := []string{"James Mwangi", "Faith Njeri", "Peter Otieno", "Lucy Chebet"}
	for i, name := range want {
		if items[i].PatientName != name {
			t.Errorf("position %d: expected %s, got %s", i, name, items[i].PatientName)
		}
	}

	if _, _, err := env.svc.ListQueue(context.Background(), QueueFilter{Status: "lost"}, 20, 0); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestGetTokenBoard(t *testing.T) {
	env := newTestEnv(t)
	env.withDoctor(t, "Peter Otieno")
	env.register(t, "Faith Njeri", PriorityNormal)
	e := env.register(t, "James Mwangi", PriorityNormal)
	env.svc.RecordVitals(context.Background(), e.ID, sampleVitals())
	cancelled := env.register(t, "Lucy Chebet", PriorityNormal)
	env.svc.UpdatePatientStatus(context.Background(), cancelled.ID, StatusCancelled)

	board, err := env.svc.GetTokenBoard(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if board.Date != "2025-03-11" || board.LastToken != 4 {
		t.Errorf("unexpected board header %s/%d", board.Date, board.LastToken)
	}
	if len(board.NowServing) != 1 || board.NowServing[0].PatientName != "Peter Otieno" {
		t.Errorf("unexpected now serving %+v", board.NowServing)
	}
	if board.Waiting != 2 {
		t.Errorf("expected 2 waiting, got %d", board.Waiting)
	}
}

func TestGetTokenBoard_Empty(t *testing.T) {
	env := newTestEnv(t)
	board, err := env.svc.GetTokenBoard(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if board.LastToken != 0 || board.NowServing == nil || board.Waiting != 0 {
		t.Errorf("unexpected empty board %+v", board)
	}
}
