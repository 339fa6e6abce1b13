package clinical

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/internal/platform/notification"
	"github.com/bristolpark/hmis/internal/platform/sequence"
	"github.com/bristolpark/hmis/internal/platform/telemetry"
	"github.com/bristolpark/hmis/internal/platform/websocket"
)

const tokenKeyPrefix = "clinical:token"

// Events published on the clinical topic besides status changes.
const (
	EventPatientRegistered = "patient.registered"
	EventPatientCalled     = "patient.called"
	EventLabTestUpdated    = "lab_test.updated"
	EventPrescriptionSent  = "prescription.issued"
)

var (
	ErrEntryClosed      = errors.New("queue entry is closed")
	ErrNoDoctor         = errors.New("no doctor assigned")
	ErrNotificationsOff = errors.New("notifications are not configured")
)

type Service struct {
	queue QueueRepository
	seq   sequence.Sequencer

	tx        db.Transactor
	publisher websocket.EventPublisher
	notifier  notification.Notifier
	metrics   telemetry.Recorder
	now       func() time.Time
}

func NewService(queue QueueRepository, seq sequence.Sequencer) *Service {
	return &Service{
		queue:     queue,
		seq:       sequence.Seeded(seq, sequence.DailyFloor(queue.MaxToken)),
		publisher: websocket.NopPublisher{},
		metrics:   telemetry.NopRecorder{},
		now:       time.Now,
	}
}

func (s *Service) SetTransactor(tx db.Transactor)          { s.tx = tx }
func (s *Service) SetPublisher(p websocket.EventPublisher) { s.publisher = p }
func (s *Service) SetNotifier(n notification.Notifier)     { s.notifier = n }
func (s *Service) SetRecorder(r telemetry.Recorder)        { s.metrics = r }

func queueDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RegisterInput is what the front desk captures for a new visit.
type RegisterInput struct {
	PatientID       string   `json:"patient_id"`
	PatientName     string   `json:"patient_name"`
	Priority        Priority `json:"priority"`
	ChiefComplaints string   `json:"chief_complaints"`
	Notes           *string  `json:"notes"`
}

// RegisterPatient queues a visit under the next token for today.
func (s *Service) RegisterPatient(ctx context.Context, in RegisterInput) (*QueueEntry, error) {
	if strings.TrimSpace(in.PatientID) == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	if strings.TrimSpace(in.PatientName) == "" {
		return nil, fmt.Errorf("patient_name is required")
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("invalid priority: %s", in.Priority)
	}

	now := s.now()
	day := queueDay(now)
	token, err := s.seq.Next(ctx, sequence.DailyKey(tokenKeyPrefix, day))
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	e := &QueueEntry{
		PatientID:         in.PatientID,
		PatientName:       in.PatientName,
		TokenNumber:       int(token),
		QueueDate:         day,
		Status:            QueueMachine.Initial(),
		Priority:          in.Priority,
		RegisteredAt:      now,
		EstimatedWaitTime: registrationWait(in.Priority),
		ChiefComplaints:   in.ChiefComplaints,
		Notes:             in.Notes,
		BranchID:          db.BranchFromContext(ctx),
	}
	if err := s.queue.Create(ctx, e); err != nil {
		return nil, err
	}
	s.metrics.RecordToken()
	s.publisher.Publish(ctx, websocket.NewEvent(EventPatientRegistered, websocket.TopicClinical, "QueueEntry", e.ID.String(), map[string]interface{}{
		"token_number": e.TokenNumber,
		"patient_name": e.PatientName,
		"priority":     e.Priority,
	}))
	return e, nil
}

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	return s.queue.GetByID(ctx, id)
}

func (s *Service) ListQueue(ctx context.Context, f QueueFilter, limit, offset int) ([]*QueueEntry, int, error) {
	if f.Status != "" && !QueueMachine.Valid(f.Status) {
		return nil, 0, fmt.Errorf("invalid status: %s", f.Status)
	}
	return s.queue.List(ctx, f, limit, offset)
}

// mutate locks an entry, applies fn and saves it. A status change is
// published once the transaction commits.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(e *QueueEntry, now time.Time) error) (*QueueEntry, PatientStatus, error) {
	var (
		e    *QueueEntry
		from PatientStatus
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		e, err = s.queue.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = e.Status
		now := s.now()
		if err := fn(e, now); err != nil {
			return err
		}
		e.LastUpdatedAt = now
		return s.queue.Update(ctx, e)
	})
	if err != nil {
		return nil, "", err
	}
	if from != e.Status {
		s.publisher.Publish(ctx, websocket.NewStatusChangedEvent(websocket.TopicClinical, "QueueEntry",
			e.ID.String(), string(from), string(e.Status), map[string]interface{}{
				"token_number": e.TokenNumber,
				"patient_name": e.PatientName,
			}))
	}
	return e, from, nil
}

func (s *Service) move(e *QueueEntry, to PatientStatus) error {
	from := e.Status
	if _, err := QueueMachine.Transition(from, to); err != nil {
		return err
	}
	e.Status = to
	s.metrics.RecordTransition(QueueMachine.Name(), string(from), string(to))
	return nil
}

func (s *Service) UpdatePatientStatus(ctx context.Context, id uuid.UUID, status PatientStatus) (*QueueEntry, error) {
	e, _, err := s.mutate(ctx, id, func(e *QueueEntry, _ time.Time) error {
		if err := s.move(e, status); err != nil {
			return err
		}
		e.EstimatedWaitTime = statusWait(e.Status, e.Priority)
		return nil
	})
	return e, err
}

func validateVitals(v *Vitals) error {
	if v.Temperature < 25 || v.Temperature > 45 {
		return fmt.Errorf("temperature must be between 25 and 45")
	}
	if v.BloodPressureSystolic <= 0 || v.BloodPressureDiastolic <= 0 {
		return fmt.Errorf("blood pressure is required")
	}
	if v.BloodPressureDiastolic >= v.BloodPressureSystolic {
		return fmt.Errorf("diastolic pressure must be below systolic")
	}
	if v.PulseRate <= 0 || v.RespiratoryRate <= 0 {
		return fmt.Errorf("pulse_rate and respiratory_rate are required")
	}
	if v.OxygenSaturation < 0 || v.OxygenSaturation > 100 {
		return fmt.Errorf("oxygen_saturation must be between 0 and 100")
	}
	if (v.Height != nil && *v.Height <= 0) || (v.Weight != nil && *v.Weight <= 0) {
		return fmt.Errorf("height and weight must be positive")
	}
	if strings.TrimSpace(v.RecordedBy) == "" {
		return fmt.Errorf("recorded_by is required")
	}
	return nil
}

// bmi uses height in centimetres and weight in kilograms, rounded to one
// decimal place.
func bmi(heightCM, weightKG float64) float64 {
	m := heightCM / 100
	return math.Round(weightKG/(m*m)*10) / 10
}

// RecordVitals stores the triage reading and moves the entry to
// vitals_taken, passing through waiting_vitals if it was just registered.
func (s *Service) RecordVitals(ctx context.Context, id uuid.UUID, v Vitals) (*QueueEntry, error) {
	if err := validateVitals(&v); err != nil {
		return nil, err
	}
	e, _, err := s.mutate(ctx, id, func(e *QueueEntry, now time.Time) error {
		if e.Status == StatusRegistered {
			if err := s.move(e, StatusWaitingVitals); err != nil {
				return err
			}
		}
		if err := s.move(e, StatusVitalsTaken); err != nil {
			return err
		}
		v.BMI = nil
		if v.Height != nil && v.Weight != nil {
			b := bmi(*v.Height, *v.Weight)
			v.BMI = &b
		}
		v.RecordedAt = now
		e.Vitals = &v
		e.EstimatedWaitTime = statusWait(e.Status, e.Priority)
		return nil
	})
	return e, err
}

func (s *Service) AssignDoctor(ctx context.Context, id uuid.UUID, doctorID, doctorName string) (*QueueEntry, error) {
	if strings.TrimSpace(doctorID) == "" || strings.TrimSpace(doctorName) == "" {
		return nil, fmt.Errorf("doctor_id and doctor_name are required")
	}
	e, _, err := s.mutate(ctx, id, func(e *QueueEntry, _ time.Time) error {
		if err := s.move(e, StatusWithDoctor); err != nil {
			return err
		}
		e.DoctorID = &doctorID
		e.DoctorName = &doctorName
		e.EstimatedWaitTime = 0
		return nil
	})
	return e, err
}

func (s *Service) UpdatePriority(ctx context.Context, id uuid.UUID, p Priority) (*QueueEntry, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority: %s", p)
	}
	e, _, err := s.mutate(ctx, id, func(e *QueueEntry, _ time.Time) error {
		if QueueMachine.IsTerminal(e.Status) {
			return fmt.Errorf("%w: entry is %s", ErrEntryClosed, e.Status)
		}
		e.Priority = p
		e.EstimatedWaitTime = priorityWait(p, e.Status)
		return nil
	})
	return e, err
}

// OrderLabTests adds tests to the visit. Further orders while results are
// pending are appended without another status change.
func (s *Service) OrderLabTests(ctx context.Context, id uuid.UUID, names []string, orderedBy string) (*QueueEntry, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one test is required")
	}
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			return nil, fmt.Errorf("test name is required")
		}
	}
	if strings.TrimSpace(orderedBy) == "" {
		return nil, fmt.Errorf("ordered_by is required")
	}
	e, _, err := s.mutate(ctx, id, func(e *QueueEntry, now time.Time) error {
		if e.Status != StatusLabOrdered {
			if err := s.move(e, StatusLabOrdered); err != nil {
				return err
			}
		}
		for _, n := range names {
			e.LabTests = append(e.LabTests, LabTest{
				ID:        uuid.New(),
				Name:      strings.TrimSpace(n),
				Status:    LabTestMachine.Initial(),
				OrderedBy: orderedBy,
				OrderedAt: now,
			})
		}
		e.EstimatedWaitTime = 0
		return nil
	})
	return e, err
}

// LabUpdate moves one lab test along. Results are required on completion.
type LabUpdate struct {
	Status     LabTestStatus `json:"status"`
	Results    string        `json:"results"`
	UploadedBy string        `json:"uploaded_by"`
}

// UpdateLabTestStatus advances one test. When every test on the visit is
// completed or cancelled the entry moves to lab_completed and the doctor is
// told the results are ready.
func (s *Service) UpdateLabTestStatus(ctx context.Context, id, testID uuid.UUID, upd LabUpdate) (*QueueEntry, error) {
	if upd.Status == LabCompleted {
		if strings.TrimSpace(upd.Results) == "" {
			return nil, fmt.Errorf("results are required")
		}
		if strings.TrimSpace(upd.UploadedBy) == "" {
			return nil, fmt.Errorf("uploaded_by is required")
		}
	}
	var name string
	e, from, err := s.mutate(ctx, id, func(e *QueueEntry, now time.Time) error {
		t := e.labTest(testID)
		if t == nil {
			return fmt.Errorf("lab test %s: %w", testID, db.ErrNotFound)
		}
		prev := t.Status
		if _, err := LabTestMachine.Transition(prev, upd.Status); err != nil {
			return err
		}
		t.Status = upd.Status
		name = t.Name
		if upd.Status == LabCompleted {
			t.Results = upd.Results
			t.ResultUploadedBy = upd.UploadedBy
			t.ResultUploadedAt = &now
		}
		s.metrics.RecordTransition(LabTestMachine.Name(), string(prev), string(upd.Status))
		if e.Status == StatusLabOrdered && labsSettled(e.LabTests) {
			return s.move(e, StatusLabCompleted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, websocket.NewEvent(EventLabTestUpdated, websocket.TopicClinical, "QueueEntry", e.ID.String(), map[string]string{
		"lab_test_id": testID.String(),
		"test_name":   name,
		"status":      string(upd.Status),
	}))
	if from != e.Status && e.Status == StatusLabCompleted && s.notifier != nil && e.DoctorID != nil {
		s.notifier.Notify(ctx, notification.TemplateLabResultsReady, *e.DoctorID, map[string]string{
			"token":        strconv.Itoa(e.TokenNumber),
			"patient_name": e.PatientName,
		})
	}
	return e, nil
}

// RecordDiagnosis adds a provisional or final diagnosis to an open visit.
func (s *Service) RecordDiagnosis(ctx context.Context, id uuid.UUID, d Diagnosis) (*QueueEntry, error) {
	if strings.TrimSpace(d.Description) == "" {
		return nil, fmt.Errorf("description is required")
	}
	if d.Type == "" {
		d.Type = "provisional"
	}
	if d.Type != "provisional" && d.Type != "final" {
		return nil, fmt.Errorf("type must be provisional or final")
	}
	e, _, err := s.mutate(ctx, id, func(e *QueueEntry, _ time.Time) error {
		if QueueMachine.IsTerminal(e.Status) {
			return fmt.Errorf("%w: entry is %s", ErrEntryClosed, e.Status)
		}
		d.ID = uuid.New()
		e.Diagnoses = append(e.Diagnoses, d)
		return nil
	})
	return e, err
}

// PrescribeMedications attaches prescriptions and sends the patient to the
// pharmacy. The prescription is also announced on the pharmacy topic.
func (s *Service) PrescribeMedications(ctx context.Context, id uuid.UUID, meds []Medication) (*QueueEntry, error) {
	if len(meds) == 0 {
		return nil, fmt.Errorf("at least one medication is required")
	}
	for i, m := range meds {
		if strings.TrimSpace(m.Name) == "" || m.Dosage == "" || m.Frequency == "" {
			return nil, fmt.Errorf("medication %d: name, dosage and frequency are required", i+1)
		}
	}
	e, _, err := s.mutate(ctx, id, func(e *QueueEntry, _ time.Time) error {
		if err := s.move(e, StatusPharmacy); err != nil {
			return err
		}
		for _, m := range meds {
			m.ID = uuid.New()
			e.Medications = append(e.Medications, m)
		}
		e.EstimatedWaitTime = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, websocket.NewEvent(EventPrescriptionSent, websocket.TopicPharmacy, "QueueEntry", e.ID.String(), map[string]interface{}{
		"patient_id":   e.PatientID,
		"patient_name": e.PatientName,
		"token_number": e.TokenNumber,
		"medications":  meds,
	}))
	return e, nil
}

// NotifyPatient calls the patient's token to a room or desk.
func (s *Service) NotifyPatient(ctx context.Context, id uuid.UUID, location string) (*notification.Toast, error) {
	if strings.TrimSpace(location) == "" {
		return nil, fmt.Errorf("location is required")
	}
	if s.notifier == nil {
		return nil, ErrNotificationsOff
	}
	e, err := s.queue.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	token := strconv.Itoa(e.TokenNumber)
	t, err := s.notifier.Notify(ctx, notification.TemplatePatientCalled, e.PatientID, map[string]string{
		"token":    token,
		"location": location,
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, websocket.NewEvent(EventPatientCalled, websocket.TopicClinical, "QueueEntry", e.ID.String(), map[string]string{
		"token":    token,
		"location": location,
	}))
	return t, nil
}

// NotifyDoctor tells the assigned doctor a patient is ready for them.
func (s *Service) NotifyDoctor(ctx context.Context, id uuid.UUID) (*notification.Toast, error) {
	if s.notifier == nil {
		return nil, ErrNotificationsOff
	}
	e, err := s.queue.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.DoctorID == nil {
		return nil, ErrNoDoctor
	}
	name := *e.DoctorID
	if e.DoctorName != nil {
		name = *e.DoctorName
	}
	return s.notifier.Notify(ctx, notification.TemplateDoctorAssigned, *e.DoctorID, map[string]string{
		"doctor_name":  name,
		"token":        strconv.Itoa(e.TokenNumber),
		"patient_name": e.PatientName,
	})
}

const boardLimit = 50

// GetTokenBoard reports the last token issued today, who is with a doctor
// and how many are still waiting to be seen.
func (s *Service) GetTokenBoard(ctx context.Context) (*TokenBoard, error) {
	day := queueDay(s.now())
	last, err := s.seq.Current(ctx, sequence.DailyKey(tokenKeyPrefix, day))
	if err != nil {
		return nil, err
	}
	serving, _, err := s.queue.List(ctx, QueueFilter{Status: StatusWithDoctor, Date: &day}, boardLimit, 0)
	if err != nil {
		return nil, err
	}
	if serving == nil {
		serving = []*QueueEntry{}
	}
	board := &TokenBoard{Date: day.Format("2006-01-02"), LastToken: last, NowServing: serving}
	for _, st := range []PatientStatus{StatusRegistered, StatusWaitingVitals, StatusVitalsTaken} {
		_, n, err := s.queue.List(ctx, QueueFilter{Status: st, Date: &day}, 0, 0)
		if err != nil {
			return nil, err
		}
		board.Waiting += n
	}
	return board, nil
}
