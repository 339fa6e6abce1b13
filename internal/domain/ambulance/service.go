package ambulance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/internal/platform/sequence"
	"github.com/bristolpark/hmis/internal/platform/telemetry"
	"github.com/bristolpark/hmis/internal/platform/websocket"
)

// CallNumberPrefix prefixes emergency call numbers (AMB-2025-10001).
const CallNumberPrefix = "AMB"

// EventCrewAssigned is published when an ambulance crew list is replaced.
const EventCrewAssigned = "crew.assigned"

type Service struct {
	ambulances  AmbulanceRepository
	crew        CrewRepository
	calls       CallRepository
	maintenance MaintenanceRepository
	seq         sequence.Sequencer

	tx        db.Transactor
	publisher websocket.EventPublisher
	metrics   telemetry.Recorder
	now       func() time.Time
}

func NewService(ambulances AmbulanceRepository, crew CrewRepository, calls CallRepository, maintenance MaintenanceRepository, seq sequence.Sequencer) *Service {
	return &Service{
		ambulances:  ambulances,
		crew:        crew,
		calls:       calls,
		maintenance: maintenance,
		seq:         sequence.Seeded(seq, sequence.YearlyFloor(CallNumberPrefix, calls.MaxNumber)),
		publisher:   websocket.NopPublisher{},
		metrics:     telemetry.NopRecorder{},
		now:         time.Now,
	}
}

func (s *Service) SetTransactor(tx db.Transactor)          { s.tx = tx }
func (s *Service) SetPublisher(p websocket.EventPublisher) { s.publisher = p }
func (s *Service) SetRecorder(r telemetry.Recorder)        { s.metrics = r }

func (s *Service) publishAmbulance(ctx context.Context, a *Ambulance, from AmbulanceStatus) {
	if from == a.Status {
		return
	}
	var call string
	if a.CurrentCall != nil {
		call = a.CurrentCall.String()
	}
	s.publisher.Publish(ctx, websocket.NewStatusChangedEvent(websocket.TopicAmbulance, "Ambulance",
		a.ID.String(), string(from), string(a.Status), map[string]string{
			"vehicle_number": a.VehicleNumber,
			"current_call":   call,
		}))
}

func (s *Service) publishCall(ctx context.Context, c *Call, from CallStatus) {
	if from == c.Status {
		return
	}
	var amb string
	if c.DispatchedAmbulance != nil {
		amb = c.DispatchedAmbulance.String()
	}
	s.publisher.Publish(ctx, websocket.NewStatusChangedEvent(websocket.TopicCalls, "AmbulanceCall",
		c.ID.String(), string(from), string(c.Status), map[string]string{
			"call_number":          c.CallNumber,
			"priority":             string(c.Priority),
			"dispatched_ambulance": amb,
		}))
}

// moveAmbulance transitions a through AmbulanceMachine.
func (s *Service) moveAmbulance(a *Ambulance, to AmbulanceStatus) error {
	from := a.Status
	if _, err := AmbulanceMachine.Transition(from, to); err != nil {
		return err
	}
	a.Status = to
	a.LastUpdatedAt = s.now()
	s.metrics.RecordTransition(AmbulanceMachine.Name(), string(from), string(to))
	return nil
}

// -- Fleet --

func (s *Service) AddAmbulance(ctx context.Context, a *Ambulance) error {
	if a.VehicleNumber == "" {
		return fmt.Errorf("vehicle_number is required")
	}
	if a.LicensePlate == "" {
		return fmt.Errorf("license_plate is required")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("type is required")
	}
	if a.Status == "" {
		a.Status = AmbulanceMachine.Initial()
	}
	if !AmbulanceMachine.Valid(a.Status) {
		return fmt.Errorf("invalid status: %s", a.Status)
	}
	if a.FuelLevel < 0 || a.FuelLevel > 100 {
		return fmt.Errorf("fuel_level must be between 0 and 100")
	}
	if a.Crew == nil {
		a.Crew = []uuid.UUID{}
	}
	if a.BranchID == 0 {
		a.BranchID = db.BranchFromContext(ctx)
	}
	a.LastUpdatedAt = s.now()
	return s.ambulances.Create(ctx, a)
}

func (s *Service) GetAmbulance(ctx context.Context, id uuid.UUID) (*Ambulance, error) {
	return s.ambulances.GetByID(ctx, id)
}

func (s *Service) ListAmbulances(ctx context.Context, f AmbulanceFilter, limit, offset int) ([]*Ambulance, int, error) {
	return s.ambulances.List(ctx, f, limit, offset)
}

// GetAvailableAmbulances lists available ambulances, optionally of one type.
func (s *Service) GetAvailableAmbulances(ctx context.Context, t AmbulanceType, limit, offset int) ([]*Ambulance, int, error) {
	if t != "" && !t.Valid() {
		return nil, 0, fmt.Errorf("invalid type: %s", t)
	}
	return s.ambulances.List(ctx, AmbulanceFilter{Status: AmbulanceAvailable, Type: t}, limit, offset)
}

// UpdateAmbulance changes descriptive fields. Status, crew and current call
// have their own operations.
func (s *Service) UpdateAmbulance(ctx context.Context, a *Ambulance) error {
	existing, err := s.editAmbulance(ctx, a.ID, func(existing *Ambulance) error {
		if a.VehicleNumber != "" {
			existing.VehicleNumber = a.VehicleNumber
		}
		if a.LicensePlate != "" {
			existing.LicensePlate = a.LicensePlate
		}
		if a.Type != "" {
			if !a.Type.Valid() {
				return fmt.Errorf("invalid type: %s", a.Type)
			}
			existing.Type = a.Type
		}
		if a.BaseLocation != "" {
			existing.BaseLocation = a.BaseLocation
		}
		if a.Make != "" {
			existing.Make = a.Make
		}
		if a.Model != "" {
			existing.Model = a.Model
		}
		if a.Year > 0 {
			existing.Year = a.Year
		}
		if a.Mileage > 0 {
			existing.Mileage = a.Mileage
		}
		if a.FuelLevel != 0 {
			if a.FuelLevel < 0 || a.FuelLevel > 100 {
				return fmt.Errorf("fuel_level must be between 0 and 100")
			}
			existing.FuelLevel = a.FuelLevel
		}
		if a.Notes != nil {
			existing.Notes = a.Notes
		}
		return nil
	})
	if err != nil {
		return err
	}
	*a = *existing
	return nil
}

// UpdateAmbulanceStatus moves an ambulance through AmbulanceMachine and
// optionally records its position. An ambulance on a call only changes
// status through the call.
func (s *Service) UpdateAmbulanceStatus(ctx context.Context, id uuid.UUID, status AmbulanceStatus, loc *Location) (*Ambulance, error) {
	var (
		a    *Ambulance
		from AmbulanceStatus
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		a, err = s.ambulances.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.CurrentCall != nil {
			return fmt.Errorf("%w: %s is on call %s", ErrAmbulanceOnCall, a.VehicleNumber, *a.CurrentCall)
		}
		from = a.Status
		if err := s.moveAmbulance(a, status); err != nil {
			return err
		}
		if loc != nil {
			a.CurrentLocation = loc
		}
		return s.ambulances.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.publishAmbulance(ctx, a, from)
	return a, nil
}

func (s *Service) UpdateLocation(ctx context.Context, id uuid.UUID, loc Location) (*Ambulance, error) {
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		return nil, fmt.Errorf("invalid coordinates")
	}
	a, err := s.editAmbulance(ctx, id, func(a *Ambulance) error {
		a.CurrentLocation = &loc
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, websocket.NewEvent("location.updated", websocket.TopicAmbulance, "Ambulance", a.ID.String(), loc))
	return a, nil
}

func (s *Service) UpdateEquipmentStatus(ctx context.Context, id uuid.UUID, upd EquipmentUpdate) (*Ambulance, error) {
	a, err := s.editAmbulance(ctx, id, func(a *Ambulance) error {
		upd.apply(&a.Equipment)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// -- Crew --

func (s *Service) AddCrewMember(ctx context.Context, m *CrewMember) error {
	if m.StaffID == "" {
		return fmt.Errorf("staff_id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !m.Role.Valid() {
		return fmt.Errorf("role is required")
	}
	if m.Status == "" {
		m.Status = CrewOffDuty
	}
	if !m.Status.Valid() {
		return fmt.Errorf("invalid status: %s", m.Status)
	}
	m.CurrentAmbulance = nil
	if m.Certifications == nil {
		m.Certifications = []Certification{}
	}
	if m.BranchID == 0 {
		m.BranchID = db.BranchFromContext(ctx)
	}
	m.LastUpdatedAt = s.now()
	return s.crew.Create(ctx, m)
}

func (s *Service) GetCrewMember(ctx context.Context, id uuid.UUID) (*CrewMember, error) {
	return s.crew.GetByID(ctx, id)
}

func (s *Service) ListCrewMembers(ctx context.Context, f CrewFilter, limit, offset int) ([]*CrewMember, int, error) {
	return s.crew.List(ctx, f, limit, offset)
}

// GetAvailableCrewMembers lists on-duty crew not assigned to an ambulance.
func (s *Service) GetAvailableCrewMembers(ctx context.Context, limit, offset int) ([]*CrewMember, int, error) {
	return s.crew.List(ctx, CrewFilter{Status: CrewOnDuty, Unassigned: true}, limit, offset)
}

func (s *Service) UpdateCrewMember(ctx context.Context, m *CrewMember) error {
	existing, err := s.editCrew(ctx, m.ID, func(existing *CrewMember) error {
		if m.StaffID != "" {
			existing.StaffID = m.StaffID
		}
		if m.Name != "" {
			existing.Name = m.Name
		}
		if m.Role != "" {
			if !m.Role.Valid() {
				return fmt.Errorf("invalid role: %s", m.Role)
			}
			existing.Role = m.Role
		}
		if m.Qualification != "" {
			existing.Qualification = m.Qualification
		}
		if m.ContactNumber != "" {
			existing.ContactNumber = m.ContactNumber
		}
		if m.Email != "" {
			existing.Email = m.Email
		}
		if m.Certifications != nil {
			existing.Certifications = m.Certifications
		}
		if m.Notes != nil {
			existing.Notes = m.Notes
		}
		return nil
	})
	if err != nil {
		return err
	}
	*m = *existing
	return nil
}

func (s *Service) UpdateCrewStatus(ctx context.Context, id uuid.UUID, status CrewStatus) (*CrewMember, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	m, err := s.editCrew(ctx, id, func(m *CrewMember) error {
		m.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AssignShift sets a crew member's current shift.
func (s *Service) AssignShift(ctx context.Context, id uuid.UUID, shift Shift) (*CrewMember, error) {
	if shift.Start.IsZero() || shift.End.IsZero() {
		return nil, fmt.Errorf("start and end are required")
	}
	if !shift.End.After(shift.Start) {
		return nil, fmt.Errorf("end must be after start")
	}
	m, err := s.editCrew(ctx, id, func(m *CrewMember) error {
		m.CurrentShift = &shift
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AssignCrewToAmbulance replaces the crew of an ambulance. Previous members
// are released first; every new member must be on duty and unassigned.
func (s *Service) AssignCrewToAmbulance(ctx context.Context, ambulanceID uuid.UUID, crewIDs []uuid.UUID) (*Ambulance, error) {
	seen := map[uuid.UUID]bool{}
	for _, id := range crewIDs {
		if seen[id] {
			return nil, fmt.Errorf("crew member %s listed twice", id)
		}
		seen[id] = true
	}
	var a *Ambulance
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		a, err = s.ambulances.GetForUpdate(ctx, ambulanceID)
		if err != nil {
			return err
		}
		previous, err := s.crew.ListByAmbulance(ctx, a.ID)
		if err != nil {
			return err
		}
		for _, m := range previous {
			m.CurrentAmbulance = nil
			m.LastUpdatedAt = s.now()
			if err := s.crew.Update(ctx, m); err != nil {
				return err
			}
		}
		for _, id := range crewIDs {
			m, err := s.crew.GetForUpdate(ctx, id)
			if err != nil {
				return fmt.Errorf("crew member %s: %w", id, err)
			}
			if m.Status != CrewOnDuty {
				return fmt.Errorf("%w: %s is %s", ErrCrewUnavailable, m.Name, m.Status)
			}
			if m.CurrentAmbulance != nil && *m.CurrentAmbulance != a.ID {
				return fmt.Errorf("%w: %s is assigned to another ambulance", ErrCrewUnavailable, m.Name)
			}
			m.CurrentAmbulance = &a.ID
			m.LastUpdatedAt = s.now()
			if err := s.crew.Update(ctx, m); err != nil {
				return err
			}
		}
		a.Crew = append([]uuid.UUID{}, crewIDs...)
		a.LastUpdatedAt = s.now()
		return s.ambulances.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, websocket.NewEvent(EventCrewAssigned, websocket.TopicAmbulance, "Ambulance", a.ID.String(), map[string]interface{}{
		"crew": a.Crew,
	}))
	return a, nil
}

// -- Calls --

func (s *Service) CreateCall(ctx context.Context, c *Call) error {
	if c.Caller.Name == "" || c.Caller.ContactNumber == "" {
		return fmt.Errorf("caller name and contact_number are required")
	}
	if c.Location.Address == "" {
		return fmt.Errorf("location address is required")
	}
	if !c.Priority.Valid() {
		return fmt.Errorf("priority is required")
	}
	now := s.now()
	number, err := sequence.NextNumber(ctx, s.seq, CallNumberPrefix, now)
	if err != nil {
		return fmt.Errorf("allocate call number: %w", err)
	}
	c.CallNumber = number
	c.CallTime = now
	c.Status = CallMachine.Initial()
	c.DispatchedAmbulance = nil
	c.DispatchedCrew = []uuid.UUID{}
	c.VitalSigns = []VitalSigns{}
	c.Treatments = []Treatment{}
	if c.BranchID == 0 {
		c.BranchID = db.BranchFromContext(ctx)
	}
	c.LastUpdatedAt = now
	if err := s.calls.Create(ctx, c); err != nil {
		return err
	}
	s.publisher.Publish(ctx, websocket.NewEvent("call.created", websocket.TopicCalls, "AmbulanceCall", c.ID.String(), map[string]string{
		"call_number": c.CallNumber,
		"priority":    string(c.Priority),
	}))
	return nil
}

func (s *Service) GetCall(ctx context.Context, id uuid.UUID) (*Call, error) {
	return s.calls.GetByID(ctx, id)
}

func (s *Service) ListCalls(ctx context.Context, f CallFilter, limit, offset int) ([]*Call, int, error) {
	return s.calls.List(ctx, f, limit, offset)
}

// GetActiveCalls lists calls from pending through at_hospital.
func (s *Service) GetActiveCalls(ctx context.Context, limit, offset int) ([]*Call, int, error) {
	return s.calls.List(ctx, CallFilter{Active: true}, limit, offset)
}

func (s *Service) ActiveCallsCount(ctx context.Context) (int, error) {
	return s.calls.CountActive(ctx)
}

// DispatchCall sends an ambulance to a pending call. The call and ambulance
// change in one transaction; events follow the commit.
func (s *Service) DispatchCall(ctx context.Context, callID, ambulanceID uuid.UUID) (*Call, error) {
	var (
		call     *Call
		amb      *Ambulance
		callFrom CallStatus
		ambFrom  AmbulanceStatus
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		call, err = s.calls.GetForUpdate(ctx, callID)
		if err != nil {
			return err
		}
		amb, err = s.ambulances.GetForUpdate(ctx, ambulanceID)
		if err != nil {
			return fmt.Errorf("ambulance %s: %w", ambulanceID, err)
		}
		if !dispatchable(amb.Status) {
			return fmt.Errorf("%w: %s is %s", ErrAmbulanceUnavailable, amb.VehicleNumber, amb.Status)
		}
		callFrom, ambFrom = call.Status, amb.Status
		if _, err := CallMachine.Transition(call.Status, CallDispatched); err != nil {
			return err
		}
		if err := s.moveAmbulance(amb, AmbulanceDispatched); err != nil {
			return err
		}
		now := s.now()
		call.Status = CallDispatched
		call.DispatchedAmbulance = &amb.ID
		call.DispatchedCrew = append([]uuid.UUID{}, amb.Crew...)
		call.DispatchTime = &now
		call.LastUpdatedAt = now
		amb.CurrentCall = &call.ID
		if err := s.calls.Update(ctx, call); err != nil {
			return err
		}
		return s.ambulances.Update(ctx, amb)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(CallMachine.Name(), string(callFrom), string(CallDispatched))
	s.metrics.RecordDispatch()
	s.publishCall(ctx, call, callFrom)
	s.publishAmbulance(ctx, amb, ambFrom)
	return call, nil
}

// CallStatusUpdate carries a call status change. AmbulanceID is required
// when the new status is dispatched.
type CallStatusUpdate struct {
	Status      CallStatus `json:"status"`
	AmbulanceID *uuid.UUID `json:"dispatched_ambulance"`
	Notes       string     `json:"notes"`
}

// UpdateCallStatus moves a call through CallMachine, stamps the phase time
// and mirrors the change onto the dispatched ambulance in the same
// transaction.
func (s *Service) UpdateCallStatus(ctx context.Context, id uuid.UUID, upd CallStatusUpdate) (*Call, error) {
	if !CallMachine.Valid(upd.Status) {
		return nil, fmt.Errorf("invalid status: %s", upd.Status)
	}
	if upd.Status == CallDispatched {
		if upd.AmbulanceID == nil {
			return nil, fmt.Errorf("dispatched_ambulance is required")
		}
		return s.DispatchCall(ctx, id, *upd.AmbulanceID)
	}
	var (
		call     *Call
		amb      *Ambulance
		callFrom CallStatus
		ambFrom  AmbulanceStatus
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		call, err = s.calls.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		callFrom = call.Status
		if _, err := CallMachine.Transition(call.Status, upd.Status); err != nil {
			return err
		}
		now := s.now()
		call.Status = upd.Status
		switch upd.Status {
		case CallAtScene:
			call.ArrivalTime = &now
		case CallTransporting:
			call.DepartureTime = &now
		case CallAtHospital:
			call.HospitalArrivalTime = &now
		case CallCompleted, CallCancelled:
			call.CompletionTime = &now
		}
		if upd.Notes != "" {
			call.Notes = appendNote(call.Notes, upd.Notes)
		}
		call.LastUpdatedAt = now
		if err := s.calls.Update(ctx, call); err != nil {
			return err
		}

		if call.DispatchedAmbulance == nil {
			return nil
		}
		amb, err = s.ambulances.GetForUpdate(ctx, *call.DispatchedAmbulance)
		if err != nil {
			return fmt.Errorf("dispatched ambulance: %w", err)
		}
		// An ambulance released from this call, or working another, is left
		// alone.
		if amb.CurrentCall == nil || *amb.CurrentCall != call.ID {
			amb = nil
			return nil
		}
		ambFrom = amb.Status
		if target, ok := mirrorStatus(upd.Status); ok && target != amb.Status {
			if err := s.moveAmbulance(amb, target); err != nil {
				return err
			}
		}
		if upd.Status == CallCompleted || upd.Status == CallCancelled {
			amb.CurrentCall = nil
		} else {
			amb.CurrentCall = &call.ID
		}
		amb.LastUpdatedAt = now
		return s.ambulances.Update(ctx, amb)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(CallMachine.Name(), string(callFrom), string(upd.Status))
	s.publishCall(ctx, call, callFrom)
	if amb != nil {
		s.publishAmbulance(ctx, amb, ambFrom)
	}
	return call, nil
}

// AddVitalSigns appends a vitals reading stamped with the current time.
func (s *Service) AddVitalSigns(ctx context.Context, callID uuid.UUID, v VitalSigns) (*Call, error) {
	c, err := s.editCall(ctx, callID, func(c *Call) error {
		if c.Status == CallCancelled {
			return fmt.Errorf("call %s is cancelled", c.CallNumber)
		}
		v.Time = s.now()
		c.VitalSigns = append(c.VitalSigns, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) AddTreatment(ctx context.Context, callID uuid.UUID, t Treatment) (*Call, error) {
	if t.Treatment == "" || t.Provider == "" {
		return nil, fmt.Errorf("treatment and provider are required")
	}
	c, err := s.editCall(ctx, callID, func(c *Call) error {
		if c.Status == CallCancelled {
			return fmt.Errorf("call %s is cancelled", c.CallNumber)
		}
		t.Time = s.now()
		c.Treatments = append(c.Treatments, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// -- Maintenance --

// ScheduleMaintenance records a maintenance entry. An available ambulance
// goes out of service in the same transaction.
func (s *Service) ScheduleMaintenance(ctx context.Context, m *Maintenance) error {
	if m.AmbulanceID == uuid.Nil {
		return fmt.Errorf("ambulance_id is required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("type is required")
	}
	if m.Description == "" {
		return fmt.Errorf("description is required")
	}
	if m.ScheduledDate.IsZero() {
		return fmt.Errorf("scheduled_date is required")
	}
	var (
		amb     *Ambulance
		ambFrom AmbulanceStatus
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		amb, err = s.ambulances.GetForUpdate(ctx, m.AmbulanceID)
		if err != nil {
			return err
		}
		ambFrom = amb.Status
		m.Status = MaintenanceMachine.Initial()
		if m.BranchID == 0 {
			m.BranchID = amb.BranchID
		}
		m.LastUpdatedAt = s.now()
		if err := s.maintenance.Create(ctx, m); err != nil {
			return err
		}
		if amb.Status != AmbulanceAvailable {
			return nil
		}
		if err := s.moveAmbulance(amb, AmbulanceOutOfService); err != nil {
			return err
		}
		return s.ambulances.Update(ctx, amb)
	})
	if err != nil {
		return err
	}
	s.publishAmbulance(ctx, amb, ambFrom)
	return nil
}

func (s *Service) GetMaintenance(ctx context.Context, id uuid.UUID) (*Maintenance, error) {
	return s.maintenance.GetByID(ctx, id)
}

func (s *Service) ListMaintenance(ctx context.Context, f MaintenanceFilter, limit, offset int) ([]*Maintenance, int, error) {
	return s.maintenance.List(ctx, f, limit, offset)
}

// UpcomingMaintenance returns scheduled entries dated after now.
func (s *Service) UpcomingMaintenance(ctx context.Context) ([]*Maintenance, error) {
	return s.maintenance.ListUpcoming(ctx, s.now())
}

// MaintenanceStatusUpdate carries a maintenance status change.
type MaintenanceStatusUpdate struct {
	Status      MaintenanceStatus `json:"status"`
	PerformedBy string            `json:"performed_by"`
	Cost        *float64          `json:"cost"`
	Notes       string            `json:"notes"`
}

// UpdateMaintenanceStatus moves an entry through MaintenanceMachine.
// Completing it returns an out-of-service ambulance to available.
func (s *Service) UpdateMaintenanceStatus(ctx context.Context, id uuid.UUID, upd MaintenanceStatusUpdate) (*Maintenance, error) {
	if upd.Cost != nil && *upd.Cost < 0 {
		return nil, fmt.Errorf("cost must not be negative")
	}
	var (
		m       *Maintenance
		amb     *Ambulance
		ambFrom AmbulanceStatus
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		m, err = s.maintenance.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := m.Status
		if _, err := MaintenanceMachine.Transition(from, upd.Status); err != nil {
			return err
		}
		now := s.now()
		m.Status = upd.Status
		switch upd.Status {
		case MaintenanceInProgress:
			m.StartDate = &now
		case MaintenanceCompleted:
			if m.StartDate == nil {
				m.StartDate = &now
			}
			m.CompletionDate = &now
		}
		if upd.PerformedBy != "" {
			m.PerformedBy = &upd.PerformedBy
		}
		if upd.Cost != nil {
			m.Cost = upd.Cost
		}
		if upd.Notes != "" {
			m.Notes = appendNote(m.Notes, upd.Notes)
		}
		m.LastUpdatedAt = now
		if err := s.maintenance.Update(ctx, m); err != nil {
			return err
		}
		s.metrics.RecordTransition(MaintenanceMachine.Name(), string(from), string(upd.Status))

		if upd.Status != MaintenanceCompleted {
			return nil
		}
		amb, err = s.ambulances.GetForUpdate(ctx, m.AmbulanceID)
		if err != nil {
			return fmt.Errorf("ambulance %s: %w", m.AmbulanceID, err)
		}
		ambFrom = amb.Status
		amb.LastMaintenance = &now
		if amb.Status == AmbulanceOutOfService {
			if err := s.moveAmbulance(amb, AmbulanceAvailable); err != nil {
				return err
			}
		}
		amb.LastUpdatedAt = now
		return s.ambulances.Update(ctx, amb)
	})
	if err != nil {
		return nil, err
	}
	if amb != nil {
		s.publishAmbulance(ctx, amb, ambFrom)
	}
	return m, nil
}

// -- Dashboard --

func (s *Service) GetDashboardStats(ctx context.Context) (*DashboardStats, error) {
	byStatus, err := s.ambulances.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &DashboardStats{ByStatus: make(map[AmbulanceStatus]int, len(AmbulanceMachine.States()))}
	for _, st := range AmbulanceMachine.States() {
		stats.ByStatus[st] = byStatus[st]
		stats.TotalAmbulances += byStatus[st]
	}
	if stats.ActiveCalls, err = s.calls.CountActive(ctx); err != nil {
		return nil, err
	}
	if _, stats.AvailableCrew, err = s.crew.List(ctx, CrewFilter{Status: CrewOnDuty, Unassigned: true}, 1, 0); err != nil {
		return nil, err
	}
	upcoming, err := s.maintenance.ListUpcoming(ctx, s.now())
	if err != nil {
		return nil, err
	}
	stats.UpcomingMaintenance = len(upcoming)
	return stats, nil
}

// editAmbulance applies fn to the row-locked ambulance and saves it in one
// transaction.
func (s *Service) editAmbulance(ctx context.Context, id uuid.UUID, fn func(a *Ambulance) error) (*Ambulance, error) {
	var a *Ambulance
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		if a, err = s.ambulances.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		a.LastUpdatedAt = s.now()
		return s.ambulances.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) editCrew(ctx context.Context, id uuid.UUID, fn func(m *CrewMember) error) (*CrewMember, error) {
	var m *CrewMember
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		if m, err = s.crew.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		m.LastUpdatedAt = s.now()
		return s.crew.Update(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) editCall(ctx context.Context, id uuid.UUID, fn func(c *Call) error) (*Call, error) {
	var c *Call
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		if c, err = s.calls.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		c.LastUpdatedAt = s.now()
		return s.calls.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
