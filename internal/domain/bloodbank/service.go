package bloodbank

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/internal/platform/notification"
	"github.com/bristolpark/hmis/internal/platform/sequence"
	"github.com/bristolpark/hmis/internal/platform/telemetry"
	"github.com/bristolpark/hmis/internal/platform/websocket"
	"github.com/bristolpark/hmis/internal/platform/workflow"
)

// RequestNumberPrefix prefixes blood request numbers (BB-2025-10001).
const RequestNumberPrefix = "BB"

type Service struct {
	units    UnitRepository
	donors   DonorRepository
	requests RequestRepository
	seq      sequence.Sequencer

	tx        db.Transactor
	publisher websocket.EventPublisher
	notifier  notification.Notifier
	metrics   telemetry.Recorder
	now       func() time.Time
}

func NewService(units UnitRepository, donors DonorRepository, requests RequestRepository, seq sequence.Sequencer) *Service {
	return &Service{
		units:     units,
		donors:    donors,
		requests:  requests,
		seq:       sequence.Seeded(seq, sequence.YearlyFloor(RequestNumberPrefix, requests.MaxNumber)),
		publisher: websocket.NopPublisher{},
		metrics:   telemetry.NopRecorder{},
		now:       time.Now,
	}
}

func (s *Service) SetTransactor(tx db.Transactor)          { s.tx = tx }
func (s *Service) SetPublisher(p websocket.EventPublisher) { s.publisher = p }
func (s *Service) SetNotifier(n notification.Notifier)     { s.notifier = n }
func (s *Service) SetRecorder(r telemetry.Recorder)        { s.metrics = r }

// -- Blood units --

func (s *Service) AddBloodUnit(ctx context.Context, u *Unit) error {
	if u.UnitNumber == "" {
		return fmt.Errorf("unit_number is required")
	}
	if !u.BloodType.Valid() {
		return fmt.Errorf("blood_type is required")
	}
	if !u.ProductType.Valid() {
		return fmt.Errorf("product_type is required")
	}
	if u.ExpiryDate.IsZero() {
		return fmt.Errorf("expiry_date is required")
	}
	if u.DonationDate.IsZero() {
		u.DonationDate = s.now()
	}
	if !u.ExpiryDate.After(u.DonationDate) {
		return fmt.Errorf("expiry_date must be after donation_date")
	}
	if u.Volume < 0 {
		return fmt.Errorf("volume must not be negative")
	}
	if u.Status == "" {
		u.Status = UnitAvailable
	}
	if !UnitMachine.Valid(u.Status) {
		return fmt.Errorf("invalid status: %s", u.Status)
	}
	if u.BranchID == 0 {
		u.BranchID = db.BranchFromContext(ctx)
	}
	u.LastUpdatedAt = s.now()
	return s.units.Create(ctx, u)
}

func (s *Service) GetBloodUnit(ctx context.Context, id uuid.UUID) (*Unit, error) {
	return s.units.GetByID(ctx, id)
}

func (s *Service) GetBloodUnitByNumber(ctx context.Context, unitNumber string) (*Unit, error) {
	return s.units.GetByNumber(ctx, unitNumber)
}

func (s *Service) ListBloodUnits(ctx context.Context, f UnitFilter, limit, offset int) ([]*Unit, int, error) {
	return s.units.List(ctx, f, limit, offset)
}

// GetAvailableBloodUnits lists available units, optionally of one blood
// and product type.
func (s *Service) GetAvailableBloodUnits(ctx context.Context, bt BloodType, pt ProductType, limit, offset int) ([]*Unit, int, error) {
	return s.units.List(ctx, UnitFilter{BloodType: bt, ProductType: pt, Status: UnitAvailable}, limit, offset)
}

// UpdateBloodUnit changes descriptive fields. Status is left untouched.
func (s *Service) UpdateBloodUnit(ctx context.Context, u *Unit) error {
	return db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		existing, err := s.units.GetForUpdate(ctx, u.ID)
		if err != nil {
			return err
		}
		return s.applyUnitUpdate(ctx, existing, u)
	})
}

func (s *Service) applyUnitUpdate(ctx context.Context, existing, u *Unit) error {
	if u.BloodType != "" {
		if !u.BloodType.Valid() {
			return fmt.Errorf("invalid blood_type: %s", u.BloodType)
		}
		existing.BloodType = u.BloodType
	}
	if u.ProductType != "" {
		if !u.ProductType.Valid() {
			return fmt.Errorf("invalid product_type: %s", u.ProductType)
		}
		existing.ProductType = u.ProductType
	}
	if !u.ExpiryDate.IsZero() {
		if !u.ExpiryDate.After(existing.DonationDate) {
			return fmt.Errorf("expiry_date must be after donation_date")
		}
		existing.ExpiryDate = u.ExpiryDate
	}
	if u.Volume > 0 {
		existing.Volume = u.Volume
	}
	if u.Location != "" {
		existing.Location = u.Location
	}
	if u.DonorID != nil {
		existing.DonorID = u.DonorID
	}
	if u.Notes != nil {
		existing.Notes = u.Notes
	}
	existing.LastUpdatedAt = s.now()
	if err := s.units.Update(ctx, existing); err != nil {
		return err
	}
	*u = *existing
	return nil
}

// transitionUnit moves u to status through UnitMachine and stamps the
// recipient field that belongs to the new status.
func (s *Service) transitionUnit(u *Unit, to UnitStatus, recipient string) error {
	from := u.Status
	if _, err := UnitMachine.Transition(from, to); err != nil {
		return err
	}
	u.Status = to
	switch to {
	case UnitReserved:
		if recipient != "" {
			u.ReservedFor = &recipient
		}
	case UnitCrossmatched:
		if recipient != "" {
			u.CrossmatchedFor = &recipient
		}
	case UnitIssued:
		if recipient != "" {
			u.IssuedTo = &recipient
		}
	case UnitAvailable:
		u.ReservedFor = nil
		u.CrossmatchedFor = nil
	}
	u.LastUpdatedAt = s.now()
	s.metrics.RecordTransition(UnitMachine.Name(), string(from), string(to))
	return nil
}

type unitChange struct {
	unit *Unit
	from UnitStatus
}

// UpdateBloodUnitStatus applies a forward status change. recipient is the
// patient (reserved, crossmatched, issued) or department (issued).
// Releasing back to available goes through ReleaseUnit instead.
func (s *Service) UpdateBloodUnitStatus(ctx context.Context, id uuid.UUID, status UnitStatus, recipient, notes string) (*Unit, error) {
	if !UnitMachine.Valid(status) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrUnknownState, status)
	}
	var changed unitChange
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		u, err := s.units.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if status == UnitAvailable {
			return &workflow.TransitionError{Machine: UnitMachine.Name(), From: string(u.Status), To: string(status)}
		}
		changed = unitChange{unit: u, from: u.Status}
		if err := s.transitionUnit(u, status, recipient); err != nil {
			return err
		}
		if notes != "" {
			u.Notes = appendNote(u.Notes, notes)
		}
		return s.units.Update(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	s.afterUnitChanges(ctx, changed)
	return changed.unit, nil
}

// DiscardBloodUnit discards a unit and records the reason in its notes.
func (s *Service) DiscardBloodUnit(ctx context.Context, id uuid.UUID, reason string) (*Unit, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("reason is required")
	}
	var changed unitChange
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		u, err := s.units.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		changed = unitChange{unit: u, from: u.Status}
		if err := s.transitionUnit(u, UnitDiscarded, ""); err != nil {
			return err
		}
		u.Notes = appendNote(u.Notes, "Discarded: "+reason)
		return s.units.Update(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	s.afterUnitChanges(ctx, changed)
	return changed.unit, nil
}

// ExpireOutdatedUnits marks every unit past its expiry date as expired and
// returns how many changed.
func (s *Service) ExpireOutdatedUnits(ctx context.Context) (int, error) {
	now := s.now()
	var changes []unitChange
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		units, err := s.units.ListExpiring(ctx, now)
		if err != nil {
			return err
		}
		for _, u := range units {
			if !UnitMachine.Can(u.Status, UnitExpired) || !u.ExpiryDate.Before(now) {
				continue
			}
			change := unitChange{unit: u, from: u.Status}
			if err := s.transitionUnit(u, UnitExpired, ""); err != nil {
				return err
			}
			if err := s.units.Update(ctx, u); err != nil {
				return fmt.Errorf("expire unit %s: %w", u.UnitNumber, err)
			}
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.afterUnitChanges(ctx, changes...)
	return len(changes), nil
}

// releaseUnit returns a held unit to available. Units in other states are
// left alone.
func (s *Service) releaseUnit(ctx context.Context, u *Unit, note string) (bool, error) {
	if u.Status != UnitReserved && u.Status != UnitCrossmatched {
		return false, nil
	}
	if err := s.transitionUnit(u, UnitAvailable, ""); err != nil {
		return false, err
	}
	if note != "" {
		u.Notes = appendNote(u.Notes, note)
	}
	return true, s.units.Update(ctx, u)
}

// afterUnitChanges publishes status events and raises a critical inventory
// toast for every pair that lost an available unit and is now below the
// threshold.
func (s *Service) afterUnitChanges(ctx context.Context, changes ...unitChange) {
	type pair struct {
		bt BloodType
		pt ProductType
	}
	drained := map[pair]bool{}
	for _, c := range changes {
		if c.unit == nil || c.from == c.unit.Status {
			continue
		}
		s.publisher.Publish(ctx, websocket.NewStatusChangedEvent(websocket.TopicBloodBank, "BloodUnit",
			c.unit.ID.String(), string(c.from), string(c.unit.Status), map[string]string{
				"unit_number": c.unit.UnitNumber,
				"blood_type":  string(c.unit.BloodType),
			}))
		if c.from == UnitAvailable {
			drained[pair{c.unit.BloodType, c.unit.ProductType}] = true
		}
	}
	if len(drained) == 0 || s.notifier == nil {
		return
	}
	counts, err := s.units.CountAvailable(ctx)
	if err != nil {
		return
	}
	summary := BuildInventorySummary(counts)
	for p := range drained {
		cell := summary.Cell(p.bt, p.pt)
		if !cell.Critical {
			continue
		}
		s.notifier.Notify(ctx, notification.TemplateCriticalBloodInventory, "", map[string]string{
			"blood_type":   string(p.bt),
			"product_type": string(p.pt),
			"count":        strconv.Itoa(cell.Count),
		})
	}
}

// GetBloodInventorySummary counts available units for every pair.
func (s *Service) GetBloodInventorySummary(ctx context.Context) (*InventorySummary, error) {
	counts, err := s.units.CountAvailable(ctx)
	if err != nil {
		return nil, err
	}
	return BuildInventorySummary(counts), nil
}

// -- Donors --

func (s *Service) AddDonor(ctx context.Context, d *Donor) error {
	if d.DonorNumber == "" {
		return fmt.Errorf("donor_number is required")
	}
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !d.BloodType.Valid() {
		return fmt.Errorf("blood_type is required")
	}
	if d.Status == "" {
		d.Status = DonorActive
	}
	if !d.Status.Valid() {
		return fmt.Errorf("invalid status: %s", d.Status)
	}
	d.Donations = []Donation{}
	d.LastUpdatedAt = s.now()
	return s.donors.Create(ctx, d)
}

func (s *Service) GetDonor(ctx context.Context, id uuid.UUID) (*Donor, error) {
	return s.donors.GetByID(ctx, id)
}

func (s *Service) ListDonors(ctx context.Context, f DonorFilter, limit, offset int) ([]*Donor, int, error) {
	return s.donors.List(ctx, f, limit, offset)
}

// UpdateDonor changes contact and demographic fields. Status and donations
// have their own operations.
func (s *Service) UpdateDonor(ctx context.Context, d *Donor) error {
	existing, err := s.editDonor(ctx, d.ID, func(existing *Donor) error {
		if d.Name != "" {
			existing.Name = d.Name
		}
		if d.BloodType != "" {
			if !d.BloodType.Valid() {
				return fmt.Errorf("invalid blood_type: %s", d.BloodType)
			}
			existing.BloodType = d.BloodType
		}
		if d.Gender != "" {
			existing.Gender = d.Gender
		}
		if d.DateOfBirth != nil {
			existing.DateOfBirth = d.DateOfBirth
		}
		if d.ContactNumber != "" {
			existing.ContactNumber = d.ContactNumber
		}
		if d.Email != "" {
			existing.Email = d.Email
		}
		if d.Address != "" {
			existing.Address = d.Address
		}
		if d.MedicalHistory != nil {
			existing.MedicalHistory = d.MedicalHistory
		}
		if d.Notes != nil {
			existing.Notes = d.Notes
		}
		return nil
	})
	if err != nil {
		return err
	}
	*d = *existing
	return nil
}

// UpdateDonorStatus records a deferral. Returning a donor to active clears
// the deferral fields.
func (s *Service) UpdateDonorStatus(ctx context.Context, id uuid.UUID, status DonorStatus, reason string, until *time.Time) (*Donor, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	var from DonorStatus
	d, err := s.editDonor(ctx, id, func(d *Donor) error {
		from = d.Status
		d.Status = status
		if status == DonorActive {
			d.DeferralReason = nil
			d.DeferralUntil = nil
		} else {
			if reason != "" {
				d.DeferralReason = &reason
			}
			if until != nil {
				d.DeferralUntil = until
			}
			if status == DonorPermanentDeferral {
				d.DeferralUntil = nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from != status {
		s.publisher.Publish(ctx, websocket.NewStatusChangedEvent(websocket.TopicBloodBank, "Donor",
			d.ID.String(), string(from), string(status), nil))
	}
	return d, nil
}

// DonationInput describes a new donation.
type DonationInput struct {
	ProductType ProductType `json:"product_type"`
	UnitID      *uuid.UUID  `json:"unit_id"`
	Notes       string      `json:"notes"`
}

// RecordDonation appends a donation. A deferred donor whose deferral has
// lapsed becomes active again.
func (s *Service) RecordDonation(ctx context.Context, donorID uuid.UUID, in DonationInput) (*Donor, error) {
	if !in.ProductType.Valid() {
		return nil, fmt.Errorf("product_type is required")
	}
	now := s.now()
	d, err := s.editDonor(ctx, donorID, func(d *Donor) error {
		switch d.Status {
		case DonorPermanentDeferral:
			return fmt.Errorf("donor is permanently deferred")
		case DonorDeferred:
			if d.DeferralUntil == nil || d.DeferralUntil.After(now) {
				return fmt.Errorf("donor is deferred")
			}
			d.Status = DonorActive
			d.DeferralReason = nil
			d.DeferralUntil = nil
		}
		d.Donations = append(d.Donations, Donation{
			ID:          uuid.New(),
			Date:        now,
			ProductType: in.ProductType,
			UnitID:      in.UnitID,
			Notes:       in.Notes,
		})
		d.LastDonationDate = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// editDonor applies fn to the row-locked donor and saves it in one
// transaction.
func (s *Service) editDonor(ctx context.Context, id uuid.UUID, fn func(d *Donor) error) (*Donor, error) {
	var d *Donor
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		if d, err = s.donors.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		d.LastUpdatedAt = s.now()
		return s.donors.Update(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// -- Blood requests --

func (s *Service) CreateBloodRequest(ctx context.Context, r *Request) error {
	if r.RequestedBy == "" {
		return fmt.Errorf("requested_by is required")
	}
	if r.Department == "" {
		return fmt.Errorf("department is required")
	}
	if len(r.Products) == 0 {
		return fmt.Errorf("at least one product is required")
	}
	seen := map[ProductType]bool{}
	for i := range r.Products {
		l := &r.Products[i]
		if !l.ProductType.Valid() {
			return fmt.Errorf("products[%d]: invalid product_type: %s", i, l.ProductType)
		}
		if seen[l.ProductType] {
			return fmt.Errorf("products[%d]: duplicate product_type: %s", i, l.ProductType)
		}
		seen[l.ProductType] = true
		if !l.BloodType.Valid() {
			return fmt.Errorf("products[%d]: invalid blood_type: %s", i, l.BloodType)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("products[%d]: quantity must be greater than 0", i)
		}
		l.UnitIDs = []uuid.UUID{}
	}
	if r.PatientBloodType != nil && !r.PatientBloodType.Valid() {
		return fmt.Errorf("invalid patient_blood_type: %s", *r.PatientBloodType)
	}
	if r.Urgency == "" {
		r.Urgency = UrgencyRoutine
	}
	if !r.Urgency.Valid() {
		return fmt.Errorf("invalid urgency: %s", r.Urgency)
	}

	now := s.now()
	number, err := sequence.NextNumber(ctx, s.seq, RequestNumberPrefix, now)
	if err != nil {
		return fmt.Errorf("allocate request number: %w", err)
	}
	r.RequestNumber = number
	r.Status = RequestPending
	if r.RequestDate.IsZero() {
		r.RequestDate = now
	}
	r.CrossmatchResults = []CrossmatchResult{}
	if r.BranchID == 0 {
		r.BranchID = db.BranchFromContext(ctx)
	}
	r.LastUpdatedAt = now
	return s.requests.Create(ctx, r)
}

func (s *Service) GetBloodRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *Service) ListBloodRequests(ctx context.Context, f RequestFilter, limit, offset int) ([]*Request, int, error) {
	return s.requests.List(ctx, f, limit, offset)
}

// RequestStatusUpdate carries a request status change.
type RequestStatusUpdate struct {
	Status RequestStatus `json:"status"`
	Actor  string        `json:"actor"`
	Notes  string        `json:"notes"`
}

// UpdateRequestStatus moves a request through RequestMachine. Issuing a
// request issues its crossmatched units and releases any that were only
// reserved. Cancelling it releases every unit still held for it.
func (s *Service) UpdateRequestStatus(ctx context.Context, id uuid.UUID, upd RequestStatusUpdate) (*Request, error) {
	if !RequestMachine.Valid(upd.Status) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrUnknownState, upd.Status)
	}
	var (
		req     *Request
		from    RequestStatus
		changes []unitChange
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = req.Status
		if _, err := RequestMachine.Transition(from, upd.Status); err != nil {
			return err
		}
		now := s.now()
		req.Status = upd.Status

		switch upd.Status {
		case RequestApproved:
			if upd.Actor == "" {
				return fmt.Errorf("actor is required")
			}
			req.ApprovedBy = &upd.Actor
			req.ApprovedAt = &now
		case RequestIssued:
			if upd.Actor == "" {
				return fmt.Errorf("actor is required")
			}
			req.IssuedBy = &upd.Actor
			req.IssuedAt = &now
			for _, unitID := range req.assignedUnits() {
				u, err := s.units.GetForUpdate(ctx, unitID)
				if err != nil {
					return fmt.Errorf("unit %s: %w", unitID, err)
				}
				change := unitChange{unit: u, from: u.Status}
				if u.Status != UnitCrossmatched {
					released, err := s.releaseUnit(ctx, u, "Released: not crossmatched when request "+req.RequestNumber+" was issued")
					if err != nil {
						return err
					}
					if released {
						req.dropUnit(u.ID)
						changes = append(changes, change)
					}
					continue
				}
				if err := s.transitionUnit(u, UnitIssued, req.recipient()); err != nil {
					return err
				}
				if err := s.units.Update(ctx, u); err != nil {
					return err
				}
				changes = append(changes, change)
			}
		case RequestCancelled:
			for _, unitID := range req.assignedUnits() {
				u, err := s.units.GetForUpdate(ctx, unitID)
				if err != nil {
					return fmt.Errorf("unit %s: %w", unitID, err)
				}
				change := unitChange{unit: u, from: u.Status}
				released, err := s.releaseUnit(ctx, u, "Released: request "+req.RequestNumber+" cancelled")
				if err != nil {
					return err
				}
				if released {
					changes = append(changes, change)
				}
			}
		}
		if upd.Notes != "" {
			req.Notes = appendNote(req.Notes, upd.Notes)
		}
		req.LastUpdatedAt = now
		return s.requests.Update(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(RequestMachine.Name(), string(from), string(upd.Status))
	s.publishRequest(ctx, req, from)
	s.afterUnitChanges(ctx, changes...)
	return req, nil
}

func (s *Service) publishRequest(ctx context.Context, req *Request, from RequestStatus) {
	if from == req.Status {
		return
	}
	s.publisher.Publish(ctx, websocket.NewStatusChangedEvent(websocket.TopicBloodBank, "BloodRequest",
		req.ID.String(), string(from), string(req.Status), map[string]string{
			"request_number": req.RequestNumber,
			"urgency":        string(req.Urgency),
		}))
}

// recipientType is the blood type units are checked against: the patient's
// when known, otherwise the product line's.
func recipientType(req *Request, line *ProductLine) BloodType {
	if req.PatientBloodType != nil && *req.PatientBloodType != "" {
		return *req.PatientBloodType
	}
	return line.BloodType
}

// AssignUnitsToRequest holds units against one product line. Every unit is
// checked before any is changed and the whole assignment is one
// transaction.
func (s *Service) AssignUnitsToRequest(ctx context.Context, requestID uuid.UUID, productType ProductType, unitIDs []uuid.UUID) (*Request, error) {
	if len(unitIDs) == 0 {
		return nil, fmt.Errorf("unit_ids is required")
	}
	var (
		req     *Request
		from    RequestStatus
		changes []unitChange
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		from = req.Status
		switch req.Status {
		case RequestPending, RequestApproved, RequestProcessing:
		default:
			return fmt.Errorf("cannot assign units to a %s request", req.Status)
		}
		line := req.line(productType)
		if line == nil {
			return fmt.Errorf("request has no %s line", productType)
		}

		seen := map[uuid.UUID]bool{}
		for _, id := range unitIDs {
			if seen[id] || line.hasUnit(id) {
				return fmt.Errorf("unit %s is already assigned to this request", id)
			}
			seen[id] = true
		}
		if len(line.UnitIDs)+len(unitIDs) > line.Quantity {
			return fmt.Errorf("%w: %s line has %d of %d", ErrQuantityExceeded, productType, len(line.UnitIDs), line.Quantity)
		}

		recipient := req.recipient()
		target := recipientType(req, line)
		units := make([]*Unit, 0, len(unitIDs))
		for _, id := range unitIDs {
			u, err := s.units.GetForUpdate(ctx, id)
			if err != nil {
				return fmt.Errorf("unit %s: %w", id, err)
			}
			switch {
			case u.Status == UnitAvailable:
			case u.Status == UnitCrossmatched && u.CrossmatchedFor != nil && *u.CrossmatchedFor == recipient:
			default:
				return fmt.Errorf("unit %s is %s and cannot be assigned", u.UnitNumber, u.Status)
			}
			if u.ProductType != productType {
				return fmt.Errorf("unit %s is %s, line requires %s", u.UnitNumber, u.ProductType, productType)
			}
			if !CanDonate(u.BloodType, target) {
				return fmt.Errorf("%w: unit %s is %s, recipient is %s", ErrIncompatibleUnit, u.UnitNumber, u.BloodType, target)
			}
			units = append(units, u)
		}

		for _, u := range units {
			if u.Status == UnitAvailable {
				change := unitChange{unit: u, from: u.Status}
				if err := s.transitionUnit(u, UnitReserved, recipient); err != nil {
					return err
				}
				u.Notes = appendNote(u.Notes, "Reserved for request "+req.RequestNumber)
				if err := s.units.Update(ctx, u); err != nil {
					return err
				}
				changes = append(changes, change)
			}
			line.UnitIDs = append(line.UnitIDs, u.ID)
		}

		if req.Status == RequestApproved {
			req.Status = RequestProcessing
		}
		req.LastUpdatedAt = s.now()
		return s.requests.Update(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if from != req.Status {
		s.metrics.RecordTransition(RequestMachine.Name(), string(from), string(req.Status))
	}
	s.publishRequest(ctx, req, from)
	s.afterUnitChanges(ctx, changes...)
	return req, nil
}

// CrossmatchInput is one lab crossmatch outcome.
type CrossmatchInput struct {
	UnitID      uuid.UUID         `json:"unit_id"`
	Result      CrossmatchOutcome `json:"result"`
	PerformedBy string            `json:"performed_by"`
	Notes       string            `json:"notes"`
}

// RecordCrossmatchResult appends a crossmatch outcome. A compatible unit
// must already be on one of the request's lines and becomes crossmatched
// for the request's patient. An incompatible unit is
// dropped from the request and released, and a warning toast goes to the
// requester.
func (s *Service) RecordCrossmatchResult(ctx context.Context, requestID uuid.UUID, in CrossmatchInput) (*Request, error) {
	if in.UnitID == uuid.Nil {
		return nil, fmt.Errorf("unit_id is required")
	}
	if in.Result != Compatible && in.Result != Incompatible {
		return nil, fmt.Errorf("invalid result: %s", in.Result)
	}
	if in.PerformedBy == "" {
		return nil, fmt.Errorf("performed_by is required")
	}
	var (
		req    *Request
		unit   *Unit
		change unitChange
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if RequestMachine.IsTerminal(req.Status) || req.Status == RequestIssued {
			return fmt.Errorf("cannot crossmatch for a %s request", req.Status)
		}
		unit, err = s.units.GetForUpdate(ctx, in.UnitID)
		if err != nil {
			return fmt.Errorf("unit %s: %w", in.UnitID, err)
		}
		change = unitChange{unit: unit, from: unit.Status}
		now := s.now()
		req.CrossmatchResults = append(req.CrossmatchResults, CrossmatchResult{
			UnitID:      unit.ID,
			Result:      in.Result,
			PerformedBy: in.PerformedBy,
			PerformedAt: now,
			Notes:       in.Notes,
		})

		recipient := req.recipient()
		if in.Result == Compatible {
			line := req.line(unit.ProductType)
			if line == nil || !line.hasUnit(unit.ID) {
				return fmt.Errorf("%w: unit %s", ErrUnitNotAssigned, unit.UnitNumber)
			}
			if err := checkHoldable(unit, recipient); err != nil {
				return err
			}
			if target := recipientType(req, line); !CanDonate(unit.BloodType, target) {
				return fmt.Errorf("%w: unit %s is %s, recipient is %s", ErrIncompatibleUnit, unit.UnitNumber, unit.BloodType, target)
			}
			if unit.Status != UnitCrossmatched {
				if err := s.transitionUnit(unit, UnitCrossmatched, recipient); err != nil {
					return err
				}
			} else {
				unit.CrossmatchedFor = &recipient
			}
			unit.Notes = appendNote(unit.Notes, "Crossmatched for request "+req.RequestNumber)
			if err := s.units.Update(ctx, unit); err != nil {
				return err
			}
		} else {
			held := req.dropUnit(unit.ID)
			heldForPatient := (unit.ReservedFor != nil && *unit.ReservedFor == recipient) ||
				(unit.CrossmatchedFor != nil && *unit.CrossmatchedFor == recipient)
			if held || heldForPatient {
				if _, err := s.releaseUnit(ctx, unit, "Released: incompatible crossmatch for request "+req.RequestNumber); err != nil {
					return err
				}
			}
		}
		req.LastUpdatedAt = now
		return s.requests.Update(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	s.afterUnitChanges(ctx, change)
	if in.Result == Incompatible && s.notifier != nil {
		s.notifier.Show(ctx, notification.Toast{
			Type:      notification.ToastWarning,
			Title:     "Crossmatch incompatible",
			Message:   fmt.Sprintf("%s: unit %s for request %s", ErrIncompatibleUnit.Error(), unit.UnitNumber, req.RequestNumber),
			Recipient: req.RequestedBy,
		})
	}
	return req, nil
}

// checkHoldable rejects units that are held for someone else or are past
// the crossmatch stage.
func checkHoldable(u *Unit, recipient string) error {
	switch u.Status {
	case UnitAvailable:
		return nil
	case UnitReserved:
		if u.ReservedFor == nil || *u.ReservedFor == recipient {
			return nil
		}
	case UnitCrossmatched:
		if u.CrossmatchedFor == nil || *u.CrossmatchedFor == recipient {
			return nil
		}
	}
	return fmt.Errorf("unit %s is %s and cannot be crossmatched for %s", u.UnitNumber, u.Status, recipient)
}

// ReleaseUnit takes a unit off a request and returns it to available.
func (s *Service) ReleaseUnit(ctx context.Context, requestID, unitID uuid.UUID) (*Request, error) {
	var (
		req    *Request
		change unitChange
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		req, err = s.requests.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if !req.dropUnit(unitID) {
			return fmt.Errorf("%w: unit %s", ErrUnitNotAssigned, unitID)
		}
		u, err := s.units.GetForUpdate(ctx, unitID)
		if err != nil {
			return fmt.Errorf("unit %s: %w", unitID, err)
		}
		change = unitChange{unit: u, from: u.Status}
		if _, err := s.releaseUnit(ctx, u, "Released from request "+req.RequestNumber); err != nil {
			return err
		}
		req.LastUpdatedAt = s.now()
		return s.requests.Update(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	s.afterUnitChanges(ctx, change)
	return req, nil
}
