package bloodbank

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bristolpark/hmis/internal/platform/auth"
	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/internal/platform/workflow"
	"github.com/bristolpark/hmis/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleLabTechnician, auth.RoleBloodBankOfficer))
	read.GET("/blood-units", h.ListUnits)
	read.GET("/blood-units/available", h.ListAvailableUnits)
	read.GET("/blood-units/by-number/:number", h.GetUnitByNumber)
	read.GET("/blood-units/:id", h.GetUnit)
	read.GET("/blood-inventory/summary", h.InventorySummary)
	read.GET("/blood-compatibility", h.Compatibility)
	read.GET("/blood-requests", h.ListRequests)
	read.GET("/blood-requests/:id", h.GetRequest)

	// Clinicians raise requests; the blood bank works them.
	request := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleBloodBankOfficer))
	request.POST("/blood-requests", h.CreateRequest)

	bank := api.Group("", auth.RequireRole(auth.RoleBloodBankOfficer, auth.RoleLabTechnician))
	bank.POST("/blood-units", h.AddUnit)
	bank.PUT("/blood-units/:id", h.UpdateUnit)
	bank.PATCH("/blood-units/:id/status", h.UpdateUnitStatus)
	bank.POST("/blood-units/:id/discard", h.DiscardUnit)
	bank.POST("/blood-units/expire", h.ExpireUnits)
	bank.GET("/blood-donors", h.ListDonors)
	bank.GET("/blood-donors/:id", h.GetDonor)
	bank.POST("/blood-donors", h.AddDonor)
	bank.PUT("/blood-donors/:id", h.UpdateDonor)
	bank.PATCH("/blood-donors/:id/status", h.UpdateDonorStatus)
	bank.POST("/blood-donors/:id/donations", h.RecordDonation)
	bank.PATCH("/blood-requests/:id/status", h.UpdateRequestStatus)
	bank.POST("/blood-requests/:id/units", h.AssignUnits)
	bank.DELETE("/blood-requests/:id/units/:unitId", h.ReleaseUnit)
	bank.POST("/blood-requests/:id/crossmatch", h.RecordCrossmatch)
}

// httpError maps service errors onto HTTP statuses.
func httpError(err error, notFound string) error {
	switch {
	case db.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, notFound)
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, ErrQuantityExceeded),
		errors.Is(err, ErrIncompatibleUnit),
		errors.Is(err, ErrUnitNotAssigned):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// actor returns the explicit name when given, otherwise the caller.
func actor(c echo.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if name := auth.UsernameFromContext(c.Request().Context()); name != "" {
		return name
	}
	return auth.UserIDFromContext(c.Request().Context())
}

// -- Blood units --

func (h *Handler) AddUnit(c echo.Context) error {
	var u Unit
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddBloodUnit(c.Request().Context(), &u); err != nil {
		if db.IsUniqueViolation(err) {
			return echo.NewHTTPError(http.StatusConflict, "unit_number already exists")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetUnit(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	u, err := h.svc.GetBloodUnit(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "blood unit not found")
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) GetUnitByNumber(c echo.Context) error {
	u, err := h.svc.GetBloodUnitByNumber(c.Request().Context(), c.Param("number"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "blood unit not found")
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListUnits(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := UnitFilter{
		BloodType:   BloodType(c.QueryParam("blood_type")),
		ProductType: ProductType(c.QueryParam("product_type")),
		Status:      UnitStatus(c.QueryParam("status")),
	}
	if raw := c.QueryParam("donor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid donor_id")
		}
		f.DonorID = &id
	}
	items, total, err := h.svc.ListBloodUnits(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListAvailableUnits(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.GetAvailableBloodUnits(c.Request().Context(),
		BloodType(c.QueryParam("blood_type")), ProductType(c.QueryParam("product_type")), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateUnit(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var u Unit
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u.ID = id
	if err := h.svc.UpdateBloodUnit(c.Request().Context(), &u); err != nil {
		return httpError(err, "blood unit not found")
	}
	return c.JSON(http.StatusOK, u)
}

type unitStatusRequest struct {
	Status    UnitStatus `json:"status"`
	Recipient string     `json:"recipient"`
	Notes     string     `json:"notes"`
}

func (h *Handler) UpdateUnitStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req unitStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.UpdateBloodUnitStatus(c.Request().Context(), id, req.Status, req.Recipient, req.Notes)
	if err != nil {
		return httpError(err, "blood unit not found")
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) DiscardUnit(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.DiscardBloodUnit(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err, "blood unit not found")
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ExpireUnits(c echo.Context) error {
	n, err := h.svc.ExpireOutdatedUnits(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"expired": n})
}

func (h *Handler) InventorySummary(c echo.Context) error {
	s, err := h.svc.GetBloodInventorySummary(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Compatibility(c echo.Context) error {
	recipient := BloodType(c.QueryParam("recipient"))
	if !recipient.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid recipient blood type")
	}
	resp := map[string]interface{}{
		"recipient":   recipient,
		"donor_types": CompatibleDonorTypes(recipient),
	}
	if raw := c.QueryParam("donor"); raw != "" {
		donor := BloodType(raw)
		if !donor.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid donor blood type")
		}
		resp["donor"] = donor
		resp["compatible"] = CanDonate(donor, recipient)
	}
	return c.JSON(http.StatusOK, resp)
}

// -- Donors --

func (h *Handler) AddDonor(c echo.Context) error {
	var d Donor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddDonor(c.Request().Context(), &d); err != nil {
		if db.IsUniqueViolation(err) {
			return echo.NewHTTPError(http.StatusConflict, "donor_number already exists")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDonor(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetDonor(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "donor not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDonors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDonors(c.Request().Context(), DonorFilter{
		BloodType: BloodType(c.QueryParam("blood_type")),
		Status:    DonorStatus(c.QueryParam("status")),
		Search:    c.QueryParam("q"),
	}, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateDonor(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var d Donor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.ID = id
	if err := h.svc.UpdateDonor(c.Request().Context(), &d); err != nil {
		return httpError(err, "donor not found")
	}
	return c.JSON(http.StatusOK, d)
}

type donorStatusRequest struct {
	Status         DonorStatus `json:"status"`
	DeferralReason string      `json:"deferral_reason"`
	DeferralUntil  *time.Time  `json:"deferral_until"`
}

func (h *Handler) UpdateDonorStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req donorStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.UpdateDonorStatus(c.Request().Context(), id, req.Status, req.DeferralReason, req.DeferralUntil)
	if err != nil {
		return httpError(err, "donor not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) RecordDonation(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in DonationInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.RecordDonation(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err, "donor not found")
	}
	return c.JSON(http.StatusCreated, d)
}

// -- Blood requests --

func (h *Handler) CreateRequest(c echo.Context) error {
	var r Request
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.RequestedBy = actor(c, r.RequestedBy)
	if err := h.svc.CreateBloodRequest(c.Request().Context(), &r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.GetBloodRequest(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "blood request not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBloodRequests(c.Request().Context(), RequestFilter{
		Status:     RequestStatus(c.QueryParam("status")),
		Department: c.QueryParam("department"),
		PatientID:  c.QueryParam("patient_id"),
		Urgency:    Urgency(c.QueryParam("urgency")),
	}, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateRequestStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var upd RequestStatusUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	upd.Actor = actor(c, upd.Actor)
	r, err := h.svc.UpdateRequestStatus(c.Request().Context(), id, upd)
	if err != nil {
		return httpError(err, "blood request not found")
	}
	return c.JSON(http.StatusOK, r)
}

type assignUnitsRequest struct {
	ProductType ProductType `json:"product_type"`
	UnitIDs     []uuid.UUID `json:"unit_ids"`
}

func (h *Handler) AssignUnits(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req assignUnitsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.AssignUnitsToRequest(c.Request().Context(), id, req.ProductType, req.UnitIDs)
	if err != nil {
		return httpError(err, "blood request not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ReleaseUnit(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	unitID, err := parseID(c, "unitId")
	if err != nil {
		return err
	}
	r, err := h.svc.ReleaseUnit(c.Request().Context(), id, unitID)
	if err != nil {
		return httpError(err, "blood request not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) RecordCrossmatch(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in CrossmatchInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.PerformedBy = actor(c, in.PerformedBy)
	r, err := h.svc.RecordCrossmatchResult(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err, "blood request not found")
	}
	return c.JSON(http.StatusOK, r)
}
