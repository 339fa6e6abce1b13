package clinical

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
	g := api.Group("/clinical")

	read := g.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist,
		auth.RoleLabTechnician, auth.RolePharmacist))
	read.GET("/queue", h.ListQueue)
	read.GET("/queue/:id", h.GetEntry)
	read.GET("/token-board", h.TokenBoard)

	desk := g.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleNurse, auth.RoleDoctor))
	desk.POST("/queue", h.RegisterPatient)
	desk.PATCH("/queue/:id/status", h.UpdateStatus)
	desk.PATCH("/queue/:id/priority", h.UpdatePriority)
	desk.POST("/queue/:id/assign-doctor", h.AssignDoctor)
	desk.POST("/queue/:id/notify-patient", h.NotifyPatient)
	desk.POST("/queue/:id/notify-doctor", h.NotifyDoctor)

	triage := g.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleDoctor))
	triage.POST("/queue/:id/vitals", h.RecordVitals)

	doc := g.Group("", auth.RequireRole(auth.RoleDoctor))
	doc.POST("/queue/:id/lab-tests", h.OrderLabTests)
	doc.POST("/queue/:id/diagnoses", h.RecordDiagnosis)
	doc.POST("/queue/:id/medications", h.PrescribeMedications)

	lab := g.Group("", auth.RequireRole(auth.RoleLabTechnician, auth.RoleDoctor))
	lab.PATCH("/queue/:id/lab-tests/:testId", h.UpdateLabTest)
}

func httpError(err error) error {
	switch {
	case db.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "queue entry not found")
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, ErrEntryClosed),
		errors.Is(err, ErrNoDoctor):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotificationsOff):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func parseUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.RegisterPatient(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	e, err := h.svc.GetEntry(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListQueue(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := QueueFilter{
		Status:    PatientStatus(c.QueryParam("status")),
		DoctorID:  c.QueryParam("doctor_id"),
		PatientID: c.QueryParam("patient_id"),
	}
	if raw := c.QueryParam("date"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		f.Date = &d
	}
	items, total, err := h.svc.ListQueue(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) TokenBoard(c echo.Context) error {
	board, err := h.svc.GetTokenBoard(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, board)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Status PatientStatus `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.UpdatePatientStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdatePriority(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Priority Priority `json:"priority"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.UpdatePriority(c.Request().Context(), id, body.Priority)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) RecordVitals(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var v Vitals
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if v.RecordedBy == "" {
		v.RecordedBy = auth.UsernameFromContext(c.Request().Context())
	}
	e, err := h.svc.RecordVitals(c.Request().Context(), id, v)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

// AssignDoctor defaults to the calling doctor when the body names no one.
func (h *Handler) AssignDoctor(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		DoctorID   string `json:"doctor_id"`
		DoctorName string `json:"doctor_name"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if body.DoctorID == "" {
		body.DoctorID = auth.UserIDFromContext(ctx)
		body.DoctorName = auth.UsernameFromContext(ctx)
	}
	e, err := h.svc.AssignDoctor(ctx, id, body.DoctorID, body.DoctorName)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) OrderLabTests(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Tests []string `json:"tests"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	e, err := h.svc.OrderLabTests(ctx, id, body.Tests, auth.UsernameFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdateLabTest(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	testID, err := parseUUID(c, "testId")
	if err != nil {
		return err
	}
	var upd LabUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if upd.UploadedBy == "" {
		upd.UploadedBy = auth.UsernameFromContext(ctx)
	}
	e, err := h.svc.UpdateLabTestStatus(ctx, id, testID, upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) RecordDiagnosis(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var d Diagnosis
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.RecordDiagnosis(c.Request().Context(), id, d)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) PrescribeMedications(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Medications []Medication `json:"medications"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.PrescribeMedications(c.Request().Context(), id, body.Medications)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) NotifyPatient(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Location string `json:"location"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.NotifyPatient(c.Request().Context(), id, body.Location)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) NotifyDoctor(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	t, err := h.svc.NotifyDoctor(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}
