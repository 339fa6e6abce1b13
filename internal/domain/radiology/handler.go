package radiology

import (
	"errors"
	"net/http"
	"strconv"
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
	g := api.Group("/radiology")

	read := g.Group("", auth.RequireRole(auth.RoleRadiologist, auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	read.GET("/tests", h.ListTests)
	read.GET("/tests/:id", h.GetTest)
	read.GET("/requests", h.ListRequests)
	read.GET("/requests/:id", h.GetRequest)
	read.GET("/external-patients", h.ListExternalPatients)
	read.GET("/external-patients/:id", h.GetExternalPatient)
	read.GET("/stats", h.DashboardStats)

	// Front office and clinicians order and book examinations.
	order := g.Group("", auth.RequireRole(auth.RoleRadiologist, auth.RoleDoctor, auth.RoleReceptionist))
	order.POST("/requests", h.CreateRequest)
	order.POST("/external-patients", h.RegisterExternalPatient)
	order.PATCH("/requests/:id/schedule", h.ScheduleRequest)
	order.PATCH("/requests/:id/payment", h.UpdatePayment)
	order.POST("/requests/:id/cancel", h.CancelRequest)

	rad := g.Group("", auth.RequireRole(auth.RoleRadiologist))
	rad.POST("/tests", h.CreateTest)
	rad.PUT("/tests/:id", h.UpdateTest)
	rad.PATCH("/tests/:id/active", h.SetTestActive)
	rad.POST("/requests/:id/tests/:lineId/start", h.StartProcessing)
	rad.POST("/requests/:id/tests/:lineId/results", h.AddTestResults)
	rad.POST("/requests/:id/tests/:lineId/cancel", h.CancelTestLine)
}

func httpError(err error, notFound string) error {
	switch {
	case db.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, notFound)
	case errors.Is(err, workflow.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
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

// -- Catalogue --

func (h *Handler) CreateTest(c echo.Context) error {
	var t Test
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateTest(c.Request().Context(), &t); err != nil {
		if db.IsUniqueViolation(err) {
			return echo.NewHTTPError(http.StatusConflict, "test name already exists")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTest(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	t, err := h.svc.GetTest(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "test not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTests(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := TestFilter{Category: c.QueryParam("category")}
	if raw := c.QueryParam("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "active must be true or false")
		}
		f.Active = &active
	}
	items, total, err := h.svc.ListTests(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateTest(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var upd TestUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.UpdateTest(c.Request().Context(), id, upd)
	if err != nil {
		return httpError(err, "test not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) SetTestActive(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if err := c.Bind(&req); err != nil || req.Active == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "active is required")
	}
	t, err := h.svc.SetTestActive(c.Request().Context(), id, *req.Active)
	if err != nil {
		return httpError(err, "test not found")
	}
	return c.JSON(http.StatusOK, t)
}

// -- External patients --

func (h *Handler) RegisterExternalPatient(c echo.Context) error {
	var p ExternalPatient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterExternalPatient(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetExternalPatient(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetExternalPatient(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListExternalPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListExternalPatients(c.Request().Context(), ExternalPatientFilter{Search: c.QueryParam("search")}, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Requests --

type createRequestBody struct {
	Request
	TestIDs []uuid.UUID `json:"test_ids"`
}

func (h *Handler) CreateRequest(c echo.Context) error {
	var body createRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r := body.Request
	ctx := c.Request().Context()
	if r.DoctorID == "" {
		r.DoctorID = auth.UserIDFromContext(ctx)
	}
	if r.DoctorName == "" {
		r.DoctorName = auth.UsernameFromContext(ctx)
	}
	if err := h.svc.CreateRequest(ctx, &r, body.TestIDs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.GetRequest(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := RequestFilter{
		Status:    Status(c.QueryParam("status")),
		PatientID: c.QueryParam("patient_id"),
	}
	if raw := c.QueryParam("date"); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		f.Date = &d
	}
	items, total, err := h.svc.ListRequests(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) StartProcessing(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	lineID, err := parseUUID(c, "lineId")
	if err != nil {
		return err
	}
	r, err := h.svc.StartProcessing(c.Request().Context(), id, lineID)
	if err != nil {
		return httpError(err, "request or test not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) AddTestResults(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	lineID, err := parseUUID(c, "lineId")
	if err != nil {
		return err
	}
	var in ResultInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.CompletedBy == "" {
		in.CompletedBy = auth.UsernameFromContext(c.Request().Context())
	}
	r, err := h.svc.AddTestResults(c.Request().Context(), id, lineID, in)
	if err != nil {
		return httpError(err, "request or test not found")
	}
	return c.JSON(http.StatusOK, r)
}

type reasonBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelTestLine(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	lineID, err := parseUUID(c, "lineId")
	if err != nil {
		return err
	}
	var body reasonBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.CancelTestLine(c.Request().Context(), id, lineID, body.Reason)
	if err != nil {
		return httpError(err, "request or test not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) CancelRequest(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body reasonBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.CancelRequest(c.Request().Context(), id, body.Reason)
	if err != nil {
		return httpError(err, "request not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ScheduleRequest(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Date string `json:"scheduled_date"`
		Time string `json:"scheduled_time"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.ScheduleRequest(c.Request().Context(), id, body.Date, body.Time)
	if err != nil {
		return httpError(err, "request not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) UpdatePayment(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var upd PaymentUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.UpdatePaymentStatus(c.Request().Context(), id, upd)
	if err != nil {
		return httpError(err, "request not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DashboardStats(c echo.Context) error {
	stats, err := h.svc.GetDashboardStats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
