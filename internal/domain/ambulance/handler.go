package ambulance

import (
	"errors"
	"net/http"

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
	read := api.Group("", auth.RequireRole(auth.RoleDispatcher, auth.RoleParamedic, auth.RoleDoctor, auth.RoleNurse))
	read.GET("/ambulances", h.ListAmbulances)
	read.GET("/ambulances/available", h.ListAvailableAmbulances)
	read.GET("/ambulances/stats", h.DashboardStats)
	read.GET("/ambulances/:id", h.GetAmbulance)
	read.GET("/ambulance-crew", h.ListCrew)
	read.GET("/ambulance-crew/available", h.ListAvailableCrew)
	read.GET("/ambulance-crew/:id", h.GetCrewMember)
	read.GET("/ambulance-calls", h.ListCalls)
	read.GET("/ambulance-calls/active", h.ListActiveCalls)
	read.GET("/ambulance-calls/:id", h.GetCall)
	read.GET("/ambulance-maintenance", h.ListMaintenance)
	read.GET("/ambulance-maintenance/upcoming", h.UpcomingMaintenance)
	read.GET("/ambulance-maintenance/:id", h.GetMaintenance)

	// Crews on the road report position, equipment and patient care.
	field := api.Group("", auth.RequireRole(auth.RoleDispatcher, auth.RoleParamedic))
	field.PATCH("/ambulances/:id/location", h.UpdateLocation)
	field.PATCH("/ambulances/:id/equipment", h.UpdateEquipment)
	field.PATCH("/ambulance-calls/:id/status", h.UpdateCallStatus)
	field.POST("/ambulance-calls/:id/vitals", h.AddVitalSigns)
	field.POST("/ambulance-calls/:id/treatments", h.AddTreatment)

	dispatch := api.Group("", auth.RequireRole(auth.RoleDispatcher))
	dispatch.POST("/ambulances", h.AddAmbulance)
	dispatch.PUT("/ambulances/:id", h.UpdateAmbulance)
	dispatch.PATCH("/ambulances/:id/status", h.UpdateAmbulanceStatus)
	dispatch.PUT("/ambulances/:id/crew", h.AssignCrew)
	dispatch.POST("/ambulance-crew", h.AddCrewMember)
	dispatch.PUT("/ambulance-crew/:id", h.UpdateCrewMember)
	dispatch.PATCH("/ambulance-crew/:id/status", h.UpdateCrewStatus)
	dispatch.PUT("/ambulance-crew/:id/shift", h.AssignShift)
	dispatch.POST("/ambulance-calls", h.CreateCall)
	dispatch.POST("/ambulance-calls/:id/dispatch", h.DispatchCall)
	dispatch.POST("/ambulance-maintenance", h.ScheduleMaintenance)
	dispatch.PATCH("/ambulance-maintenance/:id/status", h.UpdateMaintenanceStatus)
}

func httpError(err error, notFound string) error {
	switch {
	case db.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, notFound)
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, ErrAmbulanceUnavailable),
		errors.Is(err, ErrAmbulanceOnCall),
		errors.Is(err, ErrCrewUnavailable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// -- Fleet --

func (h *Handler) AddAmbulance(c echo.Context) error {
	var a Ambulance
	if err := bind(c, &a); err != nil {
		return err
	}
	if err := h.svc.AddAmbulance(c.Request().Context(), &a); err != nil {
		if db.IsUniqueViolation(err) {
			return echo.NewHTTPError(http.StatusConflict, "vehicle_number already exists")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAmbulance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAmbulance(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "ambulance not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAmbulances(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAmbulances(c.Request().Context(), AmbulanceFilter{
		Status: AmbulanceStatus(c.QueryParam("status")),
		Type:   AmbulanceType(c.QueryParam("type")),
	}, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListAvailableAmbulances(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.GetAvailableAmbulances(c.Request().Context(), AmbulanceType(c.QueryParam("type")), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateAmbulance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var a Ambulance
	if err := bind(c, &a); err != nil {
		return err
	}
	a.ID = id
	if err := h.svc.UpdateAmbulance(c.Request().Context(), &a); err != nil {
		return httpError(err, "ambulance not found")
	}
	return c.JSON(http.StatusOK, a)
}

type ambulanceStatusRequest struct {
	Status   AmbulanceStatus `json:"status"`
	Location *Location       `json:"location"`
}

func (h *Handler) UpdateAmbulanceStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ambulanceStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	a, err := h.svc.UpdateAmbulanceStatus(c.Request().Context(), id, req.Status, req.Location)
	if err != nil {
		return httpError(err, "ambulance not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateLocation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var loc Location
	if err := bind(c, &loc); err != nil {
		return err
	}
	a, err := h.svc.UpdateLocation(c.Request().Context(), id, loc)
	if err != nil {
		return httpError(err, "ambulance not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateEquipment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var upd EquipmentUpdate
	if err := bind(c, &upd); err != nil {
		return err
	}
	a, err := h.svc.UpdateEquipmentStatus(c.Request().Context(), id, upd)
	if err != nil {
		return httpError(err, "ambulance not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) AssignCrew(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		CrewIDs []uuid.UUID `json:"crew_ids"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	a, err := h.svc.AssignCrewToAmbulance(c.Request().Context(), id, req.CrewIDs)
	if err != nil {
		return httpError(err, "ambulance not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DashboardStats(c echo.Context) error {
	stats, err := h.svc.GetDashboardStats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// -- Crew --

func (h *Handler) AddCrewMember(c echo.Context) error {
	var m CrewMember
	if err := bind(c, &m); err != nil {
		return err
	}
	if err := h.svc.AddCrewMember(c.Request().Context(), &m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetCrewMember(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.GetCrewMember(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "crew member not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListCrew(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCrewMembers(c.Request().Context(), CrewFilter{
		Status: CrewStatus(c.QueryParam("status")),
		Role:   CrewRole(c.QueryParam("role")),
	}, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListAvailableCrew(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.GetAvailableCrewMembers(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateCrewMember(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var m CrewMember
	if err := bind(c, &m); err != nil {
		return err
	}
	m.ID = id
	if err := h.svc.UpdateCrewMember(c.Request().Context(), &m); err != nil {
		return httpError(err, "crew member not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) UpdateCrewStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Status CrewStatus `json:"status"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	m, err := h.svc.UpdateCrewStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(err, "crew member not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) AssignShift(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var shift Shift
	if err := bind(c, &shift); err != nil {
		return err
	}
	m, err := h.svc.AssignShift(c.Request().Context(), id, shift)
	if err != nil {
		return httpError(err, "crew member not found")
	}
	return c.JSON(http.StatusOK, m)
}

// -- Calls --

func (h *Handler) CreateCall(c echo.Context) error {
	var call Call
	if err := bind(c, &call); err != nil {
		return err
	}
	if err := h.svc.CreateCall(c.Request().Context(), &call); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, call)
}

func (h *Handler) GetCall(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	call, err := h.svc.GetCall(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "call not found")
	}
	return c.JSON(http.StatusOK, call)
}

func (h *Handler) ListCalls(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCalls(c.Request().Context(), CallFilter{
		Status:   CallStatus(c.QueryParam("status")),
		Priority: CallPriority(c.QueryParam("priority")),
	}, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListActiveCalls(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.GetActiveCalls(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DispatchCall(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		AmbulanceID uuid.UUID `json:"ambulance_id"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.AmbulanceID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "ambulance_id is required")
	}
	call, err := h.svc.DispatchCall(c.Request().Context(), id, req.AmbulanceID)
	if err != nil {
		return httpError(err, "call or ambulance not found")
	}
	return c.JSON(http.StatusOK, call)
}

func (h *Handler) UpdateCallStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var upd CallStatusUpdate
	if err := bind(c, &upd); err != nil {
		return err
	}
	call, err := h.svc.UpdateCallStatus(c.Request().Context(), id, upd)
	if err != nil {
		return httpError(err, "call not found")
	}
	return c.JSON(http.StatusOK, call)
}

func (h *Handler) AddVitalSigns(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var v VitalSigns
	if err := bind(c, &v); err != nil {
		return err
	}
	call, err := h.svc.AddVitalSigns(c.Request().Context(), id, v)
	if err != nil {
		return httpError(err, "call not found")
	}
	return c.JSON(http.StatusOK, call)
}

func (h *Handler) AddTreatment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var t Treatment
	if err := bind(c, &t); err != nil {
		return err
	}
	if t.Provider == "" {
		t.Provider = auth.UsernameFromContext(c.Request().Context())
	}
	call, err := h.svc.AddTreatment(c.Request().Context(), id, t)
	if err != nil {
		return httpError(err, "call not found")
	}
	return c.JSON(http.StatusOK, call)
}

// -- Maintenance --

func (h *Handler) ScheduleMaintenance(c echo.Context) error {
	var m Maintenance
	if err := bind(c, &m); err != nil {
		return err
	}
	if err := h.svc.ScheduleMaintenance(c.Request().Context(), &m); err != nil {
		return httpError(err, "ambulance not found")
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetMaintenance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.GetMaintenance(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "maintenance record not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListMaintenance(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := MaintenanceFilter{Status: MaintenanceStatus(c.QueryParam("status"))}
	if raw := c.QueryParam("ambulance_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid ambulance_id")
		}
		f.AmbulanceID = &id
	}
	items, total, err := h.svc.ListMaintenance(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpcomingMaintenance(c echo.Context) error {
	items, err := h.svc.UpcomingMaintenance(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Maintenance{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateMaintenanceStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var upd MaintenanceStatusUpdate
	if err := bind(c, &upd); err != nil {
		return err
	}
	m, err := h.svc.UpdateMaintenanceStatus(c.Request().Context(), id, upd)
	if err != nil {
		return httpError(err, "maintenance record not found")
	}
	return c.JSON(http.StatusOK, m)
}
