package admissions

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bristolpark/hmis/internal/platform/auth"
)

// Envelope is the success shape of every admissions route.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}

// ErrorEnvelope is returned when a report fails.
type ErrorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the reports on g, which the server roots at
// /api/admissions.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	read := g.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist, auth.RoleRecordsOfficer))
	read.GET("/ward-management", h.WardManagement)
	read.GET("/departments", h.Departments)
	read.GET("/wards", h.Wards)
	read.GET("/branches", h.Branches)
	read.GET("/hospital-stats", h.HospitalStats)
	read.GET("/beds", h.Beds)
	read.GET("/patients/transferable", h.TransferablePatients)
	g.GET("/test", h.Test)
}

func (h *Handler) ok(c echo.Context, data interface{}, message string) error {
	return c.JSON(http.StatusOK, Envelope{Success: true, Data: data, Message: message})
}

func (h *Handler) fail(c echo.Context, err error, message string) error {
	h.logger.Error().Err(err).Str("path", c.Path()).Msg(message)
	return c.JSON(http.StatusInternalServerError, ErrorEnvelope{Success: false, Message: message, Error: err.Error()})
}

func (h *Handler) badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorEnvelope{Success: false, Message: message})
}

func optionalInt(raw string) (*int, bool) {
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, false
	}
	return &v, true
}

func (h *Handler) WardManagement(c echo.Context) error {
	items, err := h.svc.WardManagement(c.Request().Context())
	if err != nil {
		return h.fail(c, err, "Failed to fetch ward management data")
	}
	return h.ok(c, nonNil(items), "Ward management data retrieved successfully")
}

func (h *Handler) Departments(c echo.Context) error {
	items, err := h.svc.Departments(c.Request().Context())
	if err != nil {
		return h.fail(c, err, "Failed to fetch department data")
	}
	return h.ok(c, nonNil(items), "Department summary retrieved successfully")
}

func (h *Handler) Wards(c echo.Context) error {
	hospitalID, ok := optionalInt(c.QueryParam("hospital_id"))
	if !ok {
		return h.badRequest(c, "invalid hospital_id")
	}
	f := WardFilter{
		Department:      c.QueryParam("department"),
		HospitalID:      hospitalID,
		OccupancyStatus: c.QueryParam("occupancy_status"),
	}
	if !validOccupancy[f.OccupancyStatus] {
		return h.badRequest(c, "invalid occupancy_status")
	}
	items, err := h.svc.Wards(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, err, "Failed to fetch ward data")
	}
	return h.ok(c, nonNil(items), "Ward overview retrieved successfully")
}

func (h *Handler) Branches(c echo.Context) error {
	items, err := h.svc.Branches(c.Request().Context())
	if err != nil {
		return h.fail(c, err, "Failed to fetch branch data")
	}
	return h.ok(c, nonNil(items), "Hospital branches retrieved successfully")
}

func (h *Handler) HospitalStats(c echo.Context) error {
	stats, err := h.svc.HospitalStats(c.Request().Context())
	if err != nil {
		return h.fail(c, err, "Failed to fetch hospital statistics")
	}
	return h.ok(c, stats, "Hospital statistics retrieved successfully")
}

func (h *Handler) Beds(c echo.Context) error {
	wardID, ok := optionalInt(c.QueryParam("ward_id"))
	if !ok {
		return h.badRequest(c, "invalid ward_id")
	}
	items, err := h.svc.Beds(c.Request().Context(), BedFilter{
		WardID:     wardID,
		Department: c.QueryParam("department"),
		Status:     c.QueryParam("status"),
	})
	if err != nil {
		return h.fail(c, err, "Failed to fetch bed details")
	}
	return h.ok(c, nonNil(items), "Bed details retrieved successfully")
}

func (h *Handler) TransferablePatients(c echo.Context) error {
	wardID, ok := optionalInt(c.QueryParam("ward_id"))
	if !ok {
		return h.badRequest(c, "invalid ward_id")
	}
	items, err := h.svc.TransferablePatients(c.Request().Context(), TransferFilter{
		WardID:     wardID,
		Department: c.QueryParam("department"),
	})
	if err != nil {
		return h.fail(c, err, "Failed to fetch transferable patients")
	}
	return h.ok(c, nonNil(items), "Transferable patients retrieved successfully")
}

func (h *Handler) Test(c echo.Context) error {
	status, err := h.svc.Ping(c.Request().Context())
	if err != nil {
		return h.fail(c, err, "API test failed")
	}
	return h.ok(c, status, "Bristol Park Hospital API is working!")
}

// nonNil keeps empty result sets serialised as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
