package notification

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes toasts over HTTP.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes mounts the toast routes. Every authenticated user may read
// and raise toasts.
func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	api.GET("/notifications", h.HandleList)
	api.POST("/notifications", h.HandleShow)
	api.POST("/notifications/template", h.HandleNotify)
	api.GET("/notifications/templates", h.HandleTemplates)
	api.DELETE("/notifications/:id", h.HandleRemove)
}

func (h *Handler) HandleList(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.List(c.Request().Context(), c.QueryParam("recipient")))
}

func (h *Handler) HandleShow(c echo.Context) error {
	var t Toast
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.manager.Show(c.Request().Context(), t)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, out)
}

type notifyRequest struct {
	TemplateID string            `json:"template_id"`
	Recipient  string            `json:"recipient"`
	Data       map[string]string `json:"data"`
}

func (h *Handler) HandleNotify(c echo.Context) error {
	var req notifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.manager.Notify(c.Request().Context(), req.TemplateID, req.Recipient, req.Data)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) HandleTemplates(c echo.Context) error {
	out := make([]Template, 0)
	for _, id := range h.manager.Templates().IDs() {
		t, _ := h.manager.Templates().Get(id)
		out = append(out, t)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) HandleRemove(c echo.Context) error {
	if err := h.manager.Remove(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.NoContent(http.StatusNoContent)
}
