package pharmacy

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

const dateLayout = "2006-01-02"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	g := api.Group("/pharmacy")

	read := g.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleDoctor, auth.RoleNurse))
	read.GET("/prescriptions", h.ListPrescriptions)
	read.GET("/prescriptions/:id", h.GetPrescription)
	read.GET("/inventory", h.ListInventory)
	read.GET("/inventory/:id", h.GetInventoryItem)
	read.GET("/movements", h.ListMovements)
	read.GET("/reports/reorder", h.ReorderReport)
	read.GET("/reports/expiry", h.ExpiryReport)
	read.GET("/reports/movements", h.MovementSummary)

	prescribe := g.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleDoctor))
	prescribe.POST("/prescriptions", h.CreatePrescription)

	ph := g.Group("", auth.RequireRole(auth.RolePharmacist))
	ph.POST("/prescriptions/walk-in", h.CreateWalkInPrescription)
	ph.POST("/prescriptions/:id/confirm", h.ConfirmPrescription)
	ph.POST("/prescriptions/:id/dispense", h.DispenseMedication)
	ph.POST("/prescriptions/:id/reverse", h.ReversePrescription)
	ph.PATCH("/prescriptions/:id/payment", h.UpdatePayment)
	ph.DELETE("/prescriptions/:id", h.DeletePrescription)

	ph.POST("/inventory", h.AddInventoryItem)
	ph.PUT("/inventory/:id", h.UpdateInventoryItem)
	ph.POST("/inventory/:id/adjust", h.AdjustStock)
	ph.POST("/inventory/:id/receive", h.ReceiveStock)

	ph.GET("/stock-takes", h.ListStockTakes)
	ph.GET("/stock-takes/:id", h.GetStockTake)
	ph.POST("/stock-takes", h.CreateStockTake)
	ph.PATCH("/stock-takes/:id/items/:itemId", h.RecordCount)
	ph.POST("/stock-takes/:id/complete", h.CompleteStockTake)

	ph.GET("/transfers", h.ListTransfers)
	ph.GET("/transfers/:id", h.GetTransfer)
	ph.POST("/transfers", h.CreateTransfer)
	ph.POST("/transfers/:id/complete", h.CompleteTransfer)
	ph.POST("/transfers/:id/cancel", h.CancelTransfer)
}

func httpError(err error, notFound string) error {
	switch {
	case db.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, notFound)
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, ErrOutOfStock),
		errors.Is(err, ErrAlreadyDispensed),
		errors.Is(err, ErrAlreadyConfirmed),
		errors.Is(err, ErrPrescriptionClosed),
		errors.Is(err, ErrStockTakeClosed):
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

// actor is the body's value, or the caller's username when it is empty.
func actor(c echo.Context, given string) string {
	if given != "" {
		return given
	}
	return auth.UsernameFromContext(c.Request().Context())
}

// -- Prescriptions --

func (h *Handler) CreatePrescription(c echo.Context) error {
	var rx Prescription
	if err := c.Bind(&rx); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if rx.DoctorID == "" {
		rx.DoctorID = auth.UserIDFromContext(ctx)
		rx.DoctorName = auth.UsernameFromContext(ctx)
	}
	if err := h.svc.CreatePrescription(ctx, &rx); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rx)
}

func (h *Handler) CreateWalkInPrescription(c echo.Context) error {
	var rx Prescription
	if err := c.Bind(&rx); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateWalkInPrescription(c.Request().Context(), &rx); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rx)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	rx, err := h.svc.GetPrescription(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err, "prescription not found")
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := PrescriptionFilter{
		Status:      Status(c.QueryParam("status")),
		PatientID:   c.QueryParam("patient_id"),
		PatientType: PatientType(c.QueryParam("patient_type")),
	}
	items, total, err := h.svc.ListPrescriptions(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ConfirmPrescription(c echo.Context) error {
	var body struct {
		ConfirmedBy string `json:"confirmed_by"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rx, err := h.svc.ConfirmPrescription(c.Request().Context(), c.Param("id"), actor(c, body.ConfirmedBy))
	if err != nil {
		return httpError(err, "prescription not found")
	}
	return c.JSON(http.StatusOK, rx)
}

// DispenseMedication returns 409 with the prescription on a shortage, so the
// client can show the line as out of stock.
func (h *Handler) DispenseMedication(c echo.Context) error {
	var body struct {
		MedicationIndex *int   `json:"medication_index"`
		Quantity        int    `json:"quantity"`
		DispensedBy     string `json:"dispensed_by"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.MedicationIndex == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "medication_index is required")
	}
	rx, err := h.svc.DispenseMedication(c.Request().Context(), c.Param("id"), *body.MedicationIndex,
		body.Quantity, actor(c, body.DispensedBy))
	if errors.Is(err, ErrOutOfStock) && rx != nil {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"message":      err.Error(),
			"prescription": rx,
		})
	}
	if err != nil {
		return httpError(err, "prescription not found")
	}
	return c.JSON(http.StatusOK, rx)
}

type reasonBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) ReversePrescription(c echo.Context) error {
	var body reasonBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rx, err := h.svc.ReversePrescription(c.Request().Context(), c.Param("id"), body.Reason, actor(c, ""))
	if err != nil {
		return httpError(err, "prescription not found")
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) DeletePrescription(c echo.Context) error {
	rx, err := h.svc.DeletePrescription(c.Request().Context(), c.Param("id"), c.QueryParam("reason"))
	if err != nil {
		return httpError(err, "prescription not found")
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) UpdatePayment(c echo.Context) error {
	var upd PaymentUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rx, err := h.svc.UpdatePaymentStatus(c.Request().Context(), c.Param("id"), upd)
	if err != nil {
		return httpError(err, "prescription not found")
	}
	return c.JSON(http.StatusOK, rx)
}

// -- Inventory --

func (h *Handler) AddInventoryItem(c echo.Context) error {
	var it InventoryItem
	if err := c.Bind(&it); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddInventoryItem(c.Request().Context(), &it, actor(c, "")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, it)
}

func (h *Handler) GetInventoryItem(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	it, err := h.svc.GetInventoryItem(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "inventory item not found")
	}
	return c.JSON(http.StatusOK, it)
}

func (h *Handler) ListInventory(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := InventoryFilter{
		Category: c.QueryParam("category"),
		Location: c.QueryParam("location"),
		Search:   c.QueryParam("search"),
	}
	items, total, err := h.svc.ListInventory(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateInventoryItem(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var upd InventoryUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	it, err := h.svc.UpdateInventoryItem(c.Request().Context(), id, upd)
	if err != nil {
		return httpError(err, "inventory item not found")
	}
	return c.JSON(http.StatusOK, it)
}

func (h *Handler) AdjustStock(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Quantity int    `json:"quantity"`
		Reason   string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	it, err := h.svc.AdjustStock(c.Request().Context(), id, body.Quantity, body.Reason, actor(c, ""))
	if err != nil {
		return httpError(err, "inventory item not found")
	}
	return c.JSON(http.StatusOK, it)
}

func (h *Handler) ReceiveStock(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Quantity  int    `json:"quantity"`
		Reason    string `json:"reason"`
		Reference string `json:"reference"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	it, err := h.svc.ReceiveStock(c.Request().Context(), id, body.Quantity, body.Reason, body.Reference, actor(c, ""))
	if err != nil {
		return httpError(err, "inventory item not found")
	}
	return c.JSON(http.StatusOK, it)
}

func parseDateParam(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, name+" must be YYYY-MM-DD")
	}
	return &d, nil
}

func parseItemParam(c echo.Context) (*uuid.UUID, error) {
	raw := c.QueryParam("item_id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid item_id")
	}
	return &id, nil
}

func (h *Handler) ListMovements(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := MovementFilter{Type: MovementType(c.QueryParam("type"))}
	var err error
	if f.ItemID, err = parseItemParam(c); err != nil {
		return err
	}
	if f.From, err = parseDateParam(c, "from"); err != nil {
		return err
	}
	if f.To, err = parseDateParam(c, "to"); err != nil {
		return err
	}
	if f.To != nil {
		end := f.To.Add(24*time.Hour - time.Nanosecond)
		f.To = &end
	}
	items, total, err := h.svc.ListMovements(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ReorderReport(c echo.Context) error {
	items, err := h.svc.ReorderReport(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ExpiryReport(c echo.Context) error {
	months := 0
	if raw := c.QueryParam("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "months must be a positive integer")
		}
		months = n
	}
	items, err := h.svc.ExpiryReport(c.Request().Context(), months)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

// MovementSummary takes from and to dates, both required and inclusive.
func (h *Handler) MovementSummary(c echo.Context) error {
	itemID, err := parseItemParam(c)
	if err != nil {
		return err
	}
	from, err := parseDateParam(c, "from")
	if err != nil {
		return err
	}
	to, err := parseDateParam(c, "to")
	if err != nil {
		return err
	}
	if from == nil || to == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "from and to are required")
	}
	out, err := h.svc.StockMovementSummary(c.Request().Context(), itemID, *from, to.Add(24*time.Hour-time.Nanosecond))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, out)
}

// -- Stock takes --

func (h *Handler) CreateStockTake(c echo.Context) error {
	var in StockTakeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.ConductedBy = actor(c, in.ConductedBy)
	st, err := h.svc.CreateStockTake(c.Request().Context(), in)
	if err != nil {
		return httpError(err, "inventory item not found")
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStockTake(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	st, err := h.svc.GetStockTake(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "stock take not found")
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListStockTakes(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListStockTakes(c.Request().Context(), StockTakeStatus(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RecordCount(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	itemID, err := parseUUID(c, "itemId")
	if err != nil {
		return err
	}
	var body struct {
		ActualQuantity *int   `json:"actual_quantity"`
		Notes          string `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.ActualQuantity == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "actual_quantity is required")
	}
	st, err := h.svc.RecordCount(c.Request().Context(), id, itemID, *body.ActualQuantity, body.Notes)
	if err != nil {
		return httpError(err, "stock take not found")
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) CompleteStockTake(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	st, err := h.svc.CompleteStockTake(c.Request().Context(), id, actor(c, ""))
	if err != nil {
		return httpError(err, "stock take not found")
	}
	return c.JSON(http.StatusOK, st)
}

// -- Transfers --

func (h *Handler) CreateTransfer(c echo.Context) error {
	var t Transfer
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.RequestedBy = actor(c, t.RequestedBy)
	if err := h.svc.CreateTransfer(c.Request().Context(), &t); err != nil {
		return httpError(err, "inventory item not found")
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTransfer(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	t, err := h.svc.GetTransfer(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "transfer not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTransfers(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTransfers(c.Request().Context(), TransferStatus(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CompleteTransfer(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	t, err := h.svc.CompleteTransfer(c.Request().Context(), id, actor(c, ""))
	if err != nil {
		return httpError(err, "transfer not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CancelTransfer(c echo.Context) error {
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	var body reasonBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.CancelTransfer(c.Request().Context(), id, body.Reason)
	if err != nil {
		return httpError(err, "transfer not found")
	}
	return c.JSON(http.StatusOK, t)
}
