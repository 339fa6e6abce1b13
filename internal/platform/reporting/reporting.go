package reporting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/bristolpark/hmis/internal/platform/auth"
	"github.com/bristolpark/hmis/internal/platform/db"
)

// Parameter is an optional measure input, bound positionally as $1, $2...
// in declaration order. A missing value binds NULL.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type"` // int or text
}

// MeasureDefinition defines a reporting measure with its SQL query.
type MeasureDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	SQL         string      `json:"sql"`
	Parameters  []Parameter `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available operational measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "blood-units-by-status",
		Name:        "Blood Units by Status",
		Description: "Blood units grouped by status and blood type",
		SQL:         `SELECT status, blood_type, COUNT(*) AS total FROM blood_unit GROUP BY status, blood_type ORDER BY status, blood_type`,
	},
	{
		ID:          "blood-requests-by-status",
		Name:        "Blood Requests by Status",
		Description: "Blood requests grouped by status and urgency",
		SQL:         `SELECT status, urgency, COUNT(*) AS total FROM blood_request GROUP BY status, urgency ORDER BY status, urgency`,
	},
	{
		ID:          "active-ambulance-calls",
		Name:        "Active Ambulance Calls",
		Description: "Calls not yet completed or cancelled, by priority",
		SQL: `SELECT priority, COUNT(*) AS total FROM ambulance_call
WHERE status NOT IN ('completed', 'cancelled')
GROUP BY priority ORDER BY total DESC`,
	},
	{
		ID:          "fleet-status",
		Name:        "Fleet Status",
		Description: "Ambulances grouped by status and type",
		SQL:         `SELECT status, type, COUNT(*) AS total FROM ambulance GROUP BY status, type ORDER BY status, type`,
	},
	{
		ID:          "radiology-requests-by-status",
		Name:        "Radiology Requests by Status",
		Description: "Radiology requests grouped by status, optionally for one request date",
		SQL: `SELECT status, COUNT(*) AS total FROM radiology_request
WHERE ($1::date IS NULL OR request_date::date = $1::date)
GROUP BY status ORDER BY status`,
		Parameters: []Parameter{{Name: "date", Type: "text"}},
	},
	{
		ID:          "clinical-queue-by-status",
		Name:        "Clinical Queue by Status",
		Description: "Today's queue entries grouped by status",
		SQL: `SELECT status, COUNT(*) AS total FROM clinical_queue_entry
WHERE queue_date = CURRENT_DATE
GROUP BY status ORDER BY status`,
	},
	{
		ID:          "pharmacy-low-stock",
		Name:        "Pharmacy Low Stock",
		Description: "Inventory items at or below their reorder level",
		SQL: `SELECT id, name, branch_id, quantity, reorder_level FROM pharmacy_inventory
WHERE quantity <= reorder_level AND ($1::int IS NULL OR branch_id = $1::int)
ORDER BY quantity, name`,
		Parameters: []Parameter{{Name: "branch_id", Type: "int"}},
	},
	{
		ID:          "documents-by-type",
		Name:        "Documents by Type",
		Description: "Stored documents grouped by type and status",
		SQL:         `SELECT document_type, status, COUNT(*) AS total, COALESCE(SUM(file_size), 0) AS total_bytes FROM document GROUP BY document_type, status ORDER BY document_type, status`,
	},
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	pool *pgxpool.Pool
}

func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group, _ *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor, auth.RoleRecordsOfficer))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params := map[string]string{}
	for _, p := range measure.Parameters {
		if v := c.QueryParam(p.Name); v != "" {
			params[p.Name] = v
		}
	}
	args, err := BindParameters(measure, params)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	results, err := h.executeSQL(c.Request().Context(), measure.SQL, args...)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: time.Now(),
		Results:     results,
		Parameters:  params,
	})
}

// BindParameters turns query values into positional arguments for m.
func BindParameters(m *MeasureDefinition, values map[string]string) ([]interface{}, error) {
	args := make([]interface{}, len(m.Parameters))
	for i, p := range m.Parameters {
		v, ok := values[p.Name]
		if !ok || v == "" {
			args[i] = nil
			continue
		}
		switch p.Type {
		case "int":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("parameter %s must be an integer", p.Name)
			}
			args[i] = n
		default:
			args[i] = v
		}
	}
	return args, nil
}

func (h *Handler) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return h.pool
}

// executeSQL runs a SQL query and returns results as a slice of maps.
func (h *Handler) executeSQL(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := h.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
