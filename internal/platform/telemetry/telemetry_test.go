package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTransition(t *testing.T) {
	m := NewMetrics()
	m.RecordTransition("blood_unit", "available", "reserved")
	m.RecordTransition("blood_unit", "available", "reserved")
	m.RecordTransition("ambulance_call", "pending", "dispatched")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("blood_unit", "available", "reserved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("ambulance_call", "pending", "dispatched")))
}

func TestDomainCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordDispatch()
	m.RecordToken()
	m.RecordToken()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokensIssued))
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	r.RecordTransition("a", "b", "c")
	r.RecordDispatch()
	r.RecordToken()
}

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/bloodbank/units/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/missing/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "blood unit not found")
	})

	for _, path := range []string{"/api/v1/bloodbank/units/1", "/api/v1/bloodbank/units/2", "/api/v1/missing/3"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/bloodbank/units/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/missing/:id", "404")))
}

func TestHandler_Exposition(t *testing.T) {
	m := NewMetrics()
	m.RecordDispatch()
	m.RegisterPoolStats(func() (int32, int32, int32) { return 10, 7, 3 })

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "hmis_ambulance_dispatches_total 1"), text)
	assert.True(t, strings.Contains(text, "hmis_db_pool_acquired_conns 3"), text)
	assert.True(t, strings.Contains(text, "go_goroutines"), text)
}
