package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bristolpark/hmis/internal/platform/websocket"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e websocket.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func newTestManager(ttl time.Duration) (*Manager, *recordingPublisher, *MockSMSSender, *time.Time) {
	pub := &recordingPublisher{}
	sms := &MockSMSSender{}
	m := NewManager(ttl, nil, pub, sms, zerolog.Nop())
	now := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, pub, sms, &now
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

func TestTemplateEngine_BuiltInTemplates(t *testing.T) {
	e := NewTemplateEngine()
	for _, id := range []string{
		TemplatePatientCalled, TemplateDoctorAssigned, TemplateLabResultsReady,
		TemplateLowStock, TemplateCriticalBloodInventory,
	} {
		if _, ok := e.Get(id); !ok {
			t.Errorf("expected built-in template %q", id)
		}
	}
	if len(e.IDs()) != 5 {
		t.Errorf("expected 5 templates, got %v", e.IDs())
	}
}

func TestTemplateEngine_RenderPatientCalled(t *testing.T) {
	e := NewTemplateEngine()
	_, body, err := e.Render(TemplatePatientCalled, map[string]string{"token": "12", "location": "Room 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "Token 12: please proceed to Room 3" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestTemplateEngine_RenderMissingKeyLeftAsIs(t *testing.T) {
	e := NewTemplateEngine()
	_, body, err := e.Render(TemplatePatientCalled, map[string]string{"token": "5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "{{location}}") {
		t.Errorf("expected placeholder kept, got %q", body)
	}
}

func TestTemplateEngine_RenderUnknown(t *testing.T) {
	if _, _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestTemplateEngine_RegisterTemplate(t *testing.T) {
	e := NewTemplateEngine()
	e.RegisterTemplate(Template{ID: "bed-ready", Body: "Bed {{bed}} is ready", Type: ToastSuccess})
	_, body, err := e.Render("bed-ready", map[string]string{"bed": "B12"})
	if err != nil || body != "Bed B12 is ready" {
		t.Fatalf("unexpected render %q, %v", body, err)
	}
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

func TestManager_ShowAssignsIDAndExpiry(t *testing.T) {
	m, pub, _, now := newTestManager(5 * time.Second)

	toast, err := m.Show(context.Background(), Toast{Type: ToastSuccess, Message: "Saved"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toast.ID == "" {
		t.Fatal("expected id")
	}
	if !toast.CreatedAt.Equal(*now) {
		t.Errorf("expected created_at %v, got %v", *now, toast.CreatedAt)
	}
	if got := toast.ExpiresAt.Sub(toast.CreatedAt); got != 5*time.Second {
		t.Errorf("expected 5s ttl, got %v", got)
	}
	if types := pub.types(); len(types) != 1 || types[0] != EventShown {
		t.Errorf("expected notification.shown, got %v", types)
	}
}

func TestManager_ShowValidation(t *testing.T) {
	m, _, _, _ := newTestManager(time.Second)
	if _, err := m.Show(context.Background(), Toast{Type: ToastInfo}); err == nil {
		t.Error("expected error for empty message")
	}
	if _, err := m.Show(context.Background(), Toast{Type: "fatal", Message: "x"}); err == nil {
		t.Error("expected error for invalid type")
	}
	toast, err := m.Show(context.Background(), Toast{Message: "defaulted"})
	if err != nil || toast.Type != ToastInfo {
		t.Errorf("expected info default, got %v, %v", toast, err)
	}
}

func TestManager_ListFiltersExpiredAndRecipient(t *testing.T) {
	m, _, _, now := newTestManager(5 * time.Second)
	ctx := context.Background()

	m.Info(ctx, "", "broadcast")
	m.Warning(ctx, "nurse-1", "for nurse")
	m.Error(ctx, "doctor-1", "for doctor")

	if got := m.List(ctx, "nurse-1"); len(got) != 2 {
		t.Fatalf("expected broadcast + nurse toast, got %d", len(got))
	}
	if got := m.List(ctx, ""); len(got) != 3 {
		t.Fatalf("expected all 3 toasts, got %d", len(got))
	}

	*now = now.Add(5 * time.Second)
	if got := m.List(ctx, "nurse-1"); len(got) != 0 {
		t.Fatalf("expected expired toasts hidden, got %d", len(got))
	}
}

func TestManager_Sweep(t *testing.T) {
	m, _, _, now := newTestManager(time.Second)
	ctx := context.Background()
	m.Success(ctx, "", "a")
	m.Success(ctx, "", "b")

	if n := m.Sweep(now.Add(500 * time.Millisecond)); n != 0 {
		t.Errorf("expected nothing swept yet, got %d", n)
	}
	if n := m.Sweep(now.Add(2 * time.Second)); n != 2 {
		t.Errorf("expected 2 swept, got %d", n)
	}
}

func TestManager_Remove(t *testing.T) {
	m, pub, _, _ := newTestManager(time.Minute)
	ctx := context.Background()
	toast, _ := m.Info(ctx, "", "hello")

	if err := m.Remove(ctx, toast.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Remove(ctx, toast.ID); err == nil {
		t.Fatal("expected error removing twice")
	}
	if len(m.List(ctx, "")) != 0 {
		t.Fatal("expected no toasts after remove")
	}
	types := pub.types()
	if types[len(types)-1] != EventDismissed {
		t.Errorf("expected dismissed event, got %v", types)
	}
}

func TestManager_NotifyRendersAndSendsSMS(t *testing.T) {
	m, _, sms, _ := newTestManager(time.Minute)

	toast, err := m.Notify(context.Background(), TemplatePatientCalled, "patient-7",
		map[string]string{"token": "7", "location": "Triage", "phone": "+254700000001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toast.Type != ToastInfo || toast.Message != "Token 7: please proceed to Triage" {
		t.Errorf("unexpected toast %+v", toast)
	}
	if toast.TemplateID != TemplatePatientCalled {
		t.Errorf("expected template id recorded, got %q", toast.TemplateID)
	}
	calls := sms.Calls()
	if len(calls) != 1 || calls[0].To != "+254700000001" {
		t.Errorf("expected one sms, got %v", calls)
	}
}

func TestManager_NotifySMSFailureDoesNotFail(t *testing.T) {
	m, _, sms, _ := newTestManager(time.Minute)
	sms.ShouldFail = true

	if _, err := m.Notify(context.Background(), TemplateLowStock, "", map[string]string{"item_name": "Amoxicillin", "phone": "1"}); err != nil {
		t.Fatalf("expected toast despite sms failure, got %v", err)
	}
}

func TestManager_NotifyUnknownTemplate(t *testing.T) {
	m, _, _, _ := newTestManager(time.Minute)
	if _, err := m.Notify(context.Background(), "nope", "", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m := NewManager(time.Millisecond, nil, nil, nil, zerolog.Nop())
	m.Info(context.Background(), "", "short lived")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	m.mu.RLock()
	left := len(m.toasts)
	m.mu.RUnlock()
	if left != 0 {
		t.Errorf("expected sweep to remove expired toast, %d left", left)
	}
}

func TestLogSMSSender(t *testing.T) {
	s := NewLogSMSSender(zerolog.Nop())
	if err := s.SendSMS(context.Background(), "", "x"); err == nil {
		t.Error("expected error for empty recipient")
	}
	if err := s.SendSMS(context.Background(), "+254700000000", "x"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

func setupHandler() (*Handler, *Manager, *echo.Echo) {
	m := NewManager(time.Minute, nil, nil, nil, zerolog.Nop())
	return NewHandler(m), m, echo.New()
}

func TestHandler_ShowAndList(t *testing.T) {
	h, _, e := setupHandler()

	body := `{"type":"warning","message":"Ward 4 nearly full","recipient":"nurse-2"}`
	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.HandleShow(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/notifications?recipient=nurse-2", nil)
	rec = httptest.NewRecorder()
	if err := h.HandleList(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var list []Toast
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(list) != 1 || list[0].Type != ToastWarning {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestHandler_ShowInvalid(t *testing.T) {
	h, _, e := setupHandler()
	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(`{"type":"info"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.HandleShow(e.NewContext(req, httptest.NewRecorder()))
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_Notify(t *testing.T) {
	h, _, e := setupHandler()
	body := `{"template_id":"doctor-assigned","recipient":"doc-1","data":{"doctor_name":"Otieno","token":"4","patient_name":"J. Mwangi"}}`
	req := httptest.NewRequest(http.MethodPost, "/notifications/template", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.HandleNotify(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "Dr. Otieno") {
		t.Errorf("expected rendered body, got %s", rec.Body.String())
	}
}

func TestHandler_Remove(t *testing.T) {
	h, m, e := setupHandler()
	toast, _ := m.Info(context.Background(), "", "x")

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(toast.ID)
	if err := h.HandleRemove(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	if err := h.HandleRemove(c); err == nil {
		t.Fatal("expected 404")
	}
}

func TestHandler_Templates(t *testing.T) {
	h, _, e := setupHandler()
	rec := httptest.NewRecorder()
	if err := h.HandleTemplates(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var list []Template
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 5 {
		t.Errorf("expected 5 templates, got %d", len(list))
	}
}
