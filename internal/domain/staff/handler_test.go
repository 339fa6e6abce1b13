package staff

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bristolpark/hmis/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv(t)
	return NewHandler(env.svc), env, echo.New()
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, httpErr.Code, httpErr.Message)
	}
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func idContext(e *echo.Echo, req *http.Request, id string) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func TestHandler_Login(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.create(t, nurseInput())

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"username":"akinyi","password":"s3cure-pass"}`), rec)
	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var sess Session
	json.Unmarshal(rec.Body.Bytes(), &sess)
	if sess.Token == "" || sess.User == nil || sess.User.Username != "akinyi" {
		t.Errorf("unexpected session %+v", sess)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("password hash must not be serialised")
	}
}

func TestHandler_Login_BadPassword(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.create(t, nurseInput())

	c := e.NewContext(jsonRequest(http.MethodPost, `{"username":"akinyi","password":"nope-nope"}`), httptest.NewRecorder())
	expectHTTPError(t, h.Login(c), http.StatusUnauthorized)
}

func TestHandler_Register(t *testing.T) {
	h, _, e := newTestHandler(t)
	body := `{"username":"wanjiru","email":"wanjiru@bristolpark.co.ke","password":"pharm-pass-1",
		"first_name":"Ann","last_name":"Wanjiru","role":"pharmacist"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body), rec)
	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, body), httptest.NewRecorder())
	expectHTTPError(t, h.Register(c), http.StatusBadRequest)
}

func TestHandler_Profile(t *testing.T) {
	h, env, e := newTestHandler(t)
	u := env.create(t, nurseInput())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(asUser(u, "jti"))
	rec := httptest.NewRecorder()
	if err := h.Profile(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"username":"akinyi"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_ChangePassword_Wrong(t *testing.T) {
	h, env, e := newTestHandler(t)
	u := env.create(t, nurseInput())

	req := jsonRequest(http.MethodPost, `{"current_password":"guess-guess","new_password":"another-pass"}`)
	req = req.WithContext(asUser(u, "jti"))
	expectHTTPError(t, h.ChangePassword(e.NewContext(req, httptest.NewRecorder())), http.StatusUnauthorized)
}

func TestHandler_Logout_NoRevoker(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.svc.SetRevoker(nil)
	u := env.create(t, nurseInput())

	req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(asUser(u, "jti"))
	expectHTTPError(t, h.Logout(e.NewContext(req, httptest.NewRecorder())), http.StatusServiceUnavailable)
}

func TestHandler_GetUser(t *testing.T) {
	h, env, e := newTestHandler(t)
	u := env.create(t, nurseInput())

	c, rec := idContext(e, httptest.NewRequest(http.MethodGet, "/", nil), u.ID.String())
	if err := h.GetUser(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = idContext(e, httptest.NewRequest(http.MethodGet, "/", nil), uuid.New().String())
	expectHTTPError(t, h.GetUser(c), http.StatusNotFound)

	c, _ = idContext(e, httptest.NewRequest(http.MethodGet, "/", nil), "not-a-uuid")
	expectHTTPError(t, h.GetUser(c), http.StatusBadRequest)
}

func TestHandler_DeleteOwnAccount(t *testing.T) {
	h, env, e := newTestHandler(t)
	in := nurseInput()
	in.Role = auth.RoleAdmin
	a := env.create(t, in)

	req := httptest.NewRequest(http.MethodDelete, "/", nil).WithContext(asUser(a, "jti"))
	c, _ := idContext(e, req, a.ID.String())
	expectHTTPError(t, h.DeleteUser(c), http.StatusConflict)
}

func TestHandler_ListUsers(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.create(t, nurseInput())

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?active=true", nil), rec)
	if err := h.ListUsers(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("expected 1 user, got %d", body.Total)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?active=maybe", nil), httptest.NewRecorder())
	expectHTTPError(t, h.ListUsers(c), http.StatusBadRequest)
}
