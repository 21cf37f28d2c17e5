package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/healthcampaign/triage/internal/platform/auth"
)

func newTestHandler() (*Handler, *recordingSender, *echo.Echo) {
	mgr, s := newTestManager()
	return NewHandler(mgr), s, echo.New()
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_Send(t *testing.T) {
	h, s, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"channel":"sms","recipient":"+1","body":"hello"}`), rec)

	if err := h.Send(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var n Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Status != StatusSent || n.ID == "" {
		t.Errorf("unexpected notification: %+v", n)
	}
	if _, sms := s.counts(); sms != 1 {
		t.Errorf("expected 1 sms, got %d", sms)
	}
}

func TestHandler_Send_BadChannel(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"channel":"fax","recipient":"+1","body":"x"}`), httptest.NewRecorder())

	err := h.Send(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_Send_MissingRecipient(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"channel":"sms","body":"x"}`), httptest.NewRecorder())

	err := h.Send(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_SendTemplate(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"template_id":"triage-high-priority","recipient":"oncall@clinic.test","data":{"patient_id":"p-1"}}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body), rec)

	if err := h.SendTemplate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), "patient p-1") {
		t.Errorf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_SendTemplate_Unknown(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"template_id":"nope","recipient":"x"}`), httptest.NewRecorder())

	err := h.SendTemplate(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetAndList(t *testing.T) {
	h, _, e := newTestHandler()
	n := &Notification{Channel: ChannelEmail, Recipient: "a@b.test", Body: "b"}
	if err := h.manager.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	if err := h.Get(c); err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?recipient=a@b.test", nil), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var list []Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != n.ID {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")

	err := h.Get(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_List_RequiresRecipient(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := h.List(c); err == nil {
		t.Fatal("expected error without recipient")
	}
}

func TestHandler_Retry(t *testing.T) {
	h, s, e := newTestHandler()
	s.err = errors.New("down")
	n := &Notification{Channel: ChannelSMS, Recipient: "+1", Body: "b"}
	_ = h.manager.Send(context.Background(), n)
	s.err = nil

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	if err := h.Retry(c); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"sent"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}

	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	if he, ok := h.Retry(c).(*echo.HTTPError); !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409 for sent notification")
	}
}

func TestHandler_StatsAndTemplates(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	if err := h.Stats(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"sent":0`) {
		t.Errorf("unexpected stats: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	if err := h.ListTemplates(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("templates: %v", err)
	}
	if !strings.Contains(rec.Body.String(), TemplateHighPrioritySMS) {
		t.Errorf("unexpected templates: %s", rec.Body.String())
	}
}

func TestHandler_SendRequiresAdmin(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	req := jsonRequest(http.MethodPost, `{"channel":"sms","recipient":"+1","body":"x"}`)
	req.URL.Path = "/api/v1/notifications/send"
	req = req.WithContext(context.WithValue(req.Context(), auth.UserRolesKey, []string{auth.RolePhysician}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for physician, got %d", rec.Code)
	}
}
