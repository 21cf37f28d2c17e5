package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

func TestSMSGatewaySender_Send(t *testing.T) {
	var got smsRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sms-1","status":"queued"}`))
	}))
	defer srv.Close()

	s := NewSMSGatewaySender(SMSGatewayConfig{BaseURL: srv.URL, Token: "tok", Sender: "TRIAGE"}, zerolog.Nop())
	if err := s.SendSMS(context.Background(), "+5215550001", "Triage HIGH"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.To != "+5215550001" || got.Body != "Triage HIGH" || got.Sender != "TRIAGE" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestSMSGatewaySender_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid number"}`))
	}))
	defer srv.Close()

	s := NewSMSGatewaySender(SMSGatewayConfig{BaseURL: srv.URL}, zerolog.Nop())
	err := s.SendSMS(context.Background(), "bad", "x")
	if err == nil || !strings.Contains(err.Error(), "invalid number") {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestSMSGatewaySender_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sms-2","status":"queued"}`))
	}))
	defer srv.Close()

	s := NewSMSGatewaySender(SMSGatewayConfig{BaseURL: srv.URL, Retries: 2}, zerolog.Nop())
	if err := s.SendSMS(context.Background(), "+1", "x"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestResendSender_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/emails") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"email-1"}`))
	}))
	defer srv.Close()

	client := resend.NewClient("re_test")
	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	client.BaseURL = base

	s := newResendSender(client, "triage@clinic.test", zerolog.Nop())
	if err := s.SendEmail(context.Background(), "oncall@clinic.test", "HIGH", "<p>x</p>"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["from"] != "triage@clinic.test" || got["subject"] != "HIGH" || got["html"] != "<p>x</p>" {
		t.Errorf("unexpected payload: %v", got)
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(zerolog.New(&buf))
	if err := s.SendEmail(context.Background(), "a@b.test", "subj", "body"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SendSMS(context.Background(), "+1", "body"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"to":"a@b.test"`) || !strings.Contains(out, `"channel":"sms"`) {
		t.Errorf("unexpected log output: %s", out)
	}
}
