package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookPost(t *testing.T) {
	var gotBody map[string]string
	var gotContentType, gotAccept, gotMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(time.Second, log.New(io.Discard, "", 0))
	err := wh.Post(context.Background(), srv.URL, map[string]string{"uuid": "abc"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if gotBody["uuid"] != "abc" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestWebhookPost_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook(time.Second, log.New(io.Discard, "", 0))
	err := wh.Post(context.Background(), srv.URL, struct{}{})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", se.StatusCode)
	}
}

func TestWebhookDispatch_ReportsFailure(t *testing.T) {
	wh := NewWebhook(200*time.Millisecond, log.New(io.Discard, "", 0))

	select {
	case err := <-wh.Dispatch(context.Background(), "http://127.0.0.1:1/unreachable", struct{}{}):
		if err == nil {
			t.Error("expected error for unreachable webhook")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch did not complete")
	}
}

func TestNewWebhook_DefaultTimeout(t *testing.T) {
	wh := NewWebhook(0, log.New(io.Discard, "", 0))
	if wh.client.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", wh.client.Timeout)
	}
}
