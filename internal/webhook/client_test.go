package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/cutout/internal/config"
)

func testConfig(attempts int) config.WebhookConfig {
	return config.WebhookConfig{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	}
}

func TestSendAddsSigningHeaders(t *testing.T) {
	var (
		gotSig      string
		gotTS       string
		gotEvt      string
		gotDelivery string
		gotBody     []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotDelivery = r.Header.Get(HeaderDelivery)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(testConfig(1))
	err := client.Send(context.Background(), srv.URL, Event{
		Type:   EventJobSucceeded,
		JobID:  "job-1",
		Status: "succeeded",
	})
	if err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotTS == "" || gotDelivery == "" {
		t.Fatal("expected timestamp and delivery headers")
	}
	if !Verify("test-secret", gotTS, gotSig, gotBody) {
		t.Fatalf("signature %q does not verify", gotSig)
	}
	if gotEvt != EventJobSucceeded {
		t.Fatalf("expected event header %s, got %q", EventJobSucceeded, gotEvt)
	}

	var event Event
	if err := json.Unmarshal(gotBody, &event); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if event.JobID != "job-1" || event.OccurredAt.IsZero() {
		t.Fatalf("unexpected event body: %+v", event)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewClient(testConfig(3)).Send(context.Background(), srv.URL, Event{Type: EventJobFailed}); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSendStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	err := NewClient(testConfig(5)).Send(context.Background(), srv.URL, Event{Type: EventJobFailed})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	if err := NewClient(testConfig(1)).Send(context.Background(), "  ", Event{}); err != nil {
		t.Fatalf("expected nil for empty endpoint, got %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	sig := Sign("s", "100", []byte(`{"a":1}`))
	if Verify("s", "100", sig, []byte(`{"a":2}`)) {
		t.Fatal("expected tampered body to fail verification")
	}
	if Verify("other", "100", sig, []byte(`{"a":1}`)) {
		t.Fatal("expected wrong secret to fail verification")
	}
}
