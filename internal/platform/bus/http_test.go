package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testEnvelope() Envelope {
	return Envelope{
		OrgID:      "org-1",
		EventType:  "AVAILABILITY_BOOKED",
		Subject:    Subject{Type: "appointment", ID: "appt-1"},
		Payload:    json.RawMessage(`{"start":"2026-03-02T09:00:00Z"}`),
		OccurredAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		OutboxID:   "outbox-1",
	}
}

func TestHTTPPublisher_SignsAndDelivers(t *testing.T) {
	var gotBody []byte
	var gotSig, gotID string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Event-Signature")
		gotID = r.Header.Get("X-Event-ID")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	pub := NewHTTPPublisher(srv.URL, "topsecret")
	if err := pub.Publish(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("unmarshal delivered body: %v", err)
	}
	if env.EventType != "AVAILABILITY_BOOKED" {
		t.Errorf("event_type = %s", env.EventType)
	}
	if env.Subject.ID != "appt-1" {
		t.Errorf("subject id = %s", env.Subject.ID)
	}
	if gotID != "outbox-1" {
		t.Errorf("X-Event-ID = %s", gotID)
	}

	if !strings.HasPrefix(gotSig, "sha256=") {
		t.Fatalf("signature header = %q", gotSig)
	}
	if !VerifySignature(gotBody, "topsecret", strings.TrimPrefix(gotSig, "sha256=")) {
		t.Error("signature does not verify against delivered body")
	}
}

func TestHTTPPublisher_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	pub := NewHTTPPublisher(srv.URL, "topsecret")
	if err := pub.Publish(context.Background(), testEnvelope()); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestHTTPPublisher_UnreachableSink(t *testing.T) {
	pub := NewHTTPPublisher("http://127.0.0.1:1", "topsecret",
		WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}))
	if err := pub.Publish(context.Background(), testEnvelope()); err == nil {
		t.Fatal("expected error for unreachable sink")
	}
}

func TestVerifySignature_RejectsTampered(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig := SignPayload(payload, "topsecret")

	if !VerifySignature(payload, "topsecret", sig) {
		t.Error("valid signature rejected")
	}
	if VerifySignature([]byte(`{"a":2}`), "topsecret", sig) {
		t.Error("tampered payload accepted")
	}
	if VerifySignature(payload, "wrong", sig) {
		t.Error("wrong secret accepted")
	}
}

func TestLogPublisher_WritesEnvelope(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLogPublisher(zerolog.New(&buf))

	if err := pub.Publish(context.Background(), testEnvelope()); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["event_type"] != "AVAILABILITY_BOOKED" {
		t.Errorf("event_type = %v", entry["event_type"])
	}
	if entry["outbox_id"] != "outbox-1" {
		t.Errorf("outbox_id = %v", entry["outbox_id"])
	}
}
