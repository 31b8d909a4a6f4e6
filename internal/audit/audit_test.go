package audit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testEvent(requestID string) *Event {
	ev := NewEvent(requestID)
	ev.Status = "success"
	ev.PIIDetected = true
	ev.RedactedEntityTypes = []string{"PERSON", "PHONE_NUMBER"}
	ev.RedactionCount = 2
	ev.Verdict = &Verdict{Score: 4, HallucinationDetected: true}
	return ev
}

func TestNewEventStampsIdentity(t *testing.T) {
	a, b := NewEvent("r1"), NewEvent("r1")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct event ids, got %q and %q", a.ID, b.ID)
	}
	if a.Version != EventVersion || a.Timestamp.IsZero() {
		t.Fatalf("expected version and timestamp to be set: %+v", a)
	}
}

func TestWebhookSinkHandlesNon2xx(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTeapot)
	}))

	sink, err := NewWebhookSink(srv.URL, map[string]string{"X-Test": "1"}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	sink.backoffs = []time.Duration{time.Millisecond, time.Millisecond}

	err = sink.Deliver(context.Background(), testEvent("req-1"))
	if err == nil {
		t.Fatalf("expected non-2xx to return error")
	}
	if !strings.Contains(err.Error(), "status") {
		t.Fatalf("error should mention status, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestWebhookSinkRejectsEmptyURL(t *testing.T) {
	if _, err := NewWebhookSink("", nil, 0); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestLogSinkWritesMetadataOnly(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	if err := sink.Deliver(context.Background(), testEvent("req-9")); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-9" || fields["status"] != "success" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if _, ok := fields["reasoning"]; ok {
		t.Fatalf("reasoning must not be logged")
	}
}

func TestEmitterDropsWhenQueueFull(t *testing.T) {
	wait := make(chan struct{})
	sink := &blockingSink{wait: wait}
	em := NewEmitter(EmitterConfig{QueueSize: 1, Workers: 1, ShutdownTimeout: time.Second}, []Sink{sink}, nil)

	ev := testEvent("r1")
	em.Emit(ev)
	em.Emit(ev)
	em.Emit(ev)

	if em.MetricsSnapshot().Dropped == 0 {
		t.Fatalf("expected dropped events when queue is full")
	}

	close(wait)
	em.Close(context.Background())

	em.Emit(ev)
	if em.MetricsSnapshot().Dropped < 2 {
		t.Fatalf("expected emit after close to be dropped")
	}
}

func TestEmitterWebhookIntegration(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Event
	)
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			mu.Lock()
			received = append(received, ev)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))

	sink, err := NewWebhookSink(srv.URL, nil, time.Second)
	if err != nil {
		t.Fatalf("webhook sink: %v", err)
	}
	em := NewEmitter(EmitterConfig{QueueSize: 8, Workers: 2, ShutdownTimeout: time.Second}, []Sink{sink}, nil)
	defer em.Close(context.Background())

	for i := 0; i < 5; i++ {
		em.Emit(testEvent("integration"))
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 5 && em.MetricsSnapshot().SinkSuccess[sink.Name()] >= 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for webhook events, got %d", n)
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	first := received[0]
	mu.Unlock()
	if first.Status != "success" || len(first.RedactedEntityTypes) != 2 {
		t.Fatalf("unexpected event payload: %+v", first)
	}

	m := em.MetricsSnapshot()
	if m.SinkSuccess[sink.Name()] < 5 {
		t.Fatalf("expected sink success counter to reach 5, got %d", m.SinkSuccess[sink.Name()])
	}
	if m.Dropped != 0 {
		t.Fatalf("did not expect dropped events, got %d", m.Dropped)
	}
}

type blockingSink struct {
	wait chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Deliver(context.Context, *Event) error {
	<-s.wait
	return nil
}

func (s *blockingSink) Close(context.Context) error { return nil }

func newTestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping: cannot open listener: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}
