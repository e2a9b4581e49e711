package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"indexctl/pkg/cloudevent"
)

type recordingMetrics struct {
	mu        sync.Mutex
	delivered []string
	failed    []string
}

func (m *recordingMetrics) RecordNotifyDelivered(_ context.Context, eventType string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, eventType)
}

func (m *recordingMetrics) RecordNotifyFailed(_ context.Context, eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, eventType)
}

func noSleep(context.Context, time.Duration) error { return nil }

func statusServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		status := statuses[len(statuses)-1]
		if n < len(statuses) {
			status = statuses[n]
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func event(eventType string) *cloudevent.CloudEvent {
	return cloudevent.New(eventType, "indexctl/test", "backup-0", "run-1", map[string]any{})
}

func TestAllowed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		eventType string
		filter    []string
		want      bool
	}{
		{"empty filter", "indexctl.job.start", nil, true},
		{"listed", "indexctl.job.finish", []string{"indexctl.job.finish"}, true},
		{"not listed", "indexctl.job.start", []string{"indexctl.job.finish"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Allowed(tt.eventType, tt.filter); got != tt.want {
				t.Errorf("Allowed(%q, %v) = %v, want %v", tt.eventType, tt.filter, got, tt.want)
			}
		})
	}
}

func TestWebhook_Delivers(t *testing.T) {
	t.Parallel()
	srv, calls := statusServer(t, http.StatusOK)
	m := &recordingMetrics{}
	w := New(Config{URL: srv.URL}, WithMetrics(m), WithSleep(noSleep))

	w.Notify(context.Background(), event("indexctl.job.start"))

	if calls.Load() != 1 {
		t.Errorf("expected 1 request, got %d", calls.Load())
	}
	if len(m.delivered) != 1 || len(m.failed) != 0 {
		t.Errorf("unexpected metrics delivered=%v failed=%v", m.delivered, m.failed)
	}
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	t.Parallel()
	srv, calls := statusServer(t, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusOK)
	var sleeps atomic.Int32
	w := New(Config{URL: srv.URL}, WithSleep(func(context.Context, time.Duration) error {
		sleeps.Add(1)
		return nil
	}))

	w.Notify(context.Background(), event("indexctl.job.finish"))

	if calls.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", calls.Load())
	}
	if sleeps.Load() != 2 {
		t.Errorf("expected 2 sleeps, got %d", sleeps.Load())
	}
}

func TestWebhook_GivesUp(t *testing.T) {
	t.Parallel()
	srv, calls := statusServer(t, http.StatusInternalServerError)
	m := &recordingMetrics{}
	w := New(Config{URL: srv.URL, MaxRetries: 2}, WithMetrics(m), WithSleep(noSleep))

	w.Notify(context.Background(), event("indexctl.job.finish"))

	if calls.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", calls.Load())
	}
	if len(m.failed) != 1 {
		t.Errorf("expected one failure metric, got %v", m.failed)
	}
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()
	srv, calls := statusServer(t, http.StatusUnauthorized)
	w := New(Config{URL: srv.URL}, WithSleep(noSleep))

	for range 5 {
		w.Notify(context.Background(), event("indexctl.job.finish"))
	}

	// Client errors neither retry nor trip the breaker.
	if calls.Load() != 5 {
		t.Errorf("expected 5 requests, got %d", calls.Load())
	}
}

func TestWebhook_BreakerOpens(t *testing.T) {
	t.Parallel()
	srv, calls := statusServer(t, http.StatusInternalServerError)
	w := New(Config{URL: srv.URL, MaxRetries: -1}, WithSleep(noSleep))

	for range 5 {
		w.Notify(context.Background(), event("indexctl.job.finish"))
	}

	if calls.Load() != 3 {
		t.Errorf("expected breaker to stop requests after 3, got %d", calls.Load())
	}
}

func TestWebhook_FiltersEvents(t *testing.T) {
	t.Parallel()
	srv, calls := statusServer(t, http.StatusOK)
	w := New(Config{URL: srv.URL, Events: []string{"indexctl.job.finish"}}, WithSleep(noSleep))

	w.Notify(context.Background(), event("indexctl.job.start"))
	w.Notify(context.Background(), event("indexctl.job.finish"))

	if calls.Load() != 1 {
		t.Errorf("expected only the finish event, got %d requests", calls.Load())
	}
}

func TestWebhook_CancelledDuringBackoff(t *testing.T) {
	t.Parallel()
	srv, calls := statusServer(t, http.StatusInternalServerError)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := New(Config{URL: srv.URL})

	w.Notify(ctx, event("indexctl.job.finish"))

	if calls.Load() > 1 {
		t.Errorf("expected no retries after cancel, got %d requests", calls.Load())
	}
}
