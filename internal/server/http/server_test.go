package httpserver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/solsticehq/centra/internal/aggregate"
	"github.com/solsticehq/centra/internal/budget"
	"github.com/solsticehq/centra/internal/health"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/sources"
	"github.com/solsticehq/centra/internal/sources/crm"
	"github.com/solsticehq/centra/internal/sources/messaging"
	"github.com/solsticehq/centra/internal/sources/scheduling"
	"github.com/solsticehq/centra/internal/store/memory"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	opts := sources.Options{Provider: "mock", Clock: clock}
	manager, err := aggregate.NewManager(aggregate.Deps{
		Store:      memory.New(memory.Config{Clock: clock}),
		CRM:        crm.NewMock(opts),
		Scheduling: scheduling.NewMock(opts),
		Messaging:  messaging.NewMock(opts),
	}, aggregate.Config{Clock: clock})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	prober := health.NewProber(time.Second)
	prober.Register("store", true, func(context.Context) error { return nil })
	return NewHandler(manager, prober, Options{})
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGetContext(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/customers/cust-1/context", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result budget.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Context == nil || result.Context.CustomerID != "cust-1" {
		t.Fatalf("unexpected context payload: %+v", result.Context)
	}
	if result.Context.Profile.Email == "" {
		t.Fatal("expected profile in context")
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("expected correlation header")
	}
}

func TestGetContextInvalidBudget(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/customers/cust-1/context?maxCost=banana", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["code"] != "validation" {
		t.Fatalf("expected validation code, got %v", body["code"])
	}
}

func TestPostInteraction(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/customers/cust-2/interactions", schema.Interaction{
		Kind:    schema.InteractionCall,
		Summary: "quarterly check-in",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["id"] == "" {
		t.Fatal("expected interaction id in response")
	}
}

func TestBookAndCancelAppointment(t *testing.T) {
	handler := newTestHandler(t)
	// Wednesday within business hours, one day past the fixed clock.
	start := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/customers/cust-book-api/appointments", schema.BookingRequest{
		Kind:    "coaching",
		StartAt: start,
		EndAt:   start.Add(time.Hour),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var appt schema.Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &appt); err != nil {
		t.Fatalf("decode appointment: %v", err)
	}
	if appt.ID == "" || appt.Status != schema.AppointmentScheduled {
		t.Fatalf("unexpected appointment: %+v", appt)
	}

	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/customers/cust-book-api/appointments/"+appt.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetAppointmentsWindows(t *testing.T) {
	handler := newTestHandler(t)
	for _, window := range []string{"", "?window=upcoming", "?window=past"} {
		rec := doRequest(t, handler, http.MethodGet, "/api/v1/customers/cust-appt/appointments"+window, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("window %q: expected 200, got %d: %s", window, rec.Code, rec.Body.String())
		}
		var payload struct {
			Appointments []schema.Appointment `json:"appointments"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("window %q: decode: %v", window, err)
		}
	}

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/customers/cust-appt/appointments?window=sideways", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown window, got %d", rec.Code)
	}
}

func TestBookingOutsideBusinessHoursRejected(t *testing.T) {
	handler := newTestHandler(t)
	start := time.Date(2026, 3, 11, 22, 0, 0, 0, time.UTC)
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/customers/cust-late/appointments", schema.BookingRequest{
		Kind:    "coaching",
		StartAt: start,
		EndAt:   start.Add(time.Hour),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetAvailabilityRequiresWindow(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/customers/cust-3/availability", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without window, got %d", rec.Code)
	}

	from := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	to := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	rec = doRequest(t, handler, http.MethodGet,
		"/api/v1/customers/cust-3/availability?from="+from+"&to="+to, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string][]schema.Slot
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	if len(body["slots"]) == 0 {
		t.Fatal("expected open slots on a weekday")
	}
}

func TestPostNotification(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/customers/cust-4/notifications", schema.Notification{
		Channel: schema.ChannelPush,
		Subject: "reminder",
		Body:    "session tomorrow",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPatchProfile(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodPatch, "/api/v1/customers/cust-5/profile",
		map[string]string{"email": "next@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodPatch, "/api/v1/customers/cust-5/profile", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty patch must be rejected, got %d", rec.Code)
	}
}

func TestDeleteCache(t *testing.T) {
	handler := newTestHandler(t)
	if rec := doRequest(t, handler, http.MethodGet, "/api/v1/customers/cust-6/context", nil); rec.Code != http.StatusOK {
		t.Fatalf("prime: %d", rec.Code)
	}
	rec := doRequest(t, handler, http.MethodDelete, "/api/v1/customers/cust-6/cache", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["removed"] == 0 {
		t.Fatal("expected cached keys to be removed")
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected healthy, got %v", body["status"])
	}
	if _, ok := body["breakers"]; !ok {
		t.Fatal("expected breaker summary in health payload")
	}
}

func TestOpsBreakers(t *testing.T) {
	handler := newTestHandler(t)
	// Breakers are created lazily; assemble once so the registry is non-empty.
	if rec := doRequest(t, handler, http.MethodGet, "/api/v1/customers/cust-7/context", nil); rec.Code != http.StatusOK {
		t.Fatalf("prime: %d", rec.Code)
	}
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/ops/breakers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), aggregate.BreakerStore) {
		t.Fatalf("expected store breaker in snapshot: %s", rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/ops/breakers/store/trip", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on trip, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/customers/uncached/context", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("tripped store breaker must reject assembly, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After on circuit rejection")
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/ops/breakers/store/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on reset, got %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodGet, "/api/v1/customers/uncached/context", nil); rec.Code != http.StatusOK {
		t.Fatalf("reset breaker must admit calls, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/ops/breakers/ghost/reset", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown breaker must 404, got %d", rec.Code)
	}
}

func TestOpsCache(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/ops/cache", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/ops/cache/cleanup", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodPut, "/api/v1/customers/cust-8/context", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") == "" {
		t.Fatal("expected Allow header")
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodOptions, "/api/v1/customers/cust-9/context", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS origin header")
	}
}

func TestUnknownResource404(t *testing.T) {
	handler := newTestHandler(t)
	rec := doRequest(t, handler, http.MethodGet, "/api/v1/customers/cust-10/wallet", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
