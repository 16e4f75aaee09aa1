// Package httpserver exposes the customer-context API and its operational
// surfaces.
package httpserver

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/aggregate"
	"github.com/solsticehq/centra/internal/health"
	"github.com/solsticehq/centra/internal/observability"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/store"
)

const (
	defaultMaxBodyBytes int64 = 1 << 20 // 1 MiB

	customersPrefix = "/api/v1/customers/"
	opsCachePath    = "/api/v1/ops/cache"
	opsCleanupPath  = "/api/v1/ops/cache/cleanup"
	opsBreakersPath = "/api/v1/ops/breakers"
	opsBreakerPfx   = opsBreakersPath + "/"
	healthPath      = "/healthz"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

// Options tunes the handler independently of the collaborators.
type Options struct {
	CORSOrigin   string
	MaxBodyBytes int64
}

type httpServer struct {
	manager *aggregate.Manager
	prober  *health.Prober
	maxBody int64
}

// NewHandler assembles the routing table around the aggregation manager and
// health prober.
func NewHandler(manager *aggregate.Manager, prober *health.Prober, opts Options) http.Handler {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	server := &httpServer{manager: manager, prober: prober, maxBody: maxBody}
	mux := http.NewServeMux()

	mux.Handle(customersPrefix, http.HandlerFunc(server.handleCustomer))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getHealth,
	}))
	mux.Handle(opsCachePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getCacheStats,
	}))
	mux.Handle(opsCleanupPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.postCacheCleanup,
	}))
	mux.Handle(opsBreakersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getBreakers,
	}))
	mux.Handle(opsBreakerPfx, http.HandlerFunc(server.handleBreaker))

	origin := strings.TrimSpace(opts.CORSOrigin)
	if origin == "" {
		origin = "*"
	}
	return withCorrelation(withCORS(mux, origin))
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

// handleCustomer routes /api/v1/customers/{id}/... by resource segment.
func (s *httpServer) handleCustomer(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, customersPrefix)
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) < 2 || segments[0] == "" {
		writeError(w, http.StatusNotFound, "customer resource required")
		return
	}
	customerID := segments[0]

	switch segments[1] {
	case "context":
		s.dispatch(w, r, map[string]handlerFunc{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) { s.getContext(w, r, customerID) },
		})
	case "interactions":
		s.dispatch(w, r, map[string]handlerFunc{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) { s.postInteraction(w, r, customerID) },
		})
	case "appointments":
		if len(segments) == 3 {
			apptID := segments[2]
			s.dispatch(w, r, map[string]handlerFunc{
				http.MethodDelete: func(w http.ResponseWriter, r *http.Request) {
					s.deleteAppointment(w, r, customerID, apptID)
				},
			})
			return
		}
		s.dispatch(w, r, map[string]handlerFunc{
			http.MethodGet:  func(w http.ResponseWriter, r *http.Request) { s.getAppointments(w, r, customerID) },
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) { s.postAppointment(w, r, customerID) },
		})
	case "availability":
		s.dispatch(w, r, map[string]handlerFunc{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) { s.getAvailability(w, r) },
		})
	case "notifications":
		s.dispatch(w, r, map[string]handlerFunc{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) { s.postNotification(w, r, customerID) },
		})
	case "profile":
		s.dispatch(w, r, map[string]handlerFunc{
			http.MethodPatch: func(w http.ResponseWriter, r *http.Request) { s.patchProfile(w, r, customerID) },
		})
	case "cache":
		s.dispatch(w, r, map[string]handlerFunc{
			http.MethodDelete: func(w http.ResponseWriter, r *http.Request) { s.deleteCache(w, r, customerID) },
		})
	default:
		writeError(w, http.StatusNotFound, "unknown customer resource "+segments[1])
	}
}

func (s *httpServer) dispatch(w http.ResponseWriter, r *http.Request, handlers map[string]handlerFunc) {
	if handler, ok := handlers[r.Method]; ok {
		handler(w, r)
		return
	}
	methodNotAllowed(w, allowedMethods(handlers)...)
}

func (s *httpServer) getContext(w http.ResponseWriter, r *http.Request, customerID string) {
	var opts []aggregate.Option
	if raw := strings.TrimSpace(r.URL.Query().Get("maxCost")); raw != "" {
		maxCost, err := parsePositiveInt(raw)
		if err != nil {
			writeErr(w, errs.Validation("api", "maxCost", "must be a positive integer"))
			return
		}
		opts = append(opts, aggregate.WithMaxCost(maxCost))
	}
	result, err := s.manager.CustomerContext(r.Context(), customerID, opts...)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *httpServer) postInteraction(w http.ResponseWriter, r *http.Request, customerID string) {
	limitRequestBody(w, r, s.maxBody)
	var interaction schema.Interaction
	if err := decodeJSON(r, &interaction); err != nil {
		writeErr(w, err)
		return
	}
	id, err := s.manager.LogInteraction(r.Context(), customerID, interaction)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *httpServer) getAppointments(w http.ResponseWriter, r *http.Request, customerID string) {
	fetch := s.manager.Upcoming
	switch window := r.URL.Query().Get("window"); window {
	case "", "upcoming":
	case "past":
		fetch = s.manager.Past
	default:
		writeErr(w, errs.Validation("api", "window", "window must be upcoming or past"))
		return
	}
	appointments, err := fetch(r.Context(), customerID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appointments})
}

func (s *httpServer) postAppointment(w http.ResponseWriter, r *http.Request, customerID string) {
	limitRequestBody(w, r, s.maxBody)
	var req schema.BookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	appt, err := s.manager.BookAppointment(r.Context(), customerID, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (s *httpServer) deleteAppointment(w http.ResponseWriter, r *http.Request, customerID, apptID string) {
	if err := s.manager.CancelAppointment(r.Context(), customerID, apptID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *httpServer) getAvailability(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeErr(w, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeErr(w, err)
		return
	}
	slots, err := s.manager.Availability(r.Context(), from, to)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (s *httpServer) postNotification(w http.ResponseWriter, r *http.Request, customerID string) {
	limitRequestBody(w, r, s.maxBody)
	var note schema.Notification
	if err := decodeJSON(r, &note); err != nil {
		writeErr(w, err)
		return
	}
	note.CustomerID = customerID
	if err := s.manager.SendNotification(r.Context(), note); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *httpServer) patchProfile(w http.ResponseWriter, r *http.Request, customerID string) {
	limitRequestBody(w, r, s.maxBody)
	var params store.UpdateProfileParams
	if err := decodeJSON(r, &params); err != nil {
		writeErr(w, err)
		return
	}
	if params.Email == nil && params.DisplayName == nil {
		writeErr(w, errs.Validation("api", "profile", "at least one field required"))
		return
	}
	if err := s.manager.UpdateProfile(r.Context(), customerID, params); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *httpServer) deleteCache(w http.ResponseWriter, r *http.Request, customerID string) {
	removed := s.manager.InvalidateCustomer(r.Context(), customerID)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *httpServer) getHealth(w http.ResponseWriter, r *http.Request) {
	report := s.prober.Run(r.Context())
	registryHealth := s.manager.Breakers().Health()

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":       report.Status,
		"dependencies": report.Dependencies,
		"breakers":     registryHealth,
		"checkedAt":    report.CheckedAt,
	})
}

func (s *httpServer) getCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.CacheStats())
}

func (s *httpServer) postCacheCleanup(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.manager.CacheCleanup()})
}

func (s *httpServer) getBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakers": s.manager.Breakers().Snapshot()})
}

// handleBreaker routes /api/v1/ops/breakers/{name}/{action}.
func (s *httpServer) handleBreaker(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, opsBreakerPfx)
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) != 2 || segments[0] == "" {
		writeError(w, http.StatusNotFound, "breaker action required")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	b, ok := s.manager.Breakers().Lookup(segments[0])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown breaker "+segments[0])
		return
	}
	switch segments[1] {
	case "reset":
		b.Reset()
	case "trip":
		b.ForceOpen()
	default:
		writeError(w, http.StatusNotFound, "unknown breaker action "+segments[1])
		return
	}
	writeJSON(w, http.StatusOK, b.Stats())
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, errs.Validation("api", name, "RFC 3339 timestamp required")
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errs.Validation("api", name, "must be an RFC 3339 timestamp")
	}
	return at, nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.New("api", errs.CodeValidation,
			errs.WithMessage("invalid JSON body"), errs.WithCause(err))
	}
	return nil
}

func limitRequestBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

// writeErr maps a failure through the error taxonomy, attaching Retry-After
// for retryable rejections that carry a delay.
func writeErr(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	if retryAfter := errs.RetryAfterOf(err); retryAfter > 0 {
		seconds := int(retryAfter.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	body := map[string]any{
		"status": "error",
		"code":   string(errs.CodeOf(err)),
		"error":  err.Error(),
	}
	var envelope *errs.E
	if errors.As(err, &envelope) {
		if envelope.Field != "" {
			body["field"] = envelope.Field
		}
		if len(envelope.FieldMessages) > 0 {
			body["details"] = envelope.FieldMessages
		}
	}
	writeJSON(w, status, body)
}

func withCORS(handler http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

// withCorrelation attaches a correlation ID to the request context and
// echoes it in the response.
func withCorrelation(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Correlation-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-ID", id)
		ctx := observability.WithCorrelation(r.Context(), id)
		handler.ServeHTTP(w, r.WithContext(ctx))
	})
}
