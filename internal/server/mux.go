package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/RegistryAccord/registryaccord-handles-go/internal/claim"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/config"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/lookup"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/storage"
)

type contextKey string

const (
	contextKeyCorrelationID contextKey = "correlationId"
	contextKeyBodyDigest    contextKey = "bodyDigest"

	headerContentType    = "Content-Type"
	headerCorrelationID  = "X-Correlation-Id"
	headerIdempotencyKey = "Idempotency-Key"
	headerCacheControl   = "Cache-Control"
	headerRetryAfter     = "Retry-After"

	contentTypeJSON     = "application/json"
	cacheControlResolve = "public, max-age=60"

	idempotencyTTL = 24 * time.Hour
)

// Error codes carried in the response envelope.
const (
	codeValidation  = "HANDLE_VALIDATION"
	codeAuthn       = "HANDLE_AUTHN"
	codeConflict    = "HANDLE_CONFLICT"
	codeRateLimited = "HANDLE_RATE_LIMITED"
	codeNotFound    = "HANDLE_NOT_FOUND"
	codeInternal    = "HANDLE_INTERNAL"
	codeUnavailable = "SERVICE_UNAVAILABLE"
)

// Handler wires HTTP endpoints using net/http.
type Handler struct {
	cfg    config.Config
	store  storage.Store
	claims *claim.Orchestrator
	lookup *lookup.Service
	logger *slog.Logger
	router *http.ServeMux
}

// New creates a Handler using the supplied dependencies. store backs the
// idempotency cache and readiness checks.
func New(cfg config.Config, store storage.Store, claims *claim.Orchestrator, lookups *lookup.Service, logger *slog.Logger) (*Handler, error) {
	if store == nil || claims == nil || lookups == nil {
		return nil, errors.New("store, claims and lookup are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	h := &Handler{
		cfg:    cfg,
		store:  store,
		claims: claims,
		lookup: lookups,
		logger: logger,
		router: http.NewServeMux(),
	}
	h.registerRoutes()
	return h, nil
}

// Router returns the routes wrapped in CORS handling.
func (h *Handler) Router() http.Handler {
	origins := h.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{headerContentType, headerCorrelationID, headerIdempotencyKey},
		ExposedHeaders: []string{headerCorrelationID, headerRetryAfter},
		MaxAge:         86400,
	}).Handler(h.router)
}

func (h *Handler) registerRoutes() {
	h.router.Handle("/health", h.loggingMiddleware(h.timeoutMiddleware(http.HandlerFunc(h.health))))
	h.router.Handle("/ready", h.loggingMiddleware(h.timeoutMiddleware(http.HandlerFunc(h.readyHandler))))
	h.router.Handle("/metrics", h.loggingMiddleware(http.HandlerFunc(h.metricsHandler)))

	h.router.Handle("/v1/claims", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleClaim))))
	h.router.Handle("/v1/message", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleMessage))))
	h.router.Handle("/v1/handles/{handle}", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleResolve))))
	h.router.Handle("/v1/handles/{handle}/availability", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleAvailability))))
	h.router.Handle("/v1/addresses/{address}/handles", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleHandlesOf))))
}

type responseEnvelope struct {
	Data  any            `json:"data,omitempty"`
	Meta  any            `json:"meta,omitempty"`
	Error *errorEnvelope `json:"error,omitempty"`
}

type errorEnvelope struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// storedResponse is what the idempotency cache keeps for a replay.
type storedResponse struct {
	StatusCode int               `json:"statusCode"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
	BodyDigest string            `json:"bodyDigest"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) wrap(next func(http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := h.ensureCorrelationID(w, r)
		ctx := context.WithValue(r.Context(), contextKeyCorrelationID, correlationID)
		r = r.WithContext(ctx)
		w.Header().Set(headerContentType, contentTypeJSON)

		r, ok := h.withBodyDigest(w, r)
		if !ok {
			return
		}
		if h.tryReplay(w, r) {
			return
		}

		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered", "panic", rec, "correlationId", correlationID)
				h.writeError(w, http.StatusInternalServerError, codeInternal, "internal error", correlationID, nil)
			}
		}()

		next(w, r)
	})
}

func (h *Handler) ensureCorrelationID(w http.ResponseWriter, r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(headerCorrelationID))
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(headerCorrelationID, id)
	return id
}

// idempotencyKey scopes the caller's Idempotency-Key to its identity and
// path, so one caller can never replay another's response.
func (h *Handler) idempotencyKey(r *http.Request) string {
	if r.Method != http.MethodPost {
		return ""
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		return ""
	}
	return "idempotency:" + clientIP(r, h.cfg.TrustProxyHeaders) + ":" + r.URL.Path + ":" + key
}

// withBodyDigest buffers the body of an idempotent request and records its
// SHA-256 so a replay can be matched against the request that produced it.
func (h *Handler) withBodyDigest(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	if h.idempotencyKey(r) == "" || r.Body == nil {
		return r, true
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxClaimBody+1))
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, codeValidation, "unreadable body", nil)
		return r, false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	sum := sha256.Sum256(body)
	ctx := context.WithValue(r.Context(), contextKeyBodyDigest, hex.EncodeToString(sum[:]))
	return r.WithContext(ctx), true
}

func bodyDigestFrom(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyBodyDigest).(string); ok {
		return v
	}
	return ""
}

func (h *Handler) tryReplay(w http.ResponseWriter, r *http.Request) bool {
	key := h.idempotencyKey(r)
	if key == "" {
		return false
	}
	raw, err := h.store.Get(r.Context(), key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.logger.Warn("idempotency lookup failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
		}
		return false
	}
	var cached storedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		h.logger.Warn("idempotency entry corrupt", "error", err, "correlationId", correlationIDFrom(r.Context()))
		return false
	}
	if cached.BodyDigest != bodyDigestFrom(r.Context()) {
		h.writeErrorWithRequest(w, r, http.StatusUnprocessableEntity, codeValidation, "Idempotency-Key reused with a different request body", nil)
		return true
	}
	for k, v := range cached.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	return true
}

// remember caches a final response for replay. Rate-limit denials and
// internal errors are left out so the retry they invite actually runs.
func (h *Handler) remember(r *http.Request, w http.ResponseWriter, status int, payload []byte) {
	key := h.idempotencyKey(r)
	if key == "" || !cacheable(status) {
		return
	}
	headers := make(map[string]string, len(w.Header()))
	for k := range w.Header() {
		if k == headerCorrelationID {
			continue
		}
		headers[k] = w.Header().Get(k)
	}
	entry, err := json.Marshal(storedResponse{
		StatusCode: status,
		Body:       append([]byte(nil), payload...),
		Headers:    headers,
		BodyDigest: bodyDigestFrom(r.Context()),
	})
	if err != nil {
		return
	}
	if _, err := h.store.SetIfAbsent(r.Context(), key, entry, idempotencyTTL); err != nil {
		h.logger.Warn("idempotency store failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
	}
}

func cacheable(status int) bool {
	return status != http.StatusTooManyRequests && status < http.StatusInternalServerError
}

func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data any, meta any, r *http.Request) []byte {
	env := responseEnvelope{Data: data, Meta: meta}
	payload := mustJSON(env)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Warn("write success failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
	}
	return payload
}

func (h *Handler) writeErrorWithRequest(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) []byte {
	return h.writeError(w, status, code, message, correlationIDFrom(r.Context()), details)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, correlationID string, details any) []byte {
	env := responseEnvelope{Error: &errorEnvelope{Code: code, Message: message, Details: details, CorrelationID: correlationID}}
	payload := mustJSON(env)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Warn("write error failed", "error", err, "correlationId", correlationID)
	}
	return payload
}

func mustJSON(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return payload
}

func correlationIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyCorrelationID).(string); ok {
		return v
	}
	return ""
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}
