// Package httpapi serves the local JSON API the till UI talks to.
package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/observability"
	"kasirinaja/terminal/internal/service"
)

const maxBodyBytes = 1 << 20

// Syncer is satisfied by *reconcile.Reconciler.
type Syncer interface {
	SyncOne(ctx context.Context, kind domain.RecordKind, localID string) domain.SyncOutcome
	SyncAll(ctx context.Context) domain.SweepResult
}

// Catalog is satisfied by *catalog.Syncer.
type Catalog interface {
	Pull(ctx context.Context, businessLocationID string, storeLocationID string) domain.CatalogResult
	Load(ctx context.Context) (domain.CatalogSnapshot, error)
}

type Options struct {
	AllowedOrigin string
	Metrics       *observability.Metrics
	Logger        *slog.Logger
	// SyncRateLimit caps manual sync and catalog refreshes per client per
	// minute.
	SyncRateLimit int
}

type API struct {
	service       *service.Service
	sync          Syncer
	catalog       Catalog
	allowedOrigin string
	metrics       *observability.Metrics
	log           *slog.Logger
	syncRateLimit int
	csrfSecret    []byte
}

func New(svc *service.Service, syncer Syncer, catalog Catalog, opts Options) (*API, error) {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		return nil, fmt.Errorf("csrf secret: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SyncRateLimit <= 0 {
		opts.SyncRateLimit = 30
	}
	return &API{
		service:       svc,
		sync:          syncer,
		catalog:       catalog,
		allowedOrigin: opts.AllowedOrigin,
		metrics:       opts.Metrics,
		log:           opts.Logger.With("component", "httpapi"),
		syncRateLimit: opts.SyncRateLimit,
		csrfSecret:    csrfSecret,
	}, nil
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.middlewares()...)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { writeMethodNotAllowed(w) })
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireCSRF)

			r.Post("/sales", a.handleSaveSale)
			r.Post("/bills", a.handleSaveBill)
			r.Post("/bills/{localID}/void", a.handleVoidBill)
			r.Post("/bills/{localID}/close", a.handleCloseBill)
			r.Patch("/records/{kind}/{localID}", a.handleUpdateRecord)
			r.Get("/records", a.handleListRecords)
			r.Get("/records/{localID}", a.handleGetRecord)

			r.Get("/sync/summary", a.handleSyncSummary)
			r.Get("/catalog", a.handleCatalog)

			r.Get("/table-slots", a.handleTableSlots)
			r.Put("/table-slots", a.handleRegenerateTableSlots)
			r.Get("/bill-tags", a.handleListBillTags)
			r.Post("/bill-tags", a.handleCreateBillTag)
			r.Delete("/bill-tags/{id}", a.handleDeleteBillTag)

			r.Group(func(r chi.Router) {
				r.Use(httprate.Limit(a.syncRateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
				r.Post("/sync", a.handleSyncAll)
				r.Post("/sync/{kind}/{localID}", a.handleSyncOne)
				r.Post("/catalog/refresh", a.handleCatalogRefresh)
			})
		})
	})

	return r
}

func (a *API) middlewares() []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	})

	return []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: []string{a.allowedOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-CSRF-Token"},
			MaxAge:         300,
		}),
		secureMiddleware.Handler,
		a.metrics.Middleware,
		a.withRequestLog,
	}
}

// withRequestLog caps JSON bodies and logs each request once it completes.
func (a *API) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(startedAt),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) currentCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validCSRFToken accepts the current and previous hour's token.
func (a *API) validCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	for _, bucket := range []int64{current, current - 3600} {
		if hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(bucket))) {
			return true
		}
	}
	return false
}

func (a *API) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if !a.validCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			a.log.Warn("csrf validation failed", "path", r.URL.Path)
			writeError(w, http.StatusForbidden, errors.New("invalid or missing csrf token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": a.currentCSRFToken()})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; 4xx messages are meant for the cashier.
	msg := err.Error()
	if status >= 500 {
		slog.Default().Error("internal error", "status", status, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
