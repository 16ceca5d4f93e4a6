// internal/background/routes.go
package background

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/api"
	"github.com/xkilldash9x/shotprep/internal/messaging"
	"github.com/xkilldash9x/shotprep/internal/screenshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	requestTimeout = 120 * time.Second
	maxBodyBytes   = 1 << 20
)

// handlers maps the HTTP control API onto Host.Dispatch.
type handlers struct {
	host   *Host
	bridge *messaging.Bridge
	log    *zap.Logger
}

// NewRouter builds the control API. A nil bridge leaves /bridge unmounted.
func NewRouter(host *Host, bridge *messaging.Bridge) http.Handler {
	h := &handlers{host: host, bridge: bridge, log: host.logger.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// The websocket route stays outside the timeout and logging group.
	if bridge != nil {
		r.Get("/bridge", bridge.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.requestLogger)
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
		r.Route("/api", func(r chi.Router) {
			r.Get("/status", h.handleStatus)
			r.Post("/screenshot", h.handleExecute)
			r.Post("/screenshot/retry", h.handleAction(RetryScreenshot{}))
			r.Delete("/screenshot", h.handleAction(CancelScreenshot{}))
			r.Get("/sites/resolve", h.handleResolveSite)
			r.Get("/sites/{siteID}/heatmaps", h.handleHeatmaps)
			r.Post("/settings/open", h.handleAction(OpenSettings{}))
			r.Post("/bug-report/open", h.handleAction(OpenBugReport{}))
			r.Post("/cors-resources", h.handleCORSResources)
			r.Post("/css-text", h.handleCSSText)
		})
	})
	return r
}

func (h *handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (h *handlers) dispatch(w http.ResponseWriter, r *http.Request, req Request) {
	out, err := h.host.Dispatch(r.Context(), req)
	if err != nil {
		h.respondWithError(w, statusFor(err), err)
		return
	}
	h.respond(w, http.StatusOK, out)
}

func (h *handlers) handleAction(req Request) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { h.dispatch(w, r, req) }
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	reply := h.host.status()
	if h.bridge != nil {
		reply.Bridges = h.bridge.Connected()
	}
	h.respond(w, http.StatusOK, reply)
}

func (h *handlers) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteScreenshot
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.host.Dispatch(r.Context(), req)
	if err != nil {
		h.respondWithError(w, statusFor(err), err)
		return
	}
	h.respond(w, http.StatusAccepted, out)
}

func (h *handlers) handleHeatmaps(w http.ResponseWriter, r *http.Request) {
	siteID, err := strconv.ParseInt(chi.URLParam(r, "siteID"), 10, 64)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("siteID must be an integer"))
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force_refresh"))
	h.dispatch(w, r, FetchHeatmaps{SiteID: siteID, ForceRefresh: force})
}

func (h *handlers) handleResolveSite(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, ResolveSite{URL: r.URL.Query().Get("url")})
}

func (h *handlers) handleCORSResources(w http.ResponseWriter, r *http.Request) {
	var req FetchCORSResources
	if h.decode(w, r, &req) {
		h.dispatch(w, r, req)
	}
}

func (h *handlers) handleCSSText(w http.ResponseWriter, r *http.Request) {
	var req FetchCSSText
	if h.decode(w, r, &req) {
		h.dispatch(w, r, req)
	}
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("invalid request body: "+err.Error()))
		return false
	}
	return true
}

// statusFor maps background errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, screenshot.ErrNotIdle), errors.Is(err, screenshot.ErrNotInError):
		return http.StatusConflict
	case errors.Is(err, screenshot.ErrRetryLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, api.ErrNoCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, api.ErrStatus):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *handlers) respondWithError(w http.ResponseWriter, statusCode int, err error) {
	h.respond(w, statusCode, Reply{Error: err.Error()})
}

func (h *handlers) respond(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
