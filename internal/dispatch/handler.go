package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dialoguelab/dialogue-stt/internal/api"
	"github.com/dialoguelab/dialogue-stt/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Queue is the part of *Pool the HTTP handler uses.
type Queue interface {
	Submit(ctx context.Context, req Request) (<-chan Outcome, error)
	Stats() PoolStats
}

// NewRouter serves the dispatcher API:
//
//	POST /stt/start  {prefix, completion?} → worker result JSON
//	GET  /healthz    pool stats
//	GET  /metrics    Prometheus
//
// Every other method or path answers 404 {"error":"Not found"}.
func NewRouter(q Queue, log zerolog.Logger) http.Handler {
	h := &handler{queue: q}

	r := chi.NewRouter()
	r.Use(api.RequestID)
	r.Use(api.Logger(log))
	r.Use(api.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Post("/stt/start", h.start)
	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	return r
}

type handler struct {
	queue Queue
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	api.WriteError(w, http.StatusNotFound, "Not found")
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	var req Request
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Prefix = strings.TrimSpace(req.Prefix)
	if req.Prefix == "" {
		api.WriteError(w, http.StatusBadRequest, "prefix is required")
		return
	}
	req.Source = "http"

	done, err := h.queue.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrStopped) {
			log.Warn().Err(err).Str("prefix", req.Prefix).Msg("dispatch rejected")
			api.WriteError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var out Outcome
	select {
	case out = <-done:
	case <-r.Context().Done():
		log.Info().Str("prefix", req.Prefix).Msg("client went away while worker runs")
		return
	}

	if out.Err != nil {
		msg := out.Stderr
		if msg == "" {
			msg = "Worker failed"
		}
		api.WriteError(w, http.StatusInternalServerError, msg)
		return
	}
	if !json.Valid(out.Stdout) {
		var probe any
		perr := json.Unmarshal(out.Stdout, &probe)
		msg := "worker returned invalid JSON"
		if perr != nil {
			msg = "worker returned invalid JSON: " + perr.Error()
		}
		log.Error().Str("prefix", req.Prefix).Int("stdout_bytes", len(out.Stdout)).Msg(msg)
		api.WriteError(w, http.StatusInternalServerError, msg)
		return
	}
	api.WriteRawJSON(w, http.StatusOK, out.Stdout)
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.queue.Stats())
}
