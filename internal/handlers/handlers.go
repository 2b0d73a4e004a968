package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/metrics"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/services"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc       *services.Service
	store     Pinger
	log       logrus.FieldLogger
	reserveMW []func(http.Handler) http.Handler
}

// New builds the handler. reserveMW is mounted only on POST /sales.
func New(svc *services.Service, store Pinger, log logrus.FieldLogger, reserveMW ...func(http.Handler) http.Handler) *Handler {
	return &Handler{svc: svc, store: store, log: log, reserveMW: reserveMW}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/availability", h.Availability)
	r.Get("/configuration", h.GetConfiguration)
	r.Put("/configuration", h.UpdateConfiguration)
	r.Get("/schedule", h.Schedule)

	r.Route("/sales", func(r chi.Router) {
		r.With(h.reserveMW...).Post("/", h.Reserve)
		r.Get("/", h.ListSales)
		r.Get("/export", h.ExportSales)
		r.Get("/{ticket}", h.GetSale)
		r.Put("/{ticket}/{action}", h.TransitionSale)
	})

	r.Get("/results", h.ListResults)
	r.Post("/results", h.RecordResult)
	r.Post("/draws/close", h.CloseDraw)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	avail, err := h.svc.Available(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req services.ReserveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	sale, err := h.svc.Reserve(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (h *Handler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Registry().Get(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Registry().Get(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"zuliaSchedule": cfg.Schedule})
}

func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListResults(r.Context(), r.URL.Query().Get("drawDate"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type errorBody struct {
	Kind    services.Kind  `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindPageBlocked:
		return http.StatusLocked
	case services.KindDrawDateMismatch, services.KindNumberConflict,
		services.KindInvalidTransition, services.KindAlreadyInState:
		return http.StatusConflict
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindTransientConflict:
		return http.StatusServiceUnavailable
	case services.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := services.AsError(err)
	if !ok {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("unclassified error")
		e = &services.Error{Kind: services.KindStoreFailure, Message: "internal error"}
	}

	status := statusFor(e.Kind)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{Kind: e.Kind, Message: e.Message, Details: e.Details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched
// when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	case errors.Is(err, io.EOF):
		return &services.Error{Kind: services.KindValidation, Message: "request body is required"}
	}

	if e, ok := services.AsError(err); ok {
		return e
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &services.Error{Kind: services.KindValidation, Message: "request body too large"}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &services.Error{
			Kind:    services.KindValidation,
			Message: typeErr.Field + " has the wrong type",
			Details: map[string]any{"field": typeErr.Field},
		}
	}
	return &services.Error{Kind: services.KindValidation, Message: "malformed JSON body"}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, false)
}

// drawParam reads ?draw=; zero means the current draw.
func drawParam(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("draw"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		return 0, &services.Error{
			Kind:    services.KindValidation,
			Message: "draw must be a positive integer",
			Details: map[string]any{"field": "draw"},
		}
	}
	return n, nil
}
