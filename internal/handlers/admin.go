package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/db"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/services"
)

// ListSales handles GET /sales?draw=&status=pending,confirmed&phone=
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	draw, err := drawParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	filter := db.SaleFilter{
		DrawCorrelative: draw,
		BuyerPhone:      strings.TrimSpace(r.URL.Query().Get("phone")),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				filter.Statuses = append(filter.Statuses, models.SaleStatus(strings.ToLower(st)))
			}
		}
	}

	sales, err := h.svc.ListSales(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	draw, err := drawParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sale, err := h.svc.GetSale(r.Context(), draw, chi.URLParam(r, "ticket"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

type transitionRequest struct {
	Reason string `json:"reason"`
}

// TransitionSale handles PUT /sales/{ticket}/{confirm|cancel|void|close}.
func (h *Handler) TransitionSale(w http.ResponseWriter, r *http.Request) {
	action, ok := services.ParseAction(chi.URLParam(r, "action"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	draw, err := drawParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req transitionRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}

	sale, err := h.svc.Transition(r.Context(), action, draw, chi.URLParam(r, "ticket"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (h *Handler) ExportSales(w http.ResponseWriter, r *http.Request) {
	draw, err := drawParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	f, err := h.svc.ExportSales(r.Context(), draw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer f.Close()

	name := fmt.Sprintf("ventas_%s.xlsx", time.Now().Format("20060102_150405"))
	if draw > 0 {
		name = fmt.Sprintf("ventas_sorteo_%d.xlsx", draw)
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	if err := f.Write(w); err != nil {
		h.log.WithError(err).Error("failed to write sales export")
	}
}

func (h *Handler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	var patch services.ConfigPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}

	cfg, err := h.svc.Registry().Update(r.Context(), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) RecordResult(w http.ResponseWriter, r *http.Request) {
	var req services.ResultRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	entry, err := h.svc.RecordResult(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type closeDrawRequest struct {
	NextDrawDate string `json:"nextDrawDate"`
}

func (h *Handler) CloseDraw(w http.ResponseWriter, r *http.Request) {
	var req closeDrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	cfg, err := h.svc.CloseDraw(r.Context(), req.NextDrawDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
