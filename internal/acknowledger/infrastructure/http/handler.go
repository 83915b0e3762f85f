package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/med-el-mrabet/InterConnect/internal/acknowledger/application"
	"github.com/med-el-mrabet/InterConnect/internal/acknowledger/domain"
	"github.com/med-el-mrabet/InterConnect/pkg/apperror"
	"github.com/med-el-mrabet/InterConnect/pkg/httpx"
)

const maxBody = 1 << 20

type Service interface {
	Target() string
	Receive(ctx context.Context, cb application.Callback) (domain.Acknowledgement, error)
	List(ctx context.Context, limit int) ([]domain.Acknowledgement, error)
}

type Records interface {
	Get(ctx context.Context, devisID int64) (domain.DevisRecord, error)
	List(ctx context.Context, limit int) ([]domain.DevisRecord, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
	records Records
}

func NewHandler(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// WithRecords exposes the target's received-devis records.
func (h *Handler) WithRecords(r Records) *Handler {
	h.records = r
	return h
}

type receivedResp struct {
	Status        string `json:"status"`
	Target        string `json:"target"`
	EventID       string `json:"event_id"`
	Duplicate     bool   `json:"duplicate"`
	DeliveryCount int    `json:"delivery_count"`
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/notifications", h.receive)
	r.Get("/acknowledgements", h.list)
	if h.records != nil {
		r.Get("/received-devis", h.listDevis)
		r.Get("/received-devis/{devisID}", h.getDevis)
	}
}

// receive answers 201 for a first delivery and 200 for a repeat.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		httpx.WriteError(w, h.log, apperror.Validation("unreadable body").Wrap(err))
		return
	}
	a, err := h.service.Receive(r.Context(), application.Callback{
		EventID:        r.Header.Get("X-Event-ID"),
		NotificationID: r.Header.Get("X-Notification-ID"),
		Target:         r.Header.Get("X-Notification-Target"),
		Body:           json.RawMessage(body),
	})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	status := http.StatusCreated
	if a.Duplicate() {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, receivedResp{
		Status:        "received",
		Target:        a.Target,
		EventID:       a.EventID,
		Duplicate:     a.Duplicate(),
		DeliveryCount: a.DeliveryCount,
	})
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.Validation("limit must be an integer").WithDetail("limit", raw)
	}
	return n, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	as, err := h.service.List(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"target": h.service.Target(), "acknowledgements": as})
}

func (h *Handler) listDevis(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	recs, err := h.records.List(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"target": h.service.Target(), "count": len(recs), "devis": recs})
}

func (h *Handler) getDevis(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "devisID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, h.log, apperror.Validation("devis id must be a positive integer").WithDetail("id", raw))
		return
	}
	rec, err := h.records.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}
