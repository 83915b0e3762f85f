package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/med-el-mrabet/InterConnect/internal/notification/application"
	"github.com/med-el-mrabet/InterConnect/internal/notification/domain"
	"github.com/med-el-mrabet/InterConnect/pkg/apperror"
	"github.com/med-el-mrabet/InterConnect/pkg/httpx"
)

type Service interface {
	Get(ctx context.Context, id int64) (domain.Notification, error)
	List(ctx context.Context, f application.Filter) ([]domain.Notification, error)
	Retry(ctx context.Context, id int64) (domain.Notification, domain.Outcome, error)
	RetryPending(ctx context.Context, limit int) (application.RetrySummary, error)
	Stats(ctx context.Context) (domain.Stats, error)
	SendTest(ctx context.Context, req application.TestRequest) (domain.Notification, domain.Outcome, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
}

func NewHandler(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

type deliveryResp struct {
	Success      bool                `json:"success"`
	Outcome      domain.Outcome      `json:"outcome"`
	Notification domain.Notification `json:"notification"`
}

type listResp struct {
	Notifications []domain.Notification `json:"notifications"`
	Count         int                   `json:"count"`
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/stats", h.stats)
		r.Post("/retry-pending", h.retryPending)
		r.Post("/send-test", h.sendTest)
		r.Get("/{id}", h.get)
		r.Post("/{id}/retry", h.retry)
	})
}

func notificationID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.Validation("notification id must be a positive integer").WithDetail("id", raw)
	}
	return id, nil
}

func limit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.Validation("limit must be a non-negative integer").WithDetail("limit", raw)
	}
	return n, nil
}

// deliveryStatus maps a delivery outcome onto the response status.
func deliveryStatus(o domain.Outcome) int {
	switch o {
	case domain.OutcomeSent:
		return http.StatusOK
	case domain.OutcomeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func (h *Handler) writeDelivery(w http.ResponseWriter, n domain.Notification, o domain.Outcome) {
	httpx.WriteJSON(w, deliveryStatus(o), deliveryResp{Success: o == domain.OutcomeSent, Outcome: o, Notification: n})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	n, err := limit(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	q := r.URL.Query()
	ns, err := h.service.List(r.Context(), application.Filter{
		Status:    domain.Status(q.Get("status")),
		Target:    domain.Target(q.Get("target_erp")),
		EventType: q.Get("event_type"),
		Limit:     n,
	})
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, listResp{Notifications: ns, Count: len(ns)})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Stats(r.Context())
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := notificationID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	n, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	id, err := notificationID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	n, outcome, err := h.service.Retry(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	h.writeDelivery(w, n, outcome)
}

func (h *Handler) retryPending(w http.ResponseWriter, r *http.Request) {
	n, err := limit(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	sum, err := h.service.RetryPending(r.Context(), n)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sum)
}

func (h *Handler) sendTest(w http.ResponseWriter, r *http.Request) {
	var req application.TestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httpx.WriteError(w, h.log, apperror.Validation("invalid body").Wrap(err))
		return
	}
	n, outcome, err := h.service.SendTest(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	h.writeDelivery(w, n, outcome)
}
