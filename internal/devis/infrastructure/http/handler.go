package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/med-el-mrabet/InterConnect/internal/devis/application"
	"github.com/med-el-mrabet/InterConnect/internal/devis/domain"
	"github.com/med-el-mrabet/InterConnect/pkg/apperror"
	"github.com/med-el-mrabet/InterConnect/pkg/httpx"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("devis-http"),
	}
}

type validateReq struct {
	ConfirmedBy string `json:"confirmed_by" validate:"required"`
	Notes       string `json:"notes"`
}

type rejectReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/devis", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/generate", h.generate)
		r.Get("/{id}", h.get)
		r.Put("/{id}/negotiate", h.negotiate)
		r.Post("/{id}/validate", h.validate)
		r.Post("/{id}/reject", h.reject)
	})
}

func devisID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.Validation("devis id must be a positive integer").WithDetail("id", raw)
	}
	return id, nil
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GenerateDevis")
	defer span.End()

	var req application.CreateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	res, err := h.service.Create(ctx, req)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	span.SetAttributes(attribute.Int64("devis.id", res.Devis.ID))
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := application.Filter{Status: domain.Status(q.Get("status")), ClientCompany: q.Get("client_company")}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(w, h.log, apperror.Validation("limit must be an integer"))
			return
		}
		f.Limit = n
	}

	list, err := h.service.List(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if list == nil {
		list = []domain.Devis{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"devis": list, "count": len(list)})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := devisID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) negotiate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "NegotiateDevis")
	defer span.End()

	id, err := devisID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req application.NegotiateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	d, err := h.service.Negotiate(ctx, id, req)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"devis": d, "message": "devis updated"})
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ValidateDevis")
	defer span.End()

	id, err := devisID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req validateReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	d, err := h.service.Validate(ctx, id, req.ConfirmedBy, req.Notes)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"devis":   d,
		"status":  d.Status,
		"message": "devis validated; both ERPs will be notified",
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RejectDevis")
	defer span.End()

	id, err := devisID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req rejectReq
	if r.ContentLength != 0 {
		if err := httpx.Decode(r, &req); err != nil {
			httpx.WriteError(w, h.log, err)
			return
		}
	}
	d, err := h.service.Reject(ctx, id, req.Reason)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"devis": d, "status": d.Status})
}
