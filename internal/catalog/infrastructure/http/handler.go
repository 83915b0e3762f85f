package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/med-el-mrabet/InterConnect/internal/catalog/application"
	"github.com/med-el-mrabet/InterConnect/internal/catalog/domain"
	"github.com/med-el-mrabet/InterConnect/pkg/apperror"
	"github.com/med-el-mrabet/InterConnect/pkg/httpx"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	arbiter *application.Arbiter
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, arbiter *application.Arbiter) *Handler {
	return &Handler{
		log:     log,
		service: service,
		arbiter: arbiter,
		tracer:  otel.Tracer("catalog-http"),
	}
}

type stockCheckReq struct {
	Parts []domain.Request `json:"parts" validate:"dive"`
}

type restockReq struct {
	Quantity int    `json:"quantity" validate:"required,gt=0"`
	Notes    string `json:"notes"`
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/stock", func(r chi.Router) {
		r.Get("/parts", h.listParts)
		r.Get("/parts/{reference}", h.getPart)
		r.Post("/parts/{reference}/restock", h.restock)
		r.Get("/categories", h.categories)
		r.Post("/check", h.check)
	})
}

func (h *Handler) listParts(w http.ResponseWriter, r *http.Request) {
	parts, err := h.service.ListParts(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if parts == nil {
		parts = []domain.Part{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"parts": parts, "count": len(parts)})
}

func (h *Handler) getPart(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetPart(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) categories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.service.Categories(r.Context())
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if cats == nil {
		cats = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CheckStock")
	defer span.End()

	var req stockCheckReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if len(req.Parts) == 0 {
		httpx.WriteError(w, h.log, apperror.Validation("parts list is required"))
		return
	}

	rep, err := h.arbiter.Check(ctx, req.Parts)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rep)
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	var req restockReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	part, err := h.service.Restock(r.Context(), chi.URLParam(r, "reference"), req.Quantity, req.Notes)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, part)
}
