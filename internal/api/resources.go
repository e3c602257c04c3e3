package api

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/correlation"
	"github.com/djlord-it/findingsd/internal/domain"
	"github.com/djlord-it/findingsd/internal/inventory"
)

// Resources flags inventory resources as blocked. Blocked resources never
// fire event subscriptions and are left out of cron inputs.
type Resources interface {
	Block(ctx context.Context, correlationKey string, blocked bool) error
}

// BlockRequest is the body of PUT /resources/blocked.
type BlockRequest struct {
	CorrelationKey string `json:"correlationKey"`
	Blocked        *bool  `json:"blocked"`
}

// WithResources enables PUT /resources/blocked.
func (h *Handler) WithResources(resources Resources) *Handler {
	h.resources = resources
	return h
}

func (h *Handler) putBlocked(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Blocked == nil {
		writeError(w, http.StatusBadRequest, "blocked is required")
		return
	}
	if correlation.InventoryKindOf(req.CorrelationKey) == domain.ResourceNone {
		writeError(w, http.StatusBadRequest, "invalid correlation key")
		return
	}

	if err := h.resources.Block(r.Context(), req.CorrelationKey, *req.Blocked); err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			writeError(w, http.StatusNotFound, "resource not found")
			return
		}
		h.logger.Error("block resource", zap.String("correlation_key", req.CorrelationKey), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update resource")
		return
	}
	h.logger.Info("resource block updated",
		zap.String("correlation_key", req.CorrelationKey),
		zap.Bool("blocked", *req.Blocked))
	w.WriteHeader(http.StatusNoContent)
}
