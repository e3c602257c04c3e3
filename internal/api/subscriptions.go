package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := h.subscriptions.All()
	sort.Slice(subs, func(i, j int) bool { return subs[i].Name < subs[j].Name })

	resp := ListSubscriptionsResponse{Subscriptions: make([]SubscriptionResponse, len(subs))}
	for i, s := range subs {
		resp.Subscriptions[i] = subscriptionResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) subscriptionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription id")
		return uuid.Nil, false
	}
	if _, ok := h.subscriptions.Get(id); !ok {
		writeError(w, http.StatusNotFound, "subscription not found")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}
	sub, _ := h.subscriptions.Get(id)
	writeJSON(w, http.StatusOK, subscriptionResponse(sub))
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	triggers, err := h.triggers.List(r.Context(), id)
	if err != nil {
		h.logger.Error("list triggers", zap.Stringer("subscription_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}
	sort.Slice(triggers, func(i, j int) bool {
		if triggers[i].CorrelationKey != triggers[j].CorrelationKey {
			return triggers[i].CorrelationKey < triggers[j].CorrelationKey
		}
		return triggers[i].Discriminator < triggers[j].Discriminator
	})

	if offset > len(triggers) {
		offset = len(triggers)
	}
	end := offset + limit
	if end > len(triggers) {
		end = len(triggers)
	}
	page := triggers[offset:end]

	resp := ListTriggersResponse{Triggers: make([]TriggerResponse, len(page))}
	for i, t := range page {
		resp.Triggers[i] = TriggerResponse{
			CorrelationKey: t.CorrelationKey,
			Discriminator:  t.Discriminator,
			LastTrigger:    formatTime(time.UnixMilli(t.LastTrigger)),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteSubscriptionTriggers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}
	if err := h.triggers.DeleteAllForSubscription(r.Context(), id); err != nil {
		h.logger.Error("delete subscription triggers", zap.Stringer("subscription_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete triggers")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteProjectTriggers(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	if err := h.triggers.DeleteAllForProject(r.Context(), projectID); err != nil {
		h.logger.Error("delete project triggers", zap.String("project_id", projectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete triggers")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
