package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/correlation"
	"github.com/djlord-it/findingsd/internal/router"
	"github.com/djlord-it/findingsd/internal/transport/channel"
)

// maxRequestBodySize is the maximum allowed request body size (8MB).
const maxRequestBodySize = 8 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// postFindings validates every finding, then queues them for the router.
// The batch is queued as a whole: when one finding is invalid or the queue
// has no room for all of them, nothing is queued.
func (h *Handler) postFindings(w http.ResponseWriter, r *http.Request) {
	var req FindingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateBatch(req.Findings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i, f := range req.Findings {
		if err := validateStandalone(f); err != nil {
			i := i
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Index: &i})
			return
		}
	}

	now := time.Now().UTC()
	envs := make([]channel.Envelope, len(req.Findings))
	for i, f := range req.Findings {
		envs[i] = channel.Envelope{JobID: f.JobID, Timestamp: now, Finding: f}
	}
	if err := h.bus.EmitAll(r.Context(), envs); err != nil {
		h.logger.Warn("failed to queue findings", zap.Int("count", len(envs)), zap.Error(err))
		switch {
		case errors.Is(err, channel.ErrBatchTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "too many findings for the finding queue")
		case errors.Is(err, channel.ErrBufferFull):
			writeError(w, http.StatusServiceUnavailable, "finding queue full")
		default:
			writeError(w, http.StatusInternalServerError, "failed to queue findings")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: len(req.Findings)})
}

// postJobFindings routes a job report synchronously.
func (h *Handler) postJobFindings(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var req JobFindingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateBatch(req.Findings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var at time.Time
	if req.Timestamp > 0 {
		at = time.UnixMilli(req.Timestamp).UTC()
	}

	res, err := h.jobs.RouteBatch(r.Context(), jobID, at, req.Findings)
	if errors.Is(err, router.ErrUnknownJob) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("route job findings", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to route findings")
		return
	}

	resp := JobFindingsResponse{Routed: res.Routed}
	invalid := 0
	for _, rej := range res.Rejected {
		if errors.Is(rej.Err, correlation.ErrInvalidArgument) {
			invalid++
		}
		resp.Rejected = append(resp.Rejected, RejectedFinding{Index: rej.Index, Error: rej.Err.Error()})
	}

	status := http.StatusOK
	if res.Routed == 0 && invalid > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}
