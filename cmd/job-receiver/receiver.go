package main

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/jobqueue"
)

type delivery struct {
	ReceivedAt string           `json:"receivedAt"`
	DeliveryID string           `json:"deliveryId"`
	Job        jobqueue.Message `json:"job"`
}

type stats struct {
	Count    int64            `json:"count"`
	Rejected int64            `json:"rejected"`
	ByTask   map[string]int64 `json:"byTask"`
	Last     []delivery       `json:"last"`
	Since    string           `json:"since"`
}

type receiver struct {
	secret    string
	maxStored int
	logger    *zap.Logger
	clock     func() time.Time

	mu       sync.Mutex
	count    int64
	rejected int64
	byTask   map[string]int64
	last     []delivery
	since    time.Time
}

func newReceiver(secret string, maxStored int, logger *zap.Logger) *receiver {
	r := &receiver{
		secret:    secret,
		maxStored: maxStored,
		logger:    logger.Named("receiver"),
		clock:     time.Now,
	}
	r.reset()
	return r
}

func (rc *receiver) routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/hook", rc.hook)
	r.Get("/stats", rc.stats)
	r.Post("/reset", func(w http.ResponseWriter, _ *http.Request) {
		rc.reset()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

func (rc *receiver) reset() {
	rc.mu.Lock()
	rc.count = 0
	rc.rejected = 0
	rc.byTask = make(map[string]int64)
	rc.last = nil
	rc.since = rc.clock().UTC()
	rc.mu.Unlock()
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if rc.secret != "" && !jobqueue.VerifySignature(rc.secret, body, r.Header.Get(jobqueue.HeaderSignature)) {
		rc.reject("bad signature", r)
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	var msg jobqueue.Message
	if err := json.Unmarshal(body, &msg); err != nil || msg.JobID == "" || msg.Task == "" {
		rc.reject("malformed job", r)
		http.Error(w, "malformed job", http.StatusBadRequest)
		return
	}
	if hdr := r.Header.Get(jobqueue.HeaderJobID); hdr != "" && hdr != msg.JobID {
		rc.reject("job id mismatch", r)
		http.Error(w, "job id mismatch", http.StatusBadRequest)
		return
	}

	d := delivery{
		ReceivedAt: rc.clock().UTC().Format(time.RFC3339Nano),
		DeliveryID: r.Header.Get(jobqueue.HeaderDeliveryID),
		Job:        msg,
	}

	rc.mu.Lock()
	rc.count++
	rc.byTask[msg.Task]++
	rc.last = append(rc.last, d)
	if len(rc.last) > rc.maxStored {
		rc.last = rc.last[len(rc.last)-rc.maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	rc.logger.Info("job received",
		zap.Int64("n", current),
		zap.String("job_id", msg.JobID),
		zap.String("task", msg.Task),
		zap.String("project_id", msg.ProjectID),
		zap.Int("parameters", len(msg.Parameters)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"received": current})
}

func (rc *receiver) reject(reason string, r *http.Request) {
	rc.mu.Lock()
	rc.rejected++
	rc.mu.Unlock()
	rc.logger.Warn("delivery rejected",
		zap.String("reason", reason),
		zap.String("delivery_id", r.Header.Get(jobqueue.HeaderDeliveryID)))
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:    rc.count,
		Rejected: rc.rejected,
		ByTask:   make(map[string]int64, len(rc.byTask)),
		Last:     append([]delivery(nil), rc.last...),
		Since:    rc.since.Format(time.RFC3339),
	}
	for k, v := range rc.byTask {
		s.ByTask[k] = v
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}
