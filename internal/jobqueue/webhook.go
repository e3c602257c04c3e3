package jobqueue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/domain"
)

// Webhook headers.
const (
	HeaderDeliveryID = "X-Findingsd-Delivery-ID"
	HeaderJobID      = "X-Findingsd-Job-ID"
	HeaderSignature  = "X-Findingsd-Signature"
)

var defaultBackoff = []time.Duration{
	0,
	time.Second,
	5 * time.Second,
	30 * time.Second,
}

const maxAttempts = 4

// DeliveryMetrics records webhook attempts. Implementations must not block.
type DeliveryMetrics interface {
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	RetryAttempt(retryable bool)
}

// WebhookPublisher posts jobs to an HTTP endpoint, signing the body with
// HMAC-SHA256 and retrying transient failures.
type WebhookPublisher struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
	backoff []time.Duration
	metrics DeliveryMetrics // optional
	logger  *zap.Logger
}

func NewWebhookPublisher(url, secret string, logger *zap.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		url:     url,
		secret:  secret,
		timeout: 30 * time.Second,
		client:  &http.Client{},
		backoff: defaultBackoff,
		logger:  logger.Named("webhook"),
	}
}

// WithBackoff replaces the delays between attempts.
func (p *WebhookPublisher) WithBackoff(backoff []time.Duration) *WebhookPublisher {
	p.backoff = backoff
	return p
}

// WithMetrics attaches a delivery metrics sink.
func (p *WebhookPublisher) WithMetrics(sink DeliveryMetrics) *WebhookPublisher {
	p.metrics = sink
	return p
}

// WithTimeout sets the per-attempt timeout.
func (p *WebhookPublisher) WithTimeout(d time.Duration) *WebhookPublisher {
	p.timeout = d
	return p
}

// Result is the outcome of one delivery attempt.
type Result struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r Result) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r Result) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return r.StatusCode >= 500
}

func (p *WebhookPublisher) Publish(ctx context.Context, job domain.Job) error {
	body, err := Encode(job)
	if err != nil {
		return err
	}

	var last Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			idx := min(attempt-1, len(p.backoff)-1)
			backoff := p.backoff[idx]
			p.logger.Debug("retrying webhook",
				zap.String("job_id", job.ID.String()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		last = p.send(ctx, job, body)
		if p.metrics != nil {
			p.metrics.DeliveryAttemptCompleted(attempt, classifyStatus(last.StatusCode, last.Error), last.Duration)
		}
		if last.IsSuccess() {
			return nil
		}
		if p.metrics != nil && attempt < maxAttempts {
			p.metrics.RetryAttempt(last.IsRetryable())
		}
		if !last.IsRetryable() {
			break
		}
		p.logger.Warn("webhook attempt failed",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", attempt),
			zap.Int("status", last.StatusCode),
			zap.String("class", classifyStatus(last.StatusCode, last.Error)),
			zap.Error(last.Error))
	}

	if last.Error != nil {
		return errors.Wrap(last.Error, "webhook delivery failed")
	}
	return errors.Errorf("webhook delivery failed: status %d", last.StatusCode)
}

func (p *WebhookPublisher) send(ctx context.Context, job domain.Job, body []byte) Result {
	start := time.Now()

	ctxTimeout, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: errors.Wrap(err, "create request"), Duration: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDeliveryID, uuid.NewString())
	req.Header.Set(HeaderJobID, job.ID.String())
	req.Header.Set(HeaderSignature, computeSignature(p.secret, body))

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{Error: errors.Wrap(err, "send"), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return Result{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a body against the signature header value.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// classifyStatus maps an attempt to a bounded label for logs.
func classifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
			return "timeout"
		case strings.Contains(msg, "connection refused"),
			strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"),
			strings.Contains(msg, "dial"):
			return "connection_error"
		}
		return "other_error"
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "other_error"
	}
}
