// Package handlers contains the HTTP handler building blocks: webhook
// ingestion, operator authentication, and health checks.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/messaging"
	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK INGRESS
// ══════════════════════════════════════════════════════════════════════════════

// endOfCallEvent is the only event type that triggers the pipeline. Other
// event types (status updates, transcripts in flight) are acknowledged and
// dropped.
const endOfCallEvent = "end-of-call-report"

// SignatureVerifier checks the keyed-hash signature over a raw webhook body.
type SignatureVerifier interface {
	// Verify returns nil when signature matches the body.
	Verify(body []byte, signature string) error

	// Header returns the header the platform carries the signature in.
	Header() string
}

// Enqueuer hands a call job to the async pipeline.
type Enqueuer interface {
	Enqueue(job messaging.CallJob) error
}

// webhookEnvelope is the platform's end-of-call payload. Only the fields the
// pipeline needs are decoded; everything else is re-fetched from the call API,
// which stays authoritative.
type webhookEnvelope struct {
	Message struct {
		Type            string     `json:"type"`
		Transcript      string     `json:"transcript,omitempty"`
		DurationSeconds float64    `json:"durationSeconds,omitempty"`
		StartedAt       *time.Time `json:"startedAt,omitempty"`
		EndedAt         *time.Time `json:"endedAt,omitempty"`

		Call struct {
			ID       string `json:"id"`
			Customer struct {
				Number string `json:"number,omitempty"`
			} `json:"customer"`
		} `json:"call"`
	} `json:"message"`
}

// WebhookIngress receives voice platform webhooks, verifies their signature
// and hands accepted calls to the queue. It always acknowledges fast: the
// heavy work (fetch, analysis, apply) happens asynchronously.
type WebhookIngress struct {
	verifier SignatureVerifier
	queue    Enqueuer
	maxBody  int64
	logger   *logger.Logger
}

// NewWebhookIngress creates a WebhookIngress. maxBody caps how much of the
// request body is read before verification.
func NewWebhookIngress(verifier SignatureVerifier, queue Enqueuer, maxBody int64, log *logger.Logger) *WebhookIngress {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	if log == nil {
		log = logger.Default()
	}
	return &WebhookIngress{
		verifier: verifier,
		queue:    queue,
		maxBody:  maxBody,
		logger:   log.With(logger.Component("webhook")),
	}
}

// HandleEndOfCall handles POST /webhook/voice.
//
// Signature verification runs over the raw body BEFORE any JSON parsing; an
// unsigned or tampered body never reaches the decoder. 200 is only written
// once the job is queued (or deliberately ignored); a full queue answers 503
// so the platform redelivers instead of treating the call as delivered.
func (h *WebhookIngress) HandleEndOfCall(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		h.logger.Warn("failed to read webhook body", logger.Err(err))
		writeStatus(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if int64(len(body)) > h.maxBody {
		writeStatus(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	signature := r.Header.Get(h.verifier.Header())
	if err := h.verifier.Verify(body, signature); err != nil {
		h.logger.Warn("webhook signature rejected",
			logger.String("ip", clientIP(r)),
			logger.Err(err),
		)
		writeStatus(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.logger.Warn("rejected webhook payload",
			logger.Err(shared.ErrUnparseablePayload),
			logger.String("detail", err.Error()),
		)
		writeStatus(w, http.StatusBadRequest, "invalid payload")
		return
	}

	msg := envelope.Message
	if msg.Type != endOfCallEvent {
		// Signed but irrelevant. Acknowledge so the platform stops resending.
		writeStatus(w, http.StatusOK, "ignored")
		return
	}
	if msg.Call.ID == "" {
		writeStatus(w, http.StatusBadRequest, "missing call id")
		return
	}

	job := messaging.CallJob{
		CallID:                  msg.Call.ID,
		FallbackTranscript:      msg.Transcript,
		FallbackDurationSeconds: int(msg.DurationSeconds),
		FallbackCustomerNumber:  msg.Call.Customer.Number,
		StartedAt:               msg.StartedAt,
		EndedAt:                 msg.EndedAt,
	}

	if err := h.queue.Enqueue(job); err != nil {
		if errors.Is(err, messaging.ErrQueueFull) {
			// 503 keeps the platform redelivering; a 200 here would mark the
			// call delivered and lose it.
			h.logger.Warn("queue full, requesting redelivery", logger.CallID(msg.Call.ID))
			writeStatus(w, http.StatusServiceUnavailable, "queue full, retry")
			return
		}

		h.logger.Error("failed to enqueue call", logger.CallID(msg.Call.ID), logger.Err(err))
		writeStatus(w, http.StatusServiceUnavailable, "try again")
		return
	}

	h.logger.Info("call accepted", logger.CallID(msg.Call.ID))
	writeStatus(w, http.StatusOK, "accepted")
}

// Healthy lets the ingress participate in readiness checks.
func (h *WebhookIngress) Healthy(ctx context.Context) error {
	if h.verifier == nil {
		return shared.ErrSignatureInvalid
	}
	return nil
}

// writeStatus writes a minimal JSON acknowledgement.
func writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": message})
}
