package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/external/voice"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/messaging"
)

type fakeQueue struct {
	jobs []messaging.CallJob
	err  error
}

func (q *fakeQueue) Enqueue(job messaging.CallJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

const endOfCallBody = `{
  "message": {
    "type": "end-of-call-report",
    "transcript": "Tutor: hi!\nStudent: hello!",
    "durationSeconds": 540,
    "call": {
      "id": "call-42",
      "customer": {"number": "+15551234567"}
    }
  }
}`

func newIngress(queue Enqueuer) (*WebhookIngress, *voice.SignatureVerifier) {
	verifier := voice.NewSignatureVerifier("topsecret", "X-Voice-Signature")
	return NewWebhookIngress(verifier, queue, 1<<20, nil), verifier
}

func signedRequest(verifier *voice.SignatureVerifier, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/voice", bytes.NewBufferString(body))
	req.Header.Set("X-Voice-Signature", verifier.Sign([]byte(body)))
	return req
}

func TestWebhookIngress_AcceptsSignedEndOfCall(t *testing.T) {
	queue := &fakeQueue{}
	ingress, verifier := newIngress(queue)

	rec := httptest.NewRecorder()
	ingress.HandleEndOfCall(rec, signedRequest(verifier, endOfCallBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, queue.jobs, 1)

	job := queue.jobs[0]
	assert.Equal(t, "call-42", job.CallID)
	assert.Equal(t, "+15551234567", job.FallbackCustomerNumber)
	assert.Equal(t, 540, job.FallbackDurationSeconds)
	assert.Contains(t, job.FallbackTranscript, "Student: hello!")
}

func TestWebhookIngress_RejectsBadSignature(t *testing.T) {
	queue := &fakeQueue{}
	ingress, _ := newIngress(queue)

	req := httptest.NewRequest(http.MethodPost, "/webhook/voice", bytes.NewBufferString(endOfCallBody))
	req.Header.Set("X-Voice-Signature", "deadbeef")

	rec := httptest.NewRecorder()
	ingress.HandleEndOfCall(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, queue.jobs)
}

func TestWebhookIngress_RejectsMissingSignature(t *testing.T) {
	queue := &fakeQueue{}
	ingress, _ := newIngress(queue)

	req := httptest.NewRequest(http.MethodPost, "/webhook/voice", bytes.NewBufferString(endOfCallBody))

	rec := httptest.NewRecorder()
	ingress.HandleEndOfCall(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookIngress_RejectsMalformedJSON(t *testing.T) {
	queue := &fakeQueue{}
	ingress, verifier := newIngress(queue)

	rec := httptest.NewRecorder()
	ingress.HandleEndOfCall(rec, signedRequest(verifier, "{not json"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, queue.jobs)
}

func TestWebhookIngress_IgnoresOtherEventTypes(t *testing.T) {
	queue := &fakeQueue{}
	ingress, verifier := newIngress(queue)

	body := `{"message": {"type": "status-update", "call": {"id": "call-42"}}}`

	rec := httptest.NewRecorder()
	ingress.HandleEndOfCall(rec, signedRequest(verifier, body))

	// Acknowledged so the platform stops redelivering, but never enqueued.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, queue.jobs)
}

func TestWebhookIngress_RequiresCallID(t *testing.T) {
	queue := &fakeQueue{}
	ingress, verifier := newIngress(queue)

	body := `{"message": {"type": "end-of-call-report", "call": {"id": ""}}}`

	rec := httptest.NewRecorder()
	ingress.HandleEndOfCall(rec, signedRequest(verifier, body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookIngress_QueueFullRequestsRedelivery(t *testing.T) {
	queue := &fakeQueue{err: messaging.ErrQueueFull}
	ingress, verifier := newIngress(queue)

	rec := httptest.NewRecorder()
	ingress.HandleEndOfCall(rec, signedRequest(verifier, endOfCallBody))

	// A 200 would mark the call delivered and lose it; 503 makes the
	// platform redeliver once there is queue capacity again.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, queue.jobs)
}

func TestWebhookIngress_RejectsOversizedBody(t *testing.T) {
	queue := &fakeQueue{}
	verifier := voice.NewSignatureVerifier("topsecret", "X-Voice-Signature")
	ingress := NewWebhookIngress(verifier, queue, 64, nil)

	body := `{"message":{"type":"end-of-call-report","transcript":"` + strings.Repeat("a", 200) + `"}}`

	rec := httptest.NewRecorder()
	ingress.HandleEndOfCall(rec, signedRequest(verifier, body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
