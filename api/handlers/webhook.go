package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"plane-relay/internal/plane"
	"plane-relay/internal/queue"
	"plane-relay/internal/relay"
	"plane-relay/internal/verify"
	"plane-relay/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// PlaneWebhookHandler receives Plane's webhook deliveries and runs them
// through the relay pipeline. With a broker configured it publishes instead
// and lets the worker deliver.
type PlaneWebhookHandler struct {
	logger    *zap.Logger
	verifier  *verify.Verifier
	relay     *relay.Relay
	publisher queue.Publisher
	archiver  *Archiver
}

func NewPlaneWebhookHandler(logger *zap.Logger, verifier *verify.Verifier, r *relay.Relay, publisher queue.Publisher, archiver *Archiver) *PlaneWebhookHandler {
	return &PlaneWebhookHandler{
		logger:    logger,
		verifier:  verifier,
		relay:     r,
		publisher: publisher,
		archiver:  archiver,
	}
}

func (h *PlaneWebhookHandler) HandleWebhook(c *gin.Context) {
	receivedAt := time.Now().UTC()

	// Read one byte past the limit so truncation is detectable; a truncated
	// body would fail the signature check and mislead the sender with a 401.
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read request body"})
		return
	}
	if len(body) > maxBodyBytes {
		metrics.EventsRejected.WithLabelValues("oversized").Inc()
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload exceeds size limit"})
		return
	}

	verified, err := h.verifier.Verify(c.Request.Header, body)
	if err != nil {
		h.rejectRequest(c, err)
		return
	}

	h.archiver.Archive(verified, receivedAt)

	event, err := plane.Normalize(verified, receivedAt)
	if err != nil {
		h.rejectRequest(c, err)
		return
	}

	metrics.EventsReceived.WithLabelValues(string(event.Type)).Inc()
	h.logger.Info("Received Plane event",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.Type)),
		zap.String("actor", event.Actor.DisplayName))

	if h.publisher != nil {
		if err := h.publisher.Publish(event); err != nil {
			h.logger.Error("Failed to publish event to broker",
				zap.Error(err),
				zap.String("event_id", event.EventID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue event"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status":   "enqueued",
			"event_id": event.EventID,
		})
		return
	}

	outcome, err := h.relay.Process(c.Request.Context(), event)
	switch outcome {
	case relay.OutcomeDelivered:
		c.JSON(http.StatusOK, gin.H{"status": "forwarded", "event_id": event.EventID})
	case relay.OutcomeDuplicateSkip, relay.OutcomeInFlightSkip:
		c.JSON(http.StatusOK, gin.H{"status": "skipped", "event_id": event.EventID})
	case relay.OutcomeFailed:
		// Terminal for this event: recorded as failed-permanently. Answer 200
		// so Plane does not resend a payload that will be rejected again.
		c.JSON(http.StatusOK, gin.H{"status": "delivery-failed", "event_id": event.EventID})
	default:
		h.logger.Error("Relay internal fault",
			zap.Error(err),
			zap.String("event_id", event.EventID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal relay fault"})
	}
}

func (h *PlaneWebhookHandler) rejectRequest(c *gin.Context, err error) {
	switch {
	case errors.Is(err, verify.ErrUnauthenticated):
		metrics.EventsRejected.WithLabelValues("unauthenticated").Inc()
		h.logger.Warn("Rejected unauthenticated webhook request",
			zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook credential"})
	case errors.Is(err, verify.ErrMalformed):
		metrics.EventsRejected.WithLabelValues("malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed payload"})
	case errors.Is(err, plane.ErrMissingIdentity):
		metrics.EventsRejected.WithLabelValues("missing_identity").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Payload carries no event identity"})
	case errors.Is(err, plane.ErrUnrecognizedShape):
		metrics.EventsRejected.WithLabelValues("unrecognized_shape").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unrecognized payload shape"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
	}
}
