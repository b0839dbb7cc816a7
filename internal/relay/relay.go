// Package relay runs one event through the guarded delivery pipeline:
// claim, render, dispatch, commit.
package relay

import (
	"context"
	"errors"
	"time"

	"plane-relay/internal/dedup"
	"plane-relay/internal/models"
	"plane-relay/internal/render"
	"plane-relay/pkg/metrics"

	"go.uber.org/zap"
)

// Outcome classifies what Process did with an event.
type Outcome string

const (
	OutcomeDelivered     Outcome = "delivered"
	OutcomeDuplicateSkip Outcome = "duplicate-skip"
	OutcomeInFlightSkip  Outcome = "in-flight-skip"
	OutcomeFailed        Outcome = "failed"
	OutcomeInternalFault Outcome = "internal-fault"
)

// Deliverer is the outbound side of the pipeline. Satisfied by
// dispatch.Dispatcher; tests substitute fakes.
type Deliverer interface {
	Deliver(ctx context.Context, msg models.RenderedMessage) error
}

// AvatarFetcher optionally resolves the actor avatar into an attachment.
type AvatarFetcher interface {
	Fetch(ctx context.Context, avatarPath string) (*models.Attachment, error)
}

type Relay struct {
	guard     dedup.Store
	deliverer Deliverer
	avatars   AvatarFetcher
	logger    *zap.Logger
}

func New(guard dedup.Store, deliverer Deliverer, avatars AvatarFetcher, logger *zap.Logger) *Relay {
	return &Relay{
		guard:     guard,
		deliverer: deliverer,
		avatars:   avatars,
		logger:    logger,
	}
}

// Process relays one normalized event. The guard records delivered only
// after the dispatcher reports success, and failed-permanently only after
// retries are exhausted or the endpoint rejected the payload. Internal
// faults release the claim so Plane's redelivery can try again.
func (r *Relay) Process(ctx context.Context, ev models.NormalizedEvent) (Outcome, error) {
	start := time.Now()

	if err := r.guard.Claim(ctx, ev.EventID); err != nil {
		switch {
		case errors.Is(err, dedup.ErrDuplicate):
			metrics.DuplicatesSuppressed.WithLabelValues(string(ev.Type)).Inc()
			r.logger.Info("Duplicate event suppressed",
				zap.String("event_id", ev.EventID),
				zap.String("event_type", string(ev.Type)))
			return OutcomeDuplicateSkip, nil
		case errors.Is(err, dedup.ErrInFlight):
			r.logger.Info("Event already in flight, skipping",
				zap.String("event_id", ev.EventID))
			return OutcomeInFlightSkip, nil
		default:
			return OutcomeInternalFault, err
		}
	}

	msg := render.Render(ev)
	r.attachAvatar(ctx, ev, &msg)

	if err := r.deliverer.Deliver(ctx, msg); err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-delivery, not a verdict on the payload. Free the
			// claim so a redelivery can try again.
			if relErr := r.guard.Release(context.Background(), ev.EventID); relErr != nil {
				r.logger.Error("Failed to release claim",
					zap.Error(relErr),
					zap.String("event_id", ev.EventID))
			}
			return OutcomeInternalFault, err
		}
		if commitErr := r.guard.Commit(ctx, ev.EventID, models.OutcomeFailed); commitErr != nil {
			r.logger.Error("Failed to record delivery failure",
				zap.Error(commitErr),
				zap.String("event_id", ev.EventID))
		}
		metrics.EventsRelayed.WithLabelValues(string(ev.Type), string(models.OutcomeFailed)).Inc()
		r.logger.Error("Event delivery failed permanently",
			zap.Error(err),
			zap.String("event_id", ev.EventID),
			zap.String("event_type", string(ev.Type)))
		return OutcomeFailed, err
	}

	if err := r.guard.Commit(ctx, ev.EventID, models.OutcomeDelivered); err != nil {
		// The message went out; a commit fault must not fail the request,
		// but it may cost us one duplicate on redelivery.
		r.logger.Error("Failed to record delivered outcome",
			zap.Error(err),
			zap.String("event_id", ev.EventID))
	}

	metrics.EventsRelayed.WithLabelValues(string(ev.Type), string(models.OutcomeDelivered)).Inc()
	metrics.DeliveryDuration.WithLabelValues(string(ev.Type)).Observe(time.Since(start).Seconds())
	return OutcomeDelivered, nil
}

func (r *Relay) attachAvatar(ctx context.Context, ev models.NormalizedEvent, msg *models.RenderedMessage) {
	if r.avatars == nil || ev.Actor.AvatarURL == "" {
		return
	}
	attachment, err := r.avatars.Fetch(ctx, ev.Actor.AvatarURL)
	if err != nil {
		// Cosmetic only; deliver without the avatar.
		r.logger.Warn("Could not fetch actor avatar",
			zap.Error(err),
			zap.String("avatar_url", ev.Actor.AvatarURL))
		return
	}
	msg.Attachment = attachment
}
