// Package dedup owns the delivery-record store. It enforces at-most-one
// successful relay per event id, including under concurrent redelivery of
// the same id, via an atomic in-flight claim.
package dedup

import (
	"context"
	"errors"
	"time"

	"plane-relay/internal/models"
)

var (
	// ErrDuplicate means a delivered record already exists for this id.
	ErrDuplicate = errors.New("event already delivered")
	// ErrInFlight means another unexpired claim holds this id right now.
	ErrInFlight = errors.New("event delivery already in flight")
)

// Store is the delivery-record store. Claim is the atomic check-then-act
// gate: a granted claim must be resolved with Commit (terminal outcome) or
// Release (retryable fault). Claims expire after the configured TTL so a
// crash mid-delivery cannot wedge an id forever.
//
// A prior failed-permanently record is reclaimable; a delivered record
// never is.
type Store interface {
	Claim(ctx context.Context, eventID string) error
	Commit(ctx context.Context, eventID string, outcome models.DeliveryOutcome) error
	Release(ctx context.Context, eventID string) error
	Close(ctx context.Context) error
}

// Options tune claim expiry and terminal-record retention.
type Options struct {
	ClaimTTL  time.Duration
	Retention time.Duration
}

func (o Options) withDefaults() Options {
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = 5 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	return o
}
