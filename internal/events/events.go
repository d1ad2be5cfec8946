// Package events fans finished pipeline runs out to NATS and live feed subscribers.
package events

import (
	"context"
	"errors"
	"time"
)

type Outcome string

const (
	OutcomeIrrelevant    Outcome = "IRRELEVANT"
	OutcomeNoPlate       Outcome = "NO_PLATE"
	OutcomePlateDetected Outcome = "PLATE_DETECTED"
	// OutcomeAborted marks a run stopped by a provider failure.
	OutcomeAborted Outcome = "ABORTED"
)

type RunEvent struct {
	RunID        string    `json:"run_id"`
	DeviceSerial string    `json:"device_serial"`
	DeviceName   string    `json:"device_name,omitempty"`
	Outcome      Outcome   `json:"outcome"`
	Plate        string    `json:"plate,omitempty"`
	OrderID      int64     `json:"order_id,omitempty"`
	Attempts     int       `json:"attempts"`
	Notified     bool      `json:"notified"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

type Publisher interface {
	Publish(ctx context.Context, evt RunEvent) error
}

// Multi publishes to every target and joins the failures.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt RunEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
