package data

import (
	"context"
	"fmt"
)

// CorrelationError means the order store could not be queried. It aborts a run.
type CorrelationError struct {
	Plate string
	Err   error
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("order lookup for plate %q failed: %v", e.Plate, e.Err)
}

func (e *CorrelationError) Unwrap() error {
	return e.Err
}

// Correlator maps a plate candidate to the latest order for it.
type Correlator struct {
	store OrderStore
}

func NewCorrelator(store OrderStore) *Correlator {
	return &Correlator{store: store}
}

func (c *Correlator) FindLatestOrder(ctx context.Context, plate string) (*Order, error) {
	o, err := c.store.FindLatestOrder(ctx, plate)
	if err != nil {
		return nil, &CorrelationError{Plate: plate, Err: err}
	}
	return o, nil
}

// RecordDetection persists a sighting. Failures are the caller's to log.
func (c *Correlator) RecordDetection(ctx context.Context, d *Detection) error {
	if err := c.store.CreateDetection(ctx, d); err != nil {
		return fmt.Errorf("persist detection %q: %w", d.Plate, err)
	}
	return nil
}
