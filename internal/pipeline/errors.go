package pipeline

import (
	"errors"
	"fmt"

	"github.com/technosupport/ts-curbside/internal/data"
	"github.com/technosupport/ts-curbside/internal/recognition"
	"github.com/technosupport/ts-curbside/internal/snapshot"
)

const (
	ReasonSecret      = "secret"
	ReasonAlertType   = "alert_type"
	ReasonTimestamp   = "timestamp"
	// ReasonDuplicate rejects a redelivery of an alert already admitted, on purpose.
	ReasonDuplicate   = "duplicate"
	ReasonBusy        = "busy"
	ReasonGuardFailed = "guard_unavailable"
)

// AdmissionError rejects an alert before any provider is called.
type AdmissionError struct {
	Reason string
	Err    error
}

func (e *AdmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("alert rejected (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("alert rejected (%s)", e.Reason)
}

func (e *AdmissionError) Unwrap() error {
	return e.Err
}

func reject(reason string, err error) *AdmissionError {
	return &AdmissionError{Reason: reason, Err: err}
}

// stageOf maps an aborting error to a metric stage and code.
func stageOf(err error) (stage, code string) {
	var re *recognition.RecognitionError
	var ce *data.CorrelationError
	switch {
	case errors.Is(err, snapshot.ErrSnapshotUnavailable):
		return "snapshot", "unavailable"
	case errors.As(err, &re):
		return "recognition_" + re.Op, re.Code
	case errors.As(err, &ce):
		return "correlation", "store"
	case errors.Is(err, errPanic):
		return "pipeline", "panic"
	default:
		return "pipeline", "cancelled"
	}
}

var errPanic = errors.New("pipeline panic")
