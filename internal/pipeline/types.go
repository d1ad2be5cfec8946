package pipeline

import (
	"context"
	"time"

	"github.com/technosupport/ts-curbside/internal/data"
	"github.com/technosupport/ts-curbside/internal/events"
	"github.com/technosupport/ts-curbside/internal/snapshot"
)

type Outcome = events.Outcome

const (
	OutcomeIrrelevant    = events.OutcomeIrrelevant
	OutcomeNoPlate       = events.OutcomeNoPlate
	OutcomePlateDetected = events.OutcomePlateDetected
	OutcomeAborted       = events.OutcomeAborted
)

// MotionAlert is the camera webhook body.
type MotionAlert struct {
	SharedSecret string `json:"sharedSecret"`
	AlertTypeID  string `json:"alertTypeId"`
	DeviceSerial string `json:"deviceSerial"`
	DeviceName   string `json:"deviceName"`
	OccurredAt   string `json:"occurredAt"`
}

type Result struct {
	RunID    string  `json:"run_id"`
	Outcome  Outcome `json:"outcome"`
	Plate    string  `json:"plate,omitempty"`
	OrderID  int64   `json:"order_id,omitempty"`
	Attempts int     `json:"attempts"`
	Notified bool    `json:"notified"`
	Err      error   `json:"-"`
}

// Settings are read once when an alert is admitted; reloads apply to the next run.
type Settings struct {
	SharedSecret string
	AlertType    string
	SettleDelay  time.Duration
	Interval     time.Duration
	MaxAttempts  int
	Labels       []string
}

type SettingsSource interface {
	Settings() Settings
}

type SettingsFunc func() Settings

func (f SettingsFunc) Settings() Settings { return f() }

type StaticSettings Settings

func (s StaticSettings) Settings() Settings { return Settings(s) }

type SnapshotAcquirer interface {
	Acquire(ctx context.Context, serial, queryTime string) (snapshot.Snapshot, error)
}

type LabelClassifier interface {
	Classify(ctx context.Context, imageRef string) ([]string, error)
}

type PlateRecognizer interface {
	Recognize(ctx context.Context, imageRef string) ([]string, error)
}

type OrderCorrelator interface {
	FindLatestOrder(ctx context.Context, plate string) (*data.Order, error)
	RecordDetection(ctx context.Context, d *data.Detection) error
}

type Notifier interface {
	Notify(ctx context.Context, outcome Outcome, snap snapshot.Snapshot, order *data.Order, plate string) error
}
