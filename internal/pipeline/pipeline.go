// Package pipeline turns one motion alert into at most one staff notification.
package pipeline

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-curbside/internal/alerttime"
	"github.com/technosupport/ts-curbside/internal/data"
	"github.com/technosupport/ts-curbside/internal/events"
	"github.com/technosupport/ts-curbside/internal/guard"
	"github.com/technosupport/ts-curbside/internal/metrics"
	"github.com/technosupport/ts-curbside/internal/recognition"
	"github.com/technosupport/ts-curbside/internal/retry"
	"github.com/technosupport/ts-curbside/internal/snapshot"
)

const publishTimeout = 5 * time.Second

type Deps struct {
	Guard      guard.Guard
	Settings   SettingsSource
	Snapshots  SnapshotAcquirer
	Classifier LabelClassifier
	Recognizer PlateRecognizer
	Correlator OrderCorrelator
	Notifier   Notifier

	// Optional
	// Lifetime cancels in-flight runs, typically at the end of the shutdown grace period.
	// Request cancellation never reaches a run.
	Lifetime  context.Context
	Publisher events.Publisher
	Dedup     *events.Dedup
	Sleep     retry.SleepFunc
	Now       func() time.Time
}

type Pipeline struct {
	d Deps
}

func New(d Deps) *Pipeline {
	if d.Sleep == nil {
		d.Sleep = retry.Sleep
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Pipeline{d: d}
}

// run is the state of one admitted alert. Only relevant attempts update it.
type run struct {
	id        string
	alert     MotionAlert
	settings  Settings
	queryTime time.Time
	attempts  int

	relevant   bool
	snap       snapshot.Snapshot
	candidates []string
	plate      string
	order      *data.Order
}

// HandleAlert admits the alert or rejects it with *AdmissionError, then runs the
// attempt loop to completion. Provider failures end the run early and are reported
// on Result.Err, not as the returned error.
func (p *Pipeline) HandleAlert(ctx context.Context, alert MotionAlert) (Result, error) {
	s := p.d.Settings.Settings()

	// 1. Admission, no provider calls before this passes
	if s.SharedSecret == "" || subtle.ConstantTimeCompare([]byte(alert.SharedSecret), []byte(s.SharedSecret)) != 1 {
		return Result{}, p.rejected(alert, reject(ReasonSecret, nil))
	}
	if alert.AlertTypeID != s.AlertType {
		return Result{}, p.rejected(alert, reject(ReasonAlertType, fmt.Errorf("got %q", alert.AlertTypeID)))
	}
	occurred, err := alerttime.Parse(alert.OccurredAt)
	if err != nil {
		return Result{}, p.rejected(alert, reject(ReasonTimestamp, err))
	}

	dedupKey := events.AlertKey(alert.DeviceSerial, alert.OccurredAt)
	if p.d.Dedup != nil && p.d.Dedup.IsDuplicate(dedupKey) {
		return Result{}, p.rejected(alert, reject(ReasonDuplicate, nil))
	}

	release, ok, err := p.d.Guard.TryAcquire(ctx)
	if err != nil || !ok {
		if p.d.Dedup != nil {
			p.d.Dedup.Forget(dedupKey)
		}
		if err != nil {
			return Result{}, p.rejected(alert, reject(ReasonGuardFailed, err))
		}
		return Result{}, p.rejected(alert, reject(ReasonBusy, nil))
	}
	defer release()

	metrics.SetRunInProgress(true)
	defer metrics.SetRunInProgress(false)

	runCtx, cancel := p.runContext(ctx)
	defer cancel()

	r := &run{id: uuid.NewString(), alert: alert, settings: s}
	started := p.d.Now()
	res := p.execute(runCtx, r, occurred)
	p.finish(runCtx, r, res, started)
	return res, nil
}

// runContext keeps request values but not its deadline or cancellation.
func (p *Pipeline) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if p.d.Lifetime == nil {
		return runCtx, cancel
	}
	if p.d.Lifetime.Err() != nil {
		cancel()
		return runCtx, cancel
	}
	stop := context.AfterFunc(p.d.Lifetime, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *Pipeline) rejected(alert MotionAlert, err *AdmissionError) error {
	metrics.RecordRejection(err.Reason)
	log.Warn().
		Str("reason", err.Reason).
		Str("device", alert.DeviceSerial).
		Str("alert_type", alert.AlertTypeID).
		Msg("alert rejected")
	return err
}

func (p *Pipeline) execute(ctx context.Context, r *run, occurred time.Time) (res Result) {
	logger := log.With().Str("run_id", r.id).Str("device", r.alert.DeviceSerial).Logger()
	res = Result{RunID: r.id}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("pipeline run panicked")
			res.Outcome = OutcomeAborted
			res.Attempts = r.attempts
			res.Err = fmt.Errorf("%w: %v", errPanic, rec)
		}
	}()

	logger.Info().Dur("settle", r.settings.SettleDelay).Str("occurred_at", r.alert.OccurredAt).Msg("alert admitted, waiting for vehicle to settle")
	if err := p.d.Sleep(ctx, r.settings.SettleDelay); err != nil {
		return p.abort(logger, r, err)
	}
	r.queryTime = alerttime.Add(occurred, r.settings.SettleDelay)

	policy := retry.Policy{Attempts: r.settings.MaxAttempts, Delay: r.settings.Interval, Sleep: p.d.Sleep}
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (bool, error) {
		if attempt > 1 {
			r.queryTime = alerttime.Add(r.queryTime, r.settings.Interval)
		}
		r.attempts = attempt
		return p.attempt(ctx, logger.With().Int("attempt", attempt).Logger(), r)
	})
	if err != nil && !errors.Is(err, retry.ErrExhausted) {
		return p.abort(logger, r, err)
	}

	res.Attempts = r.attempts
	switch {
	case !r.relevant:
		res.Outcome = OutcomeIrrelevant
		logger.Info().Int("attempts", r.attempts).Msg("no vehicle in any snapshot, nothing to notify")
		return res
	case len(r.candidates) == 0:
		res.Outcome = OutcomeNoPlate
	default:
		res.Outcome = OutcomePlateDetected
		res.Plate = r.plate
		if r.order != nil {
			res.OrderID = r.order.ID
		}
	}

	if err := p.d.Notifier.Notify(ctx, res.Outcome, r.snap, r.order, r.plate); err != nil {
		metrics.RecordNotificationFailure(string(res.Outcome))
		logger.Error().Err(err).Str("outcome", string(res.Outcome)).Msg("notification failed")
		res.Err = err
		return res
	}
	res.Notified = true
	return res
}

// attempt runs one snapshot → classify → recognize → correlate pass.
// done=true means an order matched.
func (p *Pipeline) attempt(ctx context.Context, logger zerolog.Logger, r *run) (bool, error) {
	ts := alerttime.Format(r.queryTime)

	snap, err := p.d.Snapshots.Acquire(ctx, r.alert.DeviceSerial, ts)
	if err != nil {
		return false, err
	}

	labels, err := p.d.Classifier.Classify(ctx, snap.ImageRef)
	if err != nil {
		return false, err
	}
	if !recognition.IsRelevant(labels, r.settings.Labels) {
		logger.Info().Str("query_time", ts).Strs("labels", labels).Msg("snapshot not relevant")
		return false, nil
	}

	r.relevant = true
	r.snap = snap
	r.plate = ""
	r.order = nil

	plates, err := p.d.Recognizer.Recognize(ctx, snap.ImageRef)
	if err != nil {
		return false, err
	}
	r.candidates = plates
	if len(plates) == 0 {
		logger.Info().Str("query_time", ts).Msg("vehicle seen but no plate text")
		return false, nil
	}

	location := r.alert.DeviceName
	if location == "" {
		location = r.alert.DeviceSerial
	}
	for _, plate := range plates {
		det := &data.Detection{Plate: plate, DetectedAt: r.queryTime, Location: location}
		if err := p.d.Correlator.RecordDetection(ctx, det); err != nil {
			metrics.RecordDetectionWriteFailure()
			logger.Warn().Err(err).Str("plate", plate).Msg("detection not persisted")
		}

		if r.order != nil {
			continue
		}
		order, err := p.d.Correlator.FindLatestOrder(ctx, plate)
		if err != nil {
			return false, err
		}
		if order != nil {
			r.plate, r.order = plate, order
			logger.Info().Str("plate", plate).Int64("order_id", order.ID).Msg("plate matched order")
		}
	}
	if r.order != nil {
		return true, nil
	}

	r.plate = plates[len(plates)-1]
	logger.Info().Strs("plates", plates).Msg("plates read, no matching order")
	return false, nil
}

func (p *Pipeline) abort(logger zerolog.Logger, r *run, err error) Result {
	stage, code := stageOf(err)
	metrics.RecordProviderError(stage, code)
	logger.Error().Err(err).Str("stage", stage).Int("attempts", r.attempts).Msg("run aborted")
	return Result{RunID: r.id, Outcome: OutcomeAborted, Attempts: r.attempts, Err: err}
}

func (p *Pipeline) finish(ctx context.Context, r *run, res Result, started time.Time) {
	finished := p.d.Now()
	metrics.RecordRun(string(res.Outcome), res.Attempts, finished.Sub(started).Seconds())

	log.Info().
		Str("run_id", r.id).
		Str("device", r.alert.DeviceSerial).
		Str("outcome", string(res.Outcome)).
		Str("plate", res.Plate).
		Int64("order_id", res.OrderID).
		Int("attempts", res.Attempts).
		Bool("notified", res.Notified).
		Dur("duration", finished.Sub(started)).
		Msg("run finished")

	if p.d.Publisher == nil {
		return
	}
	evt := events.RunEvent{
		RunID:        r.id,
		DeviceSerial: r.alert.DeviceSerial,
		DeviceName:   r.alert.DeviceName,
		Outcome:      res.Outcome,
		Plate:        res.Plate,
		OrderID:      res.OrderID,
		Attempts:     res.Attempts,
		Notified:     res.Notified,
		StartedAt:    started.UTC(),
		FinishedAt:   finished.UTC(),
	}
	if res.Err != nil {
		evt.Error = res.Err.Error()
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.d.Publisher.Publish(pctx, evt); err != nil {
		log.Warn().Err(err).Str("run_id", r.id).Msg("run event not published")
	}
}
