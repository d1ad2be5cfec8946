// Package snapshot requests camera snapshots for a point in time and waits until the
// image is downloadable.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-curbside/internal/retry"
)

var ErrSnapshotUnavailable = errors.New("snapshot unavailable")

type Provider interface {
	Generate(ctx context.Context, serial, ts string) (string, error)
	Probe(ctx context.Context, ref string) (bool, error)
}

type Snapshot struct {
	ImageRef   string `json:"image_ref"`
	CapturedAt string `json:"captured_at"`
}

type AcquirerConfig struct {
	Polls     int
	PollDelay time.Duration
}

type Acquirer struct {
	provider Provider
	cfg      AcquirerConfig

	// Sleep is swapped out in tests.
	Sleep retry.SleepFunc
}

func NewAcquirer(p Provider, cfg AcquirerConfig) *Acquirer {
	if cfg.Polls <= 0 {
		cfg.Polls = 5
	}
	if cfg.PollDelay < 0 {
		cfg.PollDelay = 0
	}
	return &Acquirer{provider: p, cfg: cfg, Sleep: retry.Sleep}
}

// Acquire generates a snapshot for queryTime and polls until it is available.
// Every probe is preceded by the poll delay.
func (a *Acquirer) Acquire(ctx context.Context, serial, queryTime string) (Snapshot, error) {
	ref, err := a.provider.Generate(ctx, serial, queryTime)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: generate for %s at %s: %v", ErrSnapshotUnavailable, serial, queryTime, err)
	}

	err = retry.Do(ctx, retry.Policy{Attempts: a.cfg.Polls, Sleep: a.Sleep}, func(ctx context.Context, poll int) (bool, error) {
		if err := a.Sleep(ctx, a.cfg.PollDelay); err != nil {
			return false, err
		}
		ok, err := a.provider.Probe(ctx, ref)
		if err != nil {
			log.Debug().Err(err).Str("device", serial).Int("poll", poll).Msg("snapshot probe failed")
			return false, nil
		}
		return ok, nil
	})
	switch {
	case err == nil:
		return Snapshot{ImageRef: ref, CapturedAt: queryTime}, nil
	case errors.Is(err, retry.ErrExhausted):
		return Snapshot{}, fmt.Errorf("%w: %s at %s not ready after %d polls", ErrSnapshotUnavailable, serial, queryTime, a.cfg.Polls)
	default:
		return Snapshot{}, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}
}
