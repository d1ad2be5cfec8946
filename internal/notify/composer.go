// Package notify renders pipeline outcomes as Webex messages and adaptive cards.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-curbside/internal/data"
	"github.com/technosupport/ts-curbside/internal/events"
	"github.com/technosupport/ts-curbside/internal/snapshot"
)

const (
	FormatCard     = "card"
	FormatMarkdown = "markdown"
)

var ErrNothingToNotify = errors.New("outcome has no notification")

type NotificationError struct {
	Outcome events.Outcome
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Outcome, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

type Sender interface {
	CreateMessage(ctx context.Context, msg Message) (*MessageResult, error)
}

type ComposerConfig struct {
	RoomID    string
	Format    string
	ManualURL string
	Issuer    TokenIssuer
}

type Composer struct {
	sender Sender
	cfg    ComposerConfig
}

func NewComposer(sender Sender, cfg ComposerConfig) *Composer {
	if cfg.Format == "" {
		cfg.Format = FormatCard
	}
	return &Composer{sender: sender, cfg: cfg}
}

// Notify posts one message for outcome. order is optional for PLATE_DETECTED.
func (c *Composer) Notify(ctx context.Context, outcome events.Outcome, snap snapshot.Snapshot, order *data.Order, plate string) error {
	msg, err := c.compose(outcome, snap, order, plate)
	if err != nil {
		return &NotificationError{Outcome: outcome, Err: err}
	}

	res, err := c.sender.CreateMessage(ctx, msg)
	if err != nil {
		return &NotificationError{Outcome: outcome, Err: err}
	}
	log.Info().
		Str("outcome", string(outcome)).
		Str("plate", plate).
		Str("message_id", res.ID).
		Str("format", c.cfg.Format).
		Msg("notification posted")
	return nil
}

func (c *Composer) compose(outcome events.Outcome, snap snapshot.Snapshot, order *data.Order, plate string) (Message, error) {
	msg := Message{RoomID: c.cfg.RoomID}

	if c.cfg.Format == FormatMarkdown {
		switch {
		case outcome == events.OutcomeNoPlate:
			msg.Markdown = NoPlateMarkdown(snap)
		case outcome == events.OutcomePlateDetected && order != nil:
			// Markdown has no buttons; the match card still carries Process/Discard.
			card, err := BuildMatchCard(snap, order, plate, c.cfg.Issuer)
			if err != nil {
				return msg, err
			}
			msg.Markdown = MatchMarkdown(snap, order, plate)
			msg.Attachments = []Attachment{{ContentType: AdaptiveCardType, Content: card}}
		case outcome == events.OutcomePlateDetected:
			msg.Markdown = NoMatchMarkdown(snap, plate)
		default:
			return msg, ErrNothingToNotify
		}
		return msg, nil
	}

	var card *AdaptiveCard
	switch {
	case outcome == events.OutcomeNoPlate:
		card = BuildNoPlateCard(snap, c.cfg.ManualURL)
	case outcome == events.OutcomePlateDetected && order != nil:
		var err error
		if card, err = BuildMatchCard(snap, order, plate, c.cfg.Issuer); err != nil {
			return msg, err
		}
	case outcome == events.OutcomePlateDetected:
		card = BuildNoMatchCard(snap, plate, c.cfg.ManualURL)
	default:
		return msg, ErrNothingToNotify
	}

	msg.Text = FallbackText
	msg.Attachments = []Attachment{{ContentType: AdaptiveCardType, Content: card}}
	return msg, nil
}
