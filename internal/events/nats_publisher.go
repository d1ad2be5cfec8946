package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const DefaultSubject = "curbside.runs"

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
}

type NATSPublisher struct {
	conn       Conn
	subject    string
	maxRetries int
	backoff    time.Duration
}

func NewNATSPublisher(conn Conn, subject string, maxRetries int) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
		backoff:    100 * time.Millisecond,
	}
}

func (p *NATSPublisher) Publish(ctx context.Context, evt RunEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}

		// Linear backoff, cut short on shutdown
		select {
		case <-ctx.Done():
			return fmt.Errorf("publish %s cancelled: %w", p.subject, ctx.Err())
		case <-time.After(time.Duration(i+1) * p.backoff):
		}
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
