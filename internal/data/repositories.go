package data

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// OrderStore is implemented by the Postgres model and the JSON-server client.
type OrderStore interface {
	CreateDetection(ctx context.Context, d *Detection) error
	// FindLatestOrder returns (nil, nil) when no order carries the plate.
	FindLatestOrder(ctx context.Context, plate string) (*Order, error)
	SetServiced(ctx context.Context, orderID int64, serviced bool) error
	CreateOrder(ctx context.Context, o *Order) error
}
