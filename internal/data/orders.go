package data

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Order is a customer's pre-placed pickup order.
type Order struct {
	ID        int64     `json:"id"`
	Customer  string    `json:"customer"`
	Menu      string    `json:"menu"`
	Qty       int       `json:"qty"`
	CarPlate  string    `json:"car_plate"`
	OrderedAt time.Time `json:"time"`
	Serviced  bool      `json:"serviced"`
}

// Detection records that a plate was read at a location.
type Detection struct {
	ID         int64     `json:"id,omitempty"`
	Plate      string    `json:"plate"`
	DetectedAt time.Time `json:"time"`
	Location   string    `json:"location"`
}

type OrderModel struct {
	DB DBTX
}

func (m OrderModel) CreateDetection(ctx context.Context, d *Detection) error {
	query := `
		INSERT INTO detections (plate, detected_at, location)
		VALUES ($1, $2, $3)
		RETURNING id`

	return m.DB.QueryRowContext(ctx, query, d.Plate, d.DetectedAt.UTC(), d.Location).Scan(&d.ID)
}

// FindLatestOrder returns the most recent order for the exact plate.
func (m OrderModel) FindLatestOrder(ctx context.Context, plate string) (*Order, error) {
	query := `
		SELECT id, customer, menu, qty, car_plate, ordered_at, serviced
		FROM orders
		WHERE car_plate = $1
		ORDER BY id DESC
		LIMIT 1`

	var o Order
	err := m.DB.QueryRowContext(ctx, query, plate).Scan(
		&o.ID, &o.Customer, &o.Menu, &o.Qty, &o.CarPlate, &o.OrderedAt, &o.Serviced,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (m OrderModel) SetServiced(ctx context.Context, orderID int64, serviced bool) error {
	query := `UPDATE orders SET serviced = $1, updated_at = NOW() WHERE id = $2`

	res, err := m.DB.ExecContext(ctx, query, serviced, orderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m OrderModel) CreateOrder(ctx context.Context, o *Order) error {
	if o.OrderedAt.IsZero() {
		o.OrderedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO orders (customer, menu, qty, car_plate, ordered_at, serviced)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return m.DB.QueryRowContext(ctx, query,
		o.Customer, o.Menu, o.Qty, o.CarPlate, o.OrderedAt.UTC(), o.Serviced,
	).Scan(&o.ID)
}
