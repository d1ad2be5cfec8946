package main

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/technosupport/ts-curbside/internal/alerttime"
	"github.com/technosupport/ts-curbside/internal/data"
)

func newOrderCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Work with the order store",
	}

	var (
		o       data.Order
		orderAt string
	)
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Insert an order for a car plate",
		RunE: func(cmd *cobra.Command, args []string) error {
			o.CarPlate = strings.TrimSpace(o.CarPlate)
			if o.CarPlate == "" {
				return fmt.Errorf("--plate must not be empty")
			}
			if o.Qty <= 0 {
				return fmt.Errorf("--qty must be positive")
			}
			if orderAt != "" {
				t, err := alerttime.Parse(orderAt)
				if err != nil {
					return fmt.Errorf("--time: %w", err)
				}
				o.OrderedAt = t
			} else {
				o.OrderedAt = time.Now().UTC().Truncate(time.Second)
			}

			store, closeStore, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.CreateOrder(cmd.Context(), &o); err != nil {
				return fmt.Errorf("create order: %w", err)
			}
			log.Info().Int64("order_id", o.ID).Str("plate", o.CarPlate).Msg("order seeded")
			fmt.Fprintln(cmd.OutOrStdout(), o.ID)
			return nil
		},
	}
	seed.Flags().StringVar(&o.Customer, "customer", "", "customer name")
	seed.Flags().StringVar(&o.Menu, "menu", "", "ordered item")
	seed.Flags().IntVar(&o.Qty, "qty", 1, "quantity")
	seed.Flags().StringVar(&o.CarPlate, "plate", "", "car plate, as recognized")
	seed.Flags().StringVar(&orderAt, "time", "", "order time (RFC3339 or 2006-01-02T15:04:05, UTC)")
	seed.MarkFlagRequired("customer")
	seed.MarkFlagRequired("menu")
	seed.MarkFlagRequired("plate")

	cmd.AddCommand(seed)
	return cmd
}

func openStore(opts *rootOptions) (data.OrderStore, func(), error) {
	sc := opts.cfg.Store
	if sc.Driver == "rest" {
		return data.NewRESTStore(data.RESTConfig{
			BaseURL:        sc.BaseURL,
			QueryStyle:     sc.QueryStyle,
			OrdersPath:     sc.OrdersPath,
			DetectionsPath: sc.DetectionsPath,
			Timeout:        sc.Timeout,
		}), func() {}, nil
	}

	db, err := sql.Open("postgres", sc.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return data.OrderModel{DB: db}, func() { db.Close() }, nil
}
