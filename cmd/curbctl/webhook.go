package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/technosupport/ts-curbside/internal/notify"
)

const webhookName = "curbside-card-actions"

func newWebhookCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Webex attachmentActions webhook",
	}

	var targetURL, secret string
	subscribe := &cobra.Command{
		Use:   "subscribe",
		Short: "Register the card action webhook for the configured room",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cfg.Webex.RoomID == "" {
				return errors.New("webex room id is not configured")
			}
			if secret == "" {
				secret = cfg.Webex.WebhookSecret
			}
			hook, err := webexClient(opts).CreateWebhook(cmd.Context(), notify.WebhookRequest{
				Name:      webhookName,
				TargetURL: targetURL,
				Resource:  "attachmentActions",
				Event:     "created",
				Filter:    "roomId=" + cfg.Webex.RoomID,
				Secret:    secret,
			})
			if err != nil {
				return fmt.Errorf("create webhook: %w", err)
			}
			log.Info().Str("id", hook.ID).Str("target", hook.TargetURL).Msg("webhook registered")
			fmt.Fprintln(cmd.OutOrStdout(), hook.ID)
			return nil
		},
	}
	subscribe.Flags().StringVar(&targetURL, "target-url", "", "public URL of POST /card_action")
	subscribe.Flags().StringVar(&secret, "secret", "", "HMAC secret Webex signs deliveries with")
	subscribe.MarkFlagRequired("target-url")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			hooks, err := webexClient(opts).ListWebhooks(cmd.Context())
			if err != nil {
				return fmt.Errorf("list webhooks: %w", err)
			}
			for _, h := range hooks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s/%s\t%s\t%s\n", h.ID, h.Name, h.Resource, h.Event, h.Status, h.TargetURL)
			}
			return nil
		},
	}

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every registered webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := webexClient(opts)
			hooks, err := client.ListWebhooks(cmd.Context())
			if err != nil {
				return fmt.Errorf("list webhooks: %w", err)
			}
			var errs []error
			for _, h := range hooks {
				if err := client.DeleteWebhook(cmd.Context(), h.ID); err != nil {
					errs = append(errs, fmt.Errorf("delete %s: %w", h.ID, err))
					continue
				}
				log.Info().Str("id", h.ID).Msg("webhook deleted")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d of %d webhooks\n", len(hooks)-len(errs), len(hooks))
			return errors.Join(errs...)
		},
	}

	cmd.AddCommand(subscribe, list, purge)
	return cmd
}

func webexClient(opts *rootOptions) *notify.WebexClient {
	return notify.NewWebexClient(opts.cfg.Webex.BaseURL, opts.cfg.Webex.Token)
}
