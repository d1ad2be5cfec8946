package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-curbside/internal/api"
	"github.com/technosupport/ts-curbside/internal/config"
	"github.com/technosupport/ts-curbside/internal/data"
	"github.com/technosupport/ts-curbside/internal/events"
	"github.com/technosupport/ts-curbside/internal/guard"
	"github.com/technosupport/ts-curbside/internal/logging"
	"github.com/technosupport/ts-curbside/internal/notify"
	"github.com/technosupport/ts-curbside/internal/pipeline"
	"github.com/technosupport/ts-curbside/internal/ratelimit"
	"github.com/technosupport/ts-curbside/internal/recognition"
	"github.com/technosupport/ts-curbside/internal/snapshot"
	"github.com/technosupport/ts-curbside/internal/tokens"
)

const dedupCapacity = 1024

func main() {
	configPath := flag.String("config", "config/default.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init("info", "json")
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	holder := config.NewHolder(cfg)
	go func() {
		if err := config.Watch(ctx, *configPath, holder); err != nil {
			log.Warn().Err(err).Msg("config watcher disabled")
		}
	}()

	checks := map[string]api.CheckFunc{}

	// 1. Order store
	var store data.OrderStore
	switch cfg.Store.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open database")
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("database unreachable")
		}
		db.SetMaxOpenConns(5)
		store = &data.OrderModel{DB: db}
		checks["store"] = db.PingContext
	case "rest":
		store = data.NewRESTStore(data.RESTConfig{
			BaseURL:        cfg.Store.BaseURL,
			QueryStyle:     cfg.Store.QueryStyle,
			OrdersPath:     cfg.Store.OrdersPath,
			DetectionsPath: cfg.Store.DetectionsPath,
			Timeout:        cfg.Store.Timeout,
		})
	}
	log.Info().Str("driver", cfg.Store.Driver).Msg("order store ready")

	// 2. Recognition
	var provider recognition.Provider
	switch cfg.Recognition.Provider {
	case "gemini":
		gp, err := recognition.NewGeminiProvider(ctx, cfg.Recognition.GeminiAPIKey, cfg.Recognition.GeminiModel)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init gemini provider")
		}
		provider = gp
	default:
		vp, err := recognition.NewVisionProvider(ctx, cfg.Recognition.CredentialsFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init vision provider")
		}
		defer vp.Close()
		provider = vp
	}

	// 3. Snapshots
	var snaps snapshot.Provider
	if cfg.Snapshot.StaticURL != "" {
		snaps = snapshot.StaticProvider{URL: cfg.Snapshot.StaticURL}
		log.Warn().Str("url", cfg.Snapshot.StaticURL).Msg("using static snapshot image")
	} else {
		snaps = snapshot.NewMerakiClient(cfg.Snapshot.BaseURL, cfg.Snapshot.APIKey, cfg.Snapshot.Timeout)
	}
	acquirer := snapshot.NewAcquirer(snaps, snapshot.AcquirerConfig{
		Polls:     cfg.Snapshot.Polls,
		PollDelay: cfg.Snapshot.PollDelay,
	})

	// 4. Guard and rate limiting
	var (
		g       guard.Guard = guard.NewLocal()
		limiter *ratelimit.Limiter
	)
	if cfg.Guard.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Guard.RedisAddr})
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		limiter = ratelimit.NewLimiter(rdb, "curbside:rl", rateLimitKey(cfg))
		if cfg.Guard.Backend == "redis" {
			g = guard.NewRedisFunc(rdb, cfg.Guard.Key, func() time.Duration { return holder.Load().LeaseTTL() })
		}
	} else if cfg.Guard.Backend == "redis" {
		log.Fatal().Msg("guard.backend redis requires REDIS_ADDR")
	}
	log.Info().Str("backend", cfg.Guard.Backend).Dur("lease_ttl", cfg.LeaseTTL()).Msg("admission guard ready")

	// 5. Run events
	hub := events.NewHub()
	publishers := events.Multi{hub}
	if cfg.Events.NATSURL != "" {
		nc, err := nats.Connect(cfg.Events.NATSURL, nats.Name("curbside"), nats.MaxReconnects(-1))
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, run events stay local")
		} else {
			defer nc.Drain()
			publishers = append(publishers, events.NewNATSPublisher(nc, cfg.Events.Subject, cfg.Events.MaxRetries))
			checks["nats"] = func(context.Context) error {
				if !nc.IsConnected() {
					return errors.New(nc.Status().String())
				}
				return nil
			}
		}
	}

	// 6. Notifications
	webex := notify.NewWebexClient(cfg.Webex.BaseURL, cfg.Webex.Token)
	var signer *tokens.Manager
	if cfg.Webex.CardSigningKey != "" {
		signer = tokens.NewManager(cfg.Webex.CardSigningKey)
	}
	composerCfg := notify.ComposerConfig{
		RoomID:    cfg.Webex.RoomID,
		Format:    cfg.Webex.Format,
		ManualURL: cfg.Store.ManualURL,
	}
	if signer != nil {
		composerCfg.Issuer = signer
	}
	composer := notify.NewComposer(webex, composerCfg)

	// 7. Pipeline
	// Runs survive client hang-ups; they are cancelled only when the shutdown grace runs out.
	runs, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	p := pipeline.New(pipeline.Deps{
		Lifetime:   runs,
		Guard:      g,
		Settings:   pipeline.SettingsFunc(func() pipeline.Settings { return settingsFrom(holder.Load()) }),
		Snapshots:  acquirer,
		Classifier: recognition.NewClassifier(provider),
		Recognizer: recognition.NewRecognizer(provider),
		Correlator: data.NewCorrelator(store),
		Notifier:   composer,
		Publisher:  publishers,
		Dedup:      events.NewDedup(dedupCapacity, cfg.Pipeline.DedupWindow),
	})

	// 8. HTTP
	cards := &api.CardActionHandler{Orders: store, Actions: webex, WebhookSecret: cfg.Webex.WebhookSecret}
	if signer != nil {
		cards.Tokens = signer
	}
	routerCfg := api.RouterConfig{
		Alerts:         api.NewAlertHandler(p),
		Cards:          cards,
		Feed:           api.NewFeedHandler(hub),
		Health:         api.NewHealthHandler(checks),
		CardLimit:      ratelimit.LimitConfig{Rate: cfg.Server.CardActionLimit.Rate, Window: cfg.Server.CardActionLimit.Window},
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	if limiter != nil {
		routerCfg.Limiter = limiter
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("curbside listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	// An in-flight run gets its lease TTL to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), holder.Load().LeaseTTL())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error, aborting in-flight run")
		cancelRuns()
		closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelClose()
		server.Shutdown(closeCtx)
	}
	log.Info().Msg("curbside stopped")
}

// rateLimitKey keys the IP hashes. It must not be the alert secret. Without a card
// signing key each process gets a random one.
func rateLimitKey(cfg *config.Config) string {
	if cfg.Webex.CardSigningKey != "" {
		return "ratelimit:" + cfg.Webex.CardSigningKey
	}
	return uuid.NewString()
}

func settingsFrom(c *config.Config) pipeline.Settings {
	return pipeline.Settings{
		SharedSecret: c.Alert.SharedSecret,
		AlertType:    c.Alert.AlertType,
		SettleDelay:  c.Pipeline.SettleDelay,
		Interval:     c.Pipeline.Interval,
		MaxAttempts:  c.Pipeline.MaxAttempts,
		Labels:       c.Pipeline.Labels,
	}
}
