package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-curbside/internal/logging"
)

func main() {
	upCmd := flag.Bool("up", false, "Run all up migrations")
	downCmd := flag.Bool("down", false, "Rollback all migrations")
	stepsCmd := flag.Int("steps", 0, "Run +/- steps")
	source := flag.String("path", "file://db/migrations", "Migration source URL")
	flag.Parse()

	_ = godotenv.Load()
	logging.Init(os.Getenv("LOG_LEVEL"), "console")

	// 1. Connection string: DATABASE_URL wins over the discrete vars
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		host := envOr("PG_HOST", "localhost")
		port := envOr("PG_PORT", "5432")
		sslmode := envOr("PG_SSLMODE", "disable")
		connStr = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			os.Getenv("PG_USER"), os.Getenv("PG_PASSWORD"), host, port, os.Getenv("PG_DATABASE"), sslmode)
	}

	// 2. Connect
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	// 3. Init Migrate
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrate driver")
	}
	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize migrate")
	}

	// 4. Run
	start := time.Now()
	switch {
	case *upCmd:
		log.Info().Msg("running UP migrations")
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("migration UP failed")
		}
	case *downCmd:
		log.Info().Msg("running DOWN migrations")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("migration DOWN failed")
		}
	case *stepsCmd != 0:
		log.Info().Int("steps", *stepsCmd).Msg("running migration steps")
		if err := m.Steps(*stepsCmd); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("migration steps failed")
		}
	default:
		version, dirty, err := m.Version()
		if err != nil {
			log.Info().Msg("no version found (empty db?). Use -up, -down, or -steps")
		} else {
			log.Info().Uint("version", version).Bool("dirty", dirty).Msg("current schema version")
		}
	}
	log.Info().Dur("duration", time.Since(start)).Msg("migrator finished")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
