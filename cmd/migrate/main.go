package main

import (
	"errors"
	"flag"
	"fmt"
	"strconv"

	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/shared/config"
	"github.com/MuhamadAgungGumelar/license-plate-ocr-be/internal/shared/utils"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
)

func main() {
	var module string
	var command string

	flag.StringVar(&module, "module", "plates", "Migration set under migrations/")
	flag.StringVar(&command, "cmd", "up", "Migration command (up, down, version, force)")
	flag.Parse()

	cfg := config.LoadConfig()
	utils.InitLogger(cfg.LogLevel)

	if cfg.DatabaseDriver != "postgres" {
		log.Fatal().Str("driver", cfg.DatabaseDriver).Msg("❌ Migrations only run against postgres (sqlite creates its schema on startup)")
	}

	migrationPath := fmt.Sprintf("file://migrations/%s", module)

	log.Info().Str("module", module).Msg("🔄 Running migrations")
	log.Info().Str("path", migrationPath).Msg("📂 Migration path")
	log.Info().Str("database", maskDatabaseURL(cfg.DatabaseURL)).Msg("💾 Database")

	m, err := migrate.New(migrationPath, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to create migrate instance")
	}
	defer m.Close()

	switch command {
	case "up":
		log.Info().Msg("⬆️  Running UP migrations...")
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("❌ Migration UP failed")
		}
		log.Info().Msg("✅ Migrations UP completed!")

	case "down":
		log.Info().Msg("⬇️  Running DOWN migrations...")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("❌ Migration DOWN failed")
		}
		log.Info().Msg("✅ Migrations DOWN completed!")

	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.Fatal().Err(err).Msg("❌ Failed to get version")
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("📌 Current version")

	case "force":
		if flag.NArg() < 1 {
			log.Fatal().Msg("❌ Please provide version number for force command")
		}
		forceVersion, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			log.Fatal().Err(err).Str("arg", flag.Arg(0)).Msg("❌ Invalid version number")
		}
		if err := m.Force(forceVersion); err != nil {
			log.Fatal().Err(err).Msg("❌ Force failed")
		}
		log.Info().Int("version", forceVersion).Msg("✅ Forced version")

	default:
		log.Fatal().Str("cmd", command).Msg("❌ Unknown command (use: up, down, version, force)")
	}
}

// maskDatabaseURL hides password in database URL for logging
func maskDatabaseURL(url string) string {
	if len(url) < 20 {
		return "***"
	}
	return url[:20] + "***" + url[len(url)-10:]
}
