// cmd/migrate/main.go
package main

import (
	"database/sql"
	"flag"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"slackcoach/internal/common/config"
	"slackcoach/internal/common/logger"
)

func main() {
	log := logger.New("info", "console")
	defer log.Sync()

	var (
		command = flag.String("command", "up", "Migration command (up, down, force)")
		source  = flag.String("source", "file://migrations", "Migration source URL")
		version = flag.Int("version", 1, "Version for the force command")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.Database.Postgres.GetDSN())
	if err != nil {
		log.Fatal("failed to open postgres", zap.Error(err))
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal("failed to create migration driver", zap.Error(err))
	}

	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		log.Fatal("failed to create migrator", zap.Error(err))
	}

	switch *command {
	case "up":
		log.Info("Applying migrations...")
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatal("failed to apply migrations", zap.Error(err))
		}
		log.Info("Migrations applied successfully")
	case "down":
		log.Info("Reverting migrations...")
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatal("failed to revert migrations", zap.Error(err))
		}
		log.Info("Migrations reverted successfully")
	case "force":
		log.Info("Forcing migration version...", zap.Int("version", *version))
		if err := m.Force(*version); err != nil {
			log.Fatal("failed to force migration version", zap.Error(err))
		}
		log.Info("Migration version forced successfully")
	default:
		log.Fatal("unknown command", zap.String("command", *command))
	}
}
