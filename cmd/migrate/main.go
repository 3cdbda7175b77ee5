package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/snaplate/snaplate/internal/core"
	"github.com/snaplate/snaplate/internal/history"
)

func getConfigPath() string {
	// First check if config path is provided via environment variable
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}

	// Default to config.yaml in current working directory
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return filepath.Join(cwd, "config.yaml")
}

// getMigrationStore wires the store the tool drives. The destination is
// always the structured engine, constructed directly: the HISTORY_BACKEND
// override selects the serving engine, never the migration target.
func getMigrationStore(config *core.ServiceConfig) *history.Store {
	engine := history.NewSQLiteEngine(config.History.SQLite.Path)
	legacy := history.NewLegacyStore(history.RedisOptions{
		Addr:      config.History.Redis.Addr,
		Password:  config.History.Redis.Password,
		DB:        config.History.Redis.DB,
		KeyPrefix: config.History.Redis.KeyPrefix,
	})
	return history.NewStore(engine, legacy)
}

// Runs the legacy history migration once and exits. The server performs the
// same migration at startup; this tool exists for moving data ahead of a
// deployment or for retrying after a failed attempt.
func main() {
	configPath := getConfigPath()
	config, err := core.LoadConfig(configPath)
	if err != nil {
		log.Printf("failed to load config from %s: %v", configPath, err)
		panic(err)
	}

	if config.History.Redis.Addr == "" {
		log.Printf("no legacy redis source configured, nothing to migrate")
		return
	}

	store := getMigrationStore(config)
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("failed to close store: %v", err)
		}
	}()

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Printf("failed to open history store: %v", err)
		panic(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Printf("migration failed: %v", err)
		panic(err)
	}
	log.Printf("migration complete")
}
