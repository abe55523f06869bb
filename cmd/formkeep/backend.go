package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/rpattn/formkeep/internal/autosave"
	"github.com/rpattn/formkeep/internal/config"
	"github.com/rpattn/formkeep/internal/db"
	"github.com/rpattn/formkeep/internal/repository"
)

// backend bundles the configured store and history index with their cleanup.
type backend struct {
	store   repository.FormStore
	history repository.HistoryIndex
	close   func()
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.RunMigrations(cfg.Database); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		history := repository.NewPGHistoryIndex(conn.Pool)
		store, err := repository.NewPGFormStore(conn, history, repository.WithAtomicHistory(cfg.Storage.AtomicHistory))
		if err != nil {
			conn.Close()
			return nil, err
		}
		log.Printf("[STORE] using postgres backend %s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)
		return &backend{store: store, history: history, close: conn.Close}, nil

	case config.BackendFilesystem:
		dir := filepath.Clean(cfg.Storage.Dir)
		history, err := repository.NewFileHistoryIndex(filepath.Join(dir, "history.json"))
		if err != nil {
			return nil, err
		}
		store, err := repository.NewFSFormStore(dir, history)
		if err != nil {
			return nil, err
		}
		log.Printf("[STORE] using filesystem backend at %s", dir)
		return &backend{store: store, history: history, close: func() {}}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func loadBackend(ctx context.Context) (config.Config, *backend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("failed to load config: %w", err)
	}
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, b, nil
}

func timingsFrom(cfg config.AutosaveConfig) autosave.Timings {
	return autosave.Timings{
		AutoSaveDelay:     config.Duration(cfg.DelayMS),
		PollInterval:      config.Duration(cfg.PollIntervalMS),
		InFlightWait:      config.Duration(cfg.InFlightWaitMS),
		SubmitRace:        config.Duration(cfg.SubmitRaceMS),
		SubmitCeiling:     config.Duration(cfg.SubmitCeilingMS),
		NotificationGrace: config.Duration(cfg.SubmitGraceMS),
	}
}
