package app

import (
	"fmt"
	"strings"
	"time"

	"folibot/internal/config"
	"folibot/internal/storage"
	logx "folibot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "sqlite", Path: config.DefaultStoragePath, BusyTimeout: time.Second}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// OpenStore opens the store configured in cfg. Used by the CLI as well.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log)
}
