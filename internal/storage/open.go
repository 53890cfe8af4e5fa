package storage

import (
	"fmt"
	"strings"

	"nelculobot/pkg/logx"
)

// Open initializes the configured subscriber store. An empty driver means "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "file"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	var (
		be  backend
		err error
	)
	switch driver {
	case "file":
		be, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		driver = "sqlite"
		be, err = openSQLite(cfg, log)
	case "redis":
		be, err = openRedis(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", driver, err)
	}
	log.Info("subscriber store opened", logx.String("driver", driver), logx.String("path", cfg.Path))
	return newSetStore(driver, be, log), nil
}
