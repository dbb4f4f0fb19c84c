package cli

import (
	"fmt"
	"log/slog"

	"github.com/c0deZ3R0/go-optimistic-kit/audit"
	"github.com/c0deZ3R0/go-optimistic-kit/config"
	"github.com/c0deZ3R0/go-optimistic-kit/storage/postgres"
	"github.com/c0deZ3R0/go-optimistic-kit/storage/sqlite"
)

// openJournal opens the resolution journal selected by cfg.Driver.
func openJournal(cfg config.AuditConfig, logger *slog.Logger) (audit.Journal, error) {
	switch cfg.Driver {
	case "", "memory":
		return audit.NewMemoryJournal(), nil
	case "sqlite":
		c := sqlite.DefaultConfig(cfg.DSN)
		c.Logger = logger
		j, err := sqlite.New(c)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "postgres":
		c := postgres.DefaultConfig(cfg.DSN)
		c.Logger = logger
		j, err := postgres.New(c)
		if err != nil {
			return nil, err
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}
