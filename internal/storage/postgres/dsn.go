package postgres

import (
	"fmt"

	"github.com/botpanel-dev/bot-panel-backend/config"
)

// DSN prefers an explicit DB_DSN and otherwise assembles one from parts.
func DSN(cfg *config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name,
	)
}
