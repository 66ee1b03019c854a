package storage

import (
	"strings"

	"github.com/cockroachdb/errors"

	logx "remindd/pkg/logx"
)

// Open initializes the configured driver. An empty driver means "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.Newf("unknown storage driver: %s", cfg.Driver)
	}
}
