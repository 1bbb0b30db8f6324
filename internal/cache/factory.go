package cache

import (
	"fmt"

	"github.com/amoylab/evalcoach/internal/common/cnst"
	"github.com/amoylab/evalcoach/internal/common/config"
	"go.uber.org/zap"
)

// NewStore creates the backend selected by cfg.Type.
func NewStore(logger *zap.Logger, cfg config.CacheConfig) (Store, error) {
	switch cnst.CacheType(cfg.Type) {
	case cnst.CacheMemory, "":
		return NewMemoryStore(logger, cfg.MaxEntries), nil
	case cnst.CacheRedis:
		return NewRedisStore(logger, cfg.Redis)
	case cnst.CacheBadger:
		return NewBadgerStore(logger, cfg.Badger)
	case cnst.CacheDatabase:
		return NewDBStore(logger, cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
