package cnst

const (
	// AppName is the binary and config name
	AppName = "evalcoach"
	// StartPosition is the standard chess starting position
	StartPosition = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
)

// CacheType selects the position cache backend
type CacheType string

const (
	CacheMemory   CacheType = "memory"
	CacheRedis    CacheType = "redis"
	CacheBadger   CacheType = "badger"
	CacheDatabase CacheType = "db"
)

func (t CacheType) String() string {
	return string(t)
}
