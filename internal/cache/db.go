package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amoylab/evalcoach/internal/common/config"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Analysis is the database row of a cached analysis.
type Analysis struct {
	Digest    string    `gorm:"primaryKey;size:64"`
	CacheKey  string    `gorm:"column:cache_key;type:text;not null"`
	Depth     int       `gorm:"not null"`
	Lines     string    `gorm:"type:text;not null"`
	StoredAt  time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName pins the table name.
func (Analysis) TableName() string { return "analysis_cache" }

// digest bounds the primary key length; move lists make raw keys unbounded.
func digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// DBStore keeps entries in a SQL database through gorm.
type DBStore struct {
	logger *zap.Logger
	db     *gorm.DB
}

var _ Store = (*DBStore)(nil)

// NewDBStore opens the configured database and migrates the cache table.
func NewDBStore(log *zap.Logger, cfg config.DatabaseConfig) (*DBStore, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	case "mysql":
		dialector = mysql.Open(cfg.GetDSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database type: %q", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	return newDBStore(log, db)
}

func newDBStore(log *zap.Logger, db *gorm.DB) (*DBStore, error) {
	if err := db.AutoMigrate(&Analysis{}); err != nil {
		return nil, err
	}
	return &DBStore{logger: log.Named("cache.store.db"), db: db}, nil
}

// Get implements Store.Get
func (s *DBStore) Get(ctx context.Context, key string) (*Entry, error) {
	var row Analysis
	err := s.db.WithContext(ctx).Where("digest = ?", digest(key)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e := &Entry{Depth: row.Depth, StoredAt: row.StoredAt}
	if err := json.Unmarshal([]byte(row.Lines), &e.Lines); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return e, nil
}

// Set implements Store.Set as an upsert.
func (s *DBStore) Set(ctx context.Context, key string, e *Entry) error {
	data, err := json.Marshal(e.Lines)
	if err != nil {
		return err
	}
	row := Analysis{Digest: digest(key), CacheKey: key, Depth: e.Depth, Lines: string(data), StoredAt: e.StoredAt}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "digest"}},
		DoUpdates: clause.AssignmentColumns([]string{"depth", "lines", "stored_at", "updated_at"}),
	}).Create(&row).Error
}

// Upgrade implements Store.Upgrade. The row is inserted if missing, otherwise
// replaced by a single UPDATE guarded on depth, so each statement decides and
// writes atomically on every supported database.
func (s *DBStore) Upgrade(ctx context.Context, key string, e *Entry) (bool, error) {
	data, err := json.Marshal(e.Lines)
	if err != nil {
		return false, err
	}
	d := digest(key)
	row := Analysis{Digest: d, CacheKey: key, Depth: e.Depth, Lines: string(data), StoredAt: e.StoredAt}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	res = s.db.WithContext(ctx).Model(&Analysis{}).
		Where("digest = ? AND depth <= ?", d, e.Depth).
		Updates(map[string]any{"depth": e.Depth, "lines": string(data), "stored_at": e.StoredAt})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Clear implements Store.Clear
func (s *DBStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Analysis{}).Error
}

// Close implements Store.Close
func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
