package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/amoylab/evalcoach/internal/common/cnst"
	"github.com/amoylab/evalcoach/pkg/helper"
	"github.com/amoylab/evalcoach/pkg/trace"

	"github.com/ifuryst/lol"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// AnalyzerConfig is the top level configuration of the analysis service
	AnalyzerConfig struct {
		Server      ServerConfig      `yaml:"server"`
		PID         string            `yaml:"pid"`
		Logger      LoggerConfig      `yaml:"logger"`
		Engine      EngineConfig      `yaml:"engine"`
		Pool        PoolConfig        `yaml:"pool"`
		Session     SessionConfig     `yaml:"session"`
		Cache       CacheConfig       `yaml:"cache"`
		Coordinator CoordinatorConfig `yaml:"coordinator"`
		Metrics     MetricsConfig     `yaml:"metrics"`
		Tracing     trace.Config      `yaml:"tracing"`
		I18n        I18nConfig        `yaml:"i18n"`
		DevMode     bool              `yaml:"dev_mode"` // exposes raw failure detail to clients
	}

	// ServerConfig represents the HTTP listener configuration
	ServerConfig struct {
		Port            int           `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		CORS            *CORSConfig   `yaml:"cors,omitempty"`
	}

	// CORSConfig represents the CORS configuration
	CORSConfig struct {
		AllowOrigins     []string `yaml:"allow_origins"`
		AllowMethods     []string `yaml:"allow_methods"`
		AllowHeaders     []string `yaml:"allow_headers"`
		ExposeHeaders    []string `yaml:"expose_headers"`
		AllowCredentials bool     `yaml:"allow_credentials"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}

	// EngineConfig describes how to launch an engine process
	EngineConfig struct {
		Path    string            `yaml:"path"`
		Args    []string          `yaml:"args"`
		Env     map[string]string `yaml:"env"`
		Options map[string]string `yaml:"options"` // setoption pairs sent after the handshake, e.g. Threads, Hash
		// QuitTimeout bounds how long a process gets to exit after "quit" before it is killed
		QuitTimeout time.Duration `yaml:"quit_timeout"`
	}

	// PoolConfig represents the worker pool configuration
	PoolConfig struct {
		MaxWorkers           int           `yaml:"max_workers"`
		HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
		HandshakeRetries     int           `yaml:"handshake_retries"`
		RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
		RetryMaxInterval     time.Duration `yaml:"retry_max_interval"`
		AcquireTimeout       time.Duration `yaml:"acquire_timeout"` // 0 waits until the caller gives up
		IdleTimeout          time.Duration `yaml:"idle_timeout"`
		SweepInterval        time.Duration `yaml:"sweep_interval"`
	}

	// SessionConfig represents the analysis session configuration
	SessionConfig struct {
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ProgressTimeout time.Duration `yaml:"progress_timeout"`
		StopTimeout     time.Duration `yaml:"stop_timeout"`
		DefaultDepth    int           `yaml:"default_depth"`
		MaxDepth        int           `yaml:"max_depth"`
		DefaultLines    int           `yaml:"default_lines"`
		MaxLines        int           `yaml:"max_lines"`
	}

	// CacheConfig represents the position cache configuration
	CacheConfig struct {
		Type       string         `yaml:"type"` // memory, redis, badger or db
		MinDepth   int            `yaml:"min_depth"`
		MaxEntries int            `yaml:"max_entries"` // memory only, 0 is unbounded
		Redis      RedisConfig    `yaml:"redis"`
		Badger     BadgerConfig   `yaml:"badger"`
		Database   DatabaseConfig `yaml:"database"`
	}

	// RedisConfig represents the Redis configuration for the cache
	RedisConfig struct {
		Addr     string        `yaml:"addr"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"` // 0 keeps entries until cleared
		Compress bool          `yaml:"compress"`
	}

	// BadgerConfig represents the embedded badger store configuration
	BadgerConfig struct {
		Path     string `yaml:"path"`
		InMemory bool   `yaml:"in_memory"`
		Compress bool   `yaml:"compress"`
	}

	// CoordinatorConfig represents the client-facing request coordinator configuration
	CoordinatorConfig struct {
		Debounce time.Duration `yaml:"debounce"`
		Buffer   int           `yaml:"buffer"` // per-watcher update buffer
	}

	// MetricsConfig represents the prometheus metrics configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Path      string    `yaml:"path"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// I18nConfig represents the internationalization configuration
	I18nConfig struct {
		Path        string `yaml:"path"` // optional directory overriding the builtin translations
		DefaultLang string `yaml:"default_lang"`
	}
)

type Type interface {
	AnalyzerConfig
}

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig[T Type](filename string) (*T, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	data = resolveEnv(data)
	var cfg T
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	if c, ok := any(&cfg).(*AnalyzerConfig); ok {
		c.SetDefaults()
		if err := c.Validate(); err != nil {
			return nil, cfgPath, err
		}
	}

	return &cfg, cfgPath, nil
}

// Default returns a configuration with every default applied.
func Default() *AnalyzerConfig {
	cfg := &AnalyzerConfig{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values with their defaults.
func (c *AnalyzerConfig) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5236
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.PID == "" {
		c.PID = "/var/run/evalcoach.pid"
	}

	if c.Engine.Path == "" {
		c.Engine.Path = "stockfish"
	}
	if c.Engine.QuitTimeout <= 0 {
		c.Engine.QuitTimeout = time.Second
	}

	p := &c.Pool
	if p.MaxWorkers <= 0 {
		p.MaxWorkers = 3
	}
	if p.HandshakeTimeout <= 0 {
		p.HandshakeTimeout = 10 * time.Second
	}
	if p.HandshakeRetries <= 0 {
		p.HandshakeRetries = 3
	}
	if p.RetryInitialInterval <= 0 {
		p.RetryInitialInterval = 200 * time.Millisecond
	}
	if p.RetryMaxInterval <= 0 {
		p.RetryMaxInterval = 2 * time.Second
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = 5 * time.Minute
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = 30 * time.Second
	}

	s := &c.Session
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = 10 * time.Minute
	}
	if s.ProgressTimeout <= 0 {
		s.ProgressTimeout = 30 * time.Second
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = 2 * time.Second
	}
	if s.DefaultDepth <= 0 {
		s.DefaultDepth = 20
	}
	if s.MaxDepth <= 0 {
		s.MaxDepth = 40
	}
	if s.DefaultLines <= 0 {
		s.DefaultLines = 3
	}
	if s.MaxLines <= 0 {
		s.MaxLines = 5
	}

	if c.Cache.Type == "" {
		c.Cache.Type = cnst.CacheMemory.String()
	}
	if c.Cache.MinDepth <= 0 {
		c.Cache.MinDepth = 12
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "evalcoach:cache:"
	}

	if c.Coordinator.Debounce <= 0 {
		c.Coordinator.Debounce = 300 * time.Millisecond
	}
	if c.Coordinator.Buffer <= 0 {
		c.Coordinator.Buffer = 64
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = cnst.AppName
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = cnst.AppName
	}
	if c.I18n.DefaultLang == "" {
		c.I18n.DefaultLang = "en"
	}

	// env expansion often yields repeated origins
	if cors := c.Server.CORS; cors != nil {
		cors.AllowOrigins = lol.UniqSlice(cors.AllowOrigins)
		cors.AllowMethods = lol.UniqSlice(cors.AllowMethods)
		cors.AllowHeaders = lol.UniqSlice(cors.AllowHeaders)
		cors.ExposeHeaders = lol.UniqSlice(cors.ExposeHeaders)
	}
}

// Validate reports configuration values that cannot work together.
func (c *AnalyzerConfig) Validate() error {
	if c.Session.DefaultDepth > c.Session.MaxDepth {
		return fmt.Errorf("session.default_depth %d exceeds session.max_depth %d", c.Session.DefaultDepth, c.Session.MaxDepth)
	}
	if c.Session.DefaultLines > c.Session.MaxLines {
		return fmt.Errorf("session.default_lines %d exceeds session.max_lines %d", c.Session.DefaultLines, c.Session.MaxLines)
	}
	switch cnst.CacheType(c.Cache.Type) {
	case cnst.CacheMemory, cnst.CacheRedis, cnst.CacheBadger, cnst.CacheDatabase:
	default:
		return fmt.Errorf("unsupported cache type: %s", c.Cache.Type)
	}
	if c.Cache.Type == cnst.CacheBadger.String() && c.Cache.Badger.Path == "" && !c.Cache.Badger.InMemory {
		return fmt.Errorf("cache.badger.path is required unless in_memory is set")
	}
	if c.Cache.Type == cnst.CacheRedis.String() && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required")
	}
	return nil
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
