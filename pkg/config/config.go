package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig represents server configuration
type ServerConfig struct {
	Address  string         `yaml:"address"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AuthConfig represents token verification settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// TrustAll accepts any non-empty token; development only
	TrustAll bool `yaml:"trust_all"`
}

// DatabaseConfig represents primary store settings
type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite | mysql
	// Path is the database file for sqlite
	Path string `yaml:"path"`
	// DSN is the connection string for mysql
	DSN            string `yaml:"dsn"`
	MaxConnections int    `yaml:"max_connections"`
}

// RedisConfig represents the hot cache connection settings
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RealtimeConfig represents the presence/broadcast layer settings
type RealtimeConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SendBufferSize    int           `yaml:"send_buffer_size"`
	ReadDeadline      time.Duration `yaml:"read_deadline"`
	PingInterval      time.Duration `yaml:"ping_interval"`
}

// JobsConfig represents background job cadences
type JobsConfig struct {
	ScrapeInterval     time.Duration `yaml:"scrape_interval"`
	ReindexInterval    time.Duration `yaml:"reindex_interval"`
	PurgeHour          int           `yaml:"purge_hour"`
	RetentionDays      int           `yaml:"retention_days"`
	RecommendInterval  time.Duration `yaml:"recommend_interval"`
	RecommendBatchSize int           `yaml:"recommend_batch_size"`
	RecommendLimit     int           `yaml:"recommend_limit"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Address: ":8080",
		Auth: AuthConfig{
			TrustAll: true,
		},
		Database: DatabaseConfig{
			Type:           "sqlite",
			Path:           "./markethub.db",
			MaxConnections: 25,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: 30 * time.Second,
			SendBufferSize:    64,
			ReadDeadline:      90 * time.Second,
			PingInterval:      30 * time.Second,
		},
		Jobs: JobsConfig{
			ScrapeInterval:     6 * time.Hour,
			ReindexInterval:    2 * time.Hour,
			PurgeHour:          3,
			RetentionDays:      30,
			RecommendInterval:  time.Hour,
			RecommendBatchSize: 100,
			RecommendLimit:     10,
			ShutdownGrace:      15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*ServerConfig, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(path string, config *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, config)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(config *ServerConfig) {
	if addr := os.Getenv("MARKETHUB_ADDR"); addr != "" {
		config.Address = addr
	}

	if secret := os.Getenv("MARKETHUB_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
		config.Auth.TrustAll = false
	}

	if dbType := os.Getenv("MARKETHUB_DB_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}

	if dbPath := os.Getenv("MARKETHUB_DB_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}

	if dsn := os.Getenv("MARKETHUB_DB_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if addr := os.Getenv("MARKETHUB_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
		config.Redis.Enabled = true
	}

	if password := os.Getenv("MARKETHUB_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}

	if db := os.Getenv("MARKETHUB_REDIS_DB"); db != "" {
		if val, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = val
		}
	}

	if logLevel := os.Getenv("MARKETHUB_LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}

	if logFormat := os.Getenv("MARKETHUB_LOG_FORMAT"); logFormat != "" {
		config.Logging.Format = logFormat
	}
}

// Validate validates the configuration
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("sqlite database path cannot be empty")
		}
	case "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("mysql DSN cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if !c.Auth.TrustAll && c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret required unless trust_all is enabled")
	}

	if c.Realtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}

	if c.Realtime.SendBufferSize <= 0 {
		return fmt.Errorf("send buffer size must be positive")
	}

	if c.Jobs.PurgeHour < 0 || c.Jobs.PurgeHour > 23 {
		return fmt.Errorf("purge hour must be between 0 and 23")
	}

	if c.Jobs.RecommendBatchSize <= 0 {
		return fmt.Errorf("recommendation batch size must be positive")
	}

	return nil
}

// String returns a loggable summary without secrets
func (c *ServerConfig) String() string {
	return fmt.Sprintf("addr=%s db=%s redis=%v heartbeat=%s",
		c.Address, c.Database.Type, c.Redis.Enabled, c.Realtime.HeartbeatInterval)
}
