package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Redis    RedisConfig    `yaml:"redis"`
	Rotation RotationConfig `yaml:"rotation"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

// RedisConfig for optional async rotation job queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RotationConfig holds the rotation engine policy knobs.
type RotationConfig struct {
	GracePeriodDays     int     `yaml:"grace_period_days"`     // days after due date before a contribution is overdue
	CompletionThreshold float64 `yaml:"completion_threshold"`  // percent of paid contributions required to process a cycle
	DelayMinutes        int     `yaml:"delay_minutes"`         // delay between full collection and automatic rotation
	RetryBackoffMinutes int     `yaml:"retry_backoff_minutes"` // backoff between rotation job attempts
	MaxAttempts         int     `yaml:"max_attempts"`          // rotation job attempts before terminal failure
	DueDateOffsetDays   int     `yaml:"due_date_offset_days"`  // contribution due date offset from cycle start
	SkipWeekends        bool    `yaml:"skip_weekends"`         // roll schedule dates falling on weekends to the next workday
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, err
		}
		cfg = &fileCfg
	}

	cfg.applyRotationDefaults()
	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "rotapool.db",
		},
		JWT: JWTConfig{
			Secret:     "rotapool-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Rotation: RotationConfig{
			GracePeriodDays:     3,
			CompletionThreshold: 90,
			DelayMinutes:        5,
			RetryBackoffMinutes: 10,
			MaxAttempts:         3,
			DueDateOffsetDays:   7,
			SkipWeekends:        false,
		},
	}
}

// applyRotationDefaults fills zero-valued rotation settings so a partial
// config file cannot silently disable the engine's safety thresholds.
func (c *Config) applyRotationDefaults() {
	def := DefaultConfig().Rotation
	if c.Rotation.GracePeriodDays <= 0 {
		c.Rotation.GracePeriodDays = def.GracePeriodDays
	}
	if c.Rotation.CompletionThreshold <= 0 {
		c.Rotation.CompletionThreshold = def.CompletionThreshold
	}
	if c.Rotation.DelayMinutes <= 0 {
		c.Rotation.DelayMinutes = def.DelayMinutes
	}
	if c.Rotation.RetryBackoffMinutes <= 0 {
		c.Rotation.RetryBackoffMinutes = def.RetryBackoffMinutes
	}
	if c.Rotation.MaxAttempts <= 0 {
		c.Rotation.MaxAttempts = def.MaxAttempts
	}
	if c.Rotation.DueDateOffsetDays <= 0 {
		c.Rotation.DueDateOffsetDays = def.DueDateOffsetDays
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if threshold := os.Getenv("ROTATION_COMPLETION_THRESHOLD"); threshold != "" {
		if v, err := strconv.ParseFloat(threshold, 64); err == nil && v > 0 {
			c.Rotation.CompletionThreshold = v
		}
	}
	if grace := os.Getenv("ROTATION_GRACE_PERIOD_DAYS"); grace != "" {
		if v, err := strconv.Atoi(grace); err == nil && v > 0 {
			c.Rotation.GracePeriodDays = v
		}
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	// Remaining is host:port
	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
