package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/xxxsen/kbchat/internal/ai"
)

const envPrefix = "KBCHAT"

type Config struct {
	Region          string              `mapstructure:"region"`
	AccountID       string              `mapstructure:"account_id"`
	KnowledgeBaseID string              `mapstructure:"knowledge_base_id"`
	DefaultModel    string              `mapstructure:"default_model"`
	Models          []ai.ModelEntry     `mapstructure:"models"`
	Port            int                 `mapstructure:"port"`
	RateLimitMs     int64               `mapstructure:"rate_limit_ms"`
	LogConfig       LogConfig           `mapstructure:"log_config"`
	Database        DatabaseConfig      `mapstructure:"database"`
	FileStore       FileStoreConfig     `mapstructure:"file_store"`
	Reaper          ReaperConfig        `mapstructure:"reaper"`
	DataSourceCache DataSourceCacheConf `mapstructure:"data_source_cache"`
}

type LogConfig struct {
	File      string `mapstructure:"file"`
	Level     string `mapstructure:"level"`
	FileCount int    `mapstructure:"file_count"`
	FileSize  int    `mapstructure:"file_size"`
	KeepDays  int    `mapstructure:"keep_days"`
	Console   bool   `mapstructure:"console"`
}

// DatabaseConfig points at the audit store. SecretName wins over the inline
// connection fields when set.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	SecretName string `mapstructure:"secret_name"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbname"`
	SSLMode    string `mapstructure:"sslmode"`
}

type FileStoreConfig struct {
	Type string `mapstructure:"type"`
	Dir  string `mapstructure:"dir"`
}

type ReaperConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Spec          string `mapstructure:"spec"`
	MaxAgeSeconds int64  `mapstructure:"max_age_seconds"`
}

type DataSourceCacheConf struct {
	Size       int   `mapstructure:"size"`
	TTLSeconds int64 `mapstructure:"ttl_seconds"`
}

// Load reads an optional JSON file, then applies KBCHAT_* environment
// overrides (KBCHAT_DATABASE_SECRET_NAME and so on).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("region", "eu-west-1")
	v.SetDefault("account_id", "")
	v.SetDefault("knowledge_base_id", "")
	v.SetDefault("default_model", ai.ModelClaudeSonnet4)
	v.SetDefault("port", 8080)
	v.SetDefault("rate_limit_ms", 0)

	v.SetDefault("log_config.file", "")
	v.SetDefault("log_config.level", "info")
	v.SetDefault("log_config.file_count", 5)
	v.SetDefault("log_config.file_size", 100)
	v.SetDefault("log_config.keep_days", 7)
	v.SetDefault("log_config.console", true)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.secret_name", "rag-query-logs-db-credentials")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "")
	v.SetDefault("database.sslmode", "")

	v.SetDefault("file_store.type", "s3")
	v.SetDefault("file_store.dir", "")

	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.spec", "*/10 * * * *")
	v.SetDefault("reaper.max_age_seconds", 900)

	v.SetDefault("data_source_cache.size", 64)
	v.SetDefault("data_source_cache.ttl_seconds", 300)
}

func (c *Config) normalize() error {
	c.Region = strings.TrimSpace(c.Region)
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if len(c.Models) == 0 {
		c.Models = ai.DefaultModels(c.Region, c.AccountID)
	}
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive")
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres, mysql or sqlite")
	}
	if c.Database.DSN == "" && c.Database.SecretName == "" && c.Database.Host == "" {
		return fmt.Errorf("database.dsn, database.secret_name or database.host is required")
	}
	c.FileStore.Type = strings.ToLower(strings.TrimSpace(c.FileStore.Type))
	switch c.FileStore.Type {
	case "s3":
	case "local":
		if c.FileStore.Dir == "" {
			return fmt.Errorf("file_store.dir is required for local store")
		}
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	if c.Reaper.MaxAgeSeconds <= 0 {
		c.Reaper.MaxAgeSeconds = 900
	}
	if c.DataSourceCache.Size <= 0 {
		c.DataSourceCache.Size = 64
	}
	return nil
}
