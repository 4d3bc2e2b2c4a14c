package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.json"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Auth        AuthConfig                `json:"auth" yaml:"auth"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	Database      string `json:"database" yaml:"database"`
	StaticDir     string `json:"static_dir" yaml:"static_dir"`
	LogLevel      string `json:"log_level" yaml:"log_level"`
	// KeepAliveURL is pinged every KeepAliveInterval minutes when set.
	KeepAliveURL      string `json:"keepalive_url" yaml:"keepalive_url"`
	KeepAliveInterval int    `json:"keepalive_interval" yaml:"keepalive_interval"`
	// ThreadCacheTTL is in seconds.
	ThreadCacheTTL int `json:"thread_cache_ttl" yaml:"thread_cache_ttl"`
	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// AuthConfig holds the single operator credential. Leaving every field
// empty makes login fail with a configuration error.
type AuthConfig struct {
	Email    string `json:"email" yaml:"email"`
	Password string `json:"password" yaml:"password"`
	PIN      string `json:"pin" yaml:"pin"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:     ":4000",
			Database:          "sqlite3",
			LogLevel:          "info",
			KeepAliveInterval: 14,
			ThreadCacheTTL:    30,
			AllowedOrigins:    []string{"*"},
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "./data/messages.db"},
			"mysql": {
				Host:   "127.0.0.1",
				Port:   3306,
				DBName: "msgarchive",
				Params: "parseTime=true&charset=utf8mb4",
			},
		},
	}
}

// Load reads configuration from the provided path (defaults to config.json),
// then applies a .env file and environment overrides. A missing default file
// is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	explicit := path != ""
	if path == "" {
		path = defaultConfigFile
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		absPath = ""
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	applyEnv(cfg)

	if cfg.BasicConfig.Database == "" {
		cfg.BasicConfig.Database = "sqlite3"
	}
	if err := resolveSQLitePath(cfg, absPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.BasicConfig.ServerAddress = ":" + strings.TrimPrefix(v, ":")
	}
	if v := strings.TrimSpace(os.Getenv("MSGARCHIVE_DB")); v != "" {
		cfg.BasicConfig.Database = v
	}
	if v := strings.TrimSpace(os.Getenv("MSGARCHIVE_DSN")); v != "" {
		if cfg.Databases == nil {
			cfg.Databases = map[string]DatabaseConfig{}
		}
		db := cfg.Databases[cfg.BasicConfig.Database]
		db.DSN = v
		cfg.Databases[cfg.BasicConfig.Database] = db
	}
	if v := strings.TrimSpace(os.Getenv("MSGARCHIVE_LOG_LEVEL")); v != "" {
		cfg.BasicConfig.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("KEEPALIVE_URL")); v != "" {
		cfg.BasicConfig.KeepAliveURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		cfg.BasicConfig.AllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("ADMIN_EMAIL"); ok {
		cfg.Auth.Email = v
	}
	if v, ok := os.LookupEnv("ADMIN_PASSWORD"); ok {
		cfg.Auth.Password = v
	}
	if v, ok := os.LookupEnv("ADMIN_PIN"); ok {
		cfg.Auth.PIN = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		host, portStr, err := net.SplitHostPort(v)
		if err == nil {
			cfg.Redis.Enabled = true
			cfg.Redis.Host = host
			if port, err := strconv.Atoi(portStr); err == nil {
				cfg.Redis.Port = port
			}
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveSQLitePath makes relative sqlite paths relative to the config file.
func resolveSQLitePath(cfg *Config, configPath string) error {
	driver := strings.ToLower(cfg.BasicConfig.Database)
	if driver != "sqlite" && driver != "sqlite3" {
		return nil
	}
	db, ok := cfg.Databases[cfg.BasicConfig.Database]
	if !ok || db.DSN == "" {
		return fmt.Errorf("sqlite dsn must be configured")
	}
	if configPath == "" || db.DSN == ":memory:" || strings.HasPrefix(db.DSN, "file:") || filepath.IsAbs(db.DSN) {
		return nil
	}
	db.DSN = filepath.Join(filepath.Dir(configPath), db.DSN)
	cfg.Databases[cfg.BasicConfig.Database] = db
	return nil
}
