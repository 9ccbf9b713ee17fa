// Package config provides configuration management for devcrew.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration sections for devcrew.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Session  SessionConfig  `mapstructure:"session"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds PostgreSQL connection configuration.
// Only used when session.storageBackend is "postgres".
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// SandboxConfig holds per-session container sandbox configuration.
type SandboxConfig struct {
	Image          string  `mapstructure:"image"`
	BasePath       string  `mapstructure:"basePath"`
	CPU            float64 `mapstructure:"cpu"`
	Memory         string  `mapstructure:"memory"`
	DisableNetwork bool    `mapstructure:"disableNetwork"`
	Network        string  `mapstructure:"network"`
	Command        string  `mapstructure:"command"`
	ExposedPorts   string  `mapstructure:"exposedPorts"` // comma-separated container ports
	PortStart      int     `mapstructure:"portStart"`
	PortEnd        int     `mapstructure:"portEnd"`
	ExtraEnv       string  `mapstructure:"extraEnv"`    // comma-separated KEY=VAL pairs
	IdleTimeout    int     `mapstructure:"idleTimeout"` // seconds, 0 disables reaping
	GCInterval     int     `mapstructure:"gcInterval"`  // seconds
	PreviewHost    string  `mapstructure:"previewHost"`
	DockerHost     string  `mapstructure:"dockerHost"`
	APIVersion     string  `mapstructure:"apiVersion"`
}

// SessionConfig holds session persistence configuration.
type SessionConfig struct {
	DataPath       string `mapstructure:"dataPath"`
	StorageBackend string `mapstructure:"storageBackend"` // file, memory, postgres
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider      string            `mapstructure:"provider"` // default provider for all roles
	Model         string            `mapstructure:"model"`
	APIKey        string            `mapstructure:"apiKey"`
	BaseURL       string            `mapstructure:"baseUrl"`
	TimeoutSec    int               `mapstructure:"timeoutSec"`
	RoleProviders map[string]string `mapstructure:"roleProviders"` // role → provider override
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	TokenDuration int `mapstructure:"tokenDuration"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TokenDurationTime returns the token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// IdleTimeoutDuration returns the sandbox idle timeout as a time.Duration.
func (s *SandboxConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GCIntervalDuration returns the sandbox GC interval as a time.Duration.
func (s *SandboxConfig) GCIntervalDuration() time.Duration {
	return time.Duration(s.GCInterval) * time.Second
}

// TimeoutDuration returns the LLM request timeout as a time.Duration.
func (l *LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(l.TimeoutSec) * time.Second
}

// ProviderFor returns the provider name configured for the given role,
// falling back to the default provider.
func (l *LLMConfig) ProviderFor(role string) string {
	if p, ok := l.RoleProviders[strings.ToLower(role)]; ok && p != "" {
		return p
	}
	return l.Provider
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("DEVCREW_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults (postgres backend only)
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "devcrew")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "devcrew")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "devcrew-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Sandbox defaults
	v.SetDefault("sandbox.image", "node:20-bookworm")
	v.SetDefault("sandbox.basePath", "./data/sandboxes")
	v.SetDefault("sandbox.cpu", 1.0)
	v.SetDefault("sandbox.memory", "1g")
	v.SetDefault("sandbox.disableNetwork", false)
	v.SetDefault("sandbox.network", "")
	v.SetDefault("sandbox.command", "sleep infinity")
	v.SetDefault("sandbox.exposedPorts", "3000,4173,5173")
	v.SetDefault("sandbox.portStart", 41000)
	v.SetDefault("sandbox.portEnd", 41999)
	v.SetDefault("sandbox.extraEnv", "")
	v.SetDefault("sandbox.idleTimeout", 1800)
	v.SetDefault("sandbox.gcInterval", 60)
	v.SetDefault("sandbox.previewHost", "http://localhost")
	v.SetDefault("sandbox.dockerHost", "unix:///var/run/docker.sock")
	v.SetDefault("sandbox.apiVersion", "1.41")

	// Session defaults
	v.SetDefault("session.dataPath", "./data/sessions")
	v.SetDefault("session.storageBackend", "file")

	// LLM defaults
	v.SetDefault("llm.provider", "echo")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseUrl", "")
	v.SetDefault("llm.timeoutSec", 120)
	v.SetDefault("llm.roleProviders", map[string]string{})

	// Auth defaults
	v.SetDefault("auth.tokenDuration", 86400)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix DEVCREW_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/devcrew/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	// Load a local .env first so bare env names below pick it up.
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("DEVCREW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion, and
	// the sandbox/session variables are historically unprefixed.
	_ = v.BindEnv("sandbox.image", "SANDBOX_IMAGE", "DEVCREW_SANDBOX_IMAGE")
	_ = v.BindEnv("sandbox.basePath", "SANDBOX_BASE_PATH", "DEVCREW_SANDBOX_BASE_PATH")
	_ = v.BindEnv("sandbox.cpu", "SANDBOX_CPU")
	_ = v.BindEnv("sandbox.memory", "SANDBOX_MEMORY")
	_ = v.BindEnv("sandbox.disableNetwork", "SANDBOX_DISABLE_NETWORK")
	_ = v.BindEnv("sandbox.network", "SANDBOX_NETWORK")
	_ = v.BindEnv("sandbox.command", "SANDBOX_COMMAND")
	_ = v.BindEnv("sandbox.exposedPorts", "SANDBOX_EXPOSED_PORTS")
	_ = v.BindEnv("sandbox.portStart", "SANDBOX_PORT_START")
	_ = v.BindEnv("sandbox.portEnd", "SANDBOX_PORT_END")
	_ = v.BindEnv("sandbox.extraEnv", "SANDBOX_EXTRA_ENV")
	_ = v.BindEnv("sandbox.idleTimeout", "SANDBOX_IDLE_TIMEOUT")
	_ = v.BindEnv("sandbox.gcInterval", "SANDBOX_GC_INTERVAL")
	_ = v.BindEnv("sandbox.previewHost", "SANDBOX_PREVIEW_HOST")
	_ = v.BindEnv("sandbox.dockerHost", "DOCKER_HOST", "DEVCREW_SANDBOX_DOCKER_HOST")
	_ = v.BindEnv("session.dataPath", "SESSION_DATA_PATH", "DEVCREW_SESSION_DATA_PATH")
	_ = v.BindEnv("session.storageBackend", "SESSION_STORAGE_BACKEND", "DEVCREW_SESSION_STORAGE_BACKEND")
	_ = v.BindEnv("llm.apiKey", "DEVCREW_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.baseUrl", "DEVCREW_LLM_BASE_URL")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/devcrew/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Database validation - only if the postgres backend is selected
	if cfg.Session.StorageBackend == "postgres" {
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres backend")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres backend")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres backend")
		}
	}

	switch cfg.Session.StorageBackend {
	case "file", "memory", "postgres":
	default:
		errs = append(errs, "session.storageBackend must be one of: file, memory, postgres")
	}

	if cfg.Sandbox.PortStart <= 0 || cfg.Sandbox.PortEnd > 65535 || cfg.Sandbox.PortEnd < cfg.Sandbox.PortStart {
		errs = append(errs, "sandbox port range must satisfy 0 < portStart <= portEnd <= 65535")
	}
	if cfg.Sandbox.GCInterval <= 0 {
		errs = append(errs, "sandbox.gcInterval must be positive")
	}

	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ExposedPortList parses the comma-separated exposed port list.
func (s *SandboxConfig) ExposedPortList() []int {
	var ports []int
	for _, tok := range strings.Split(s.ExposedPorts, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		var p int
		if _, err := fmt.Sscanf(tok, "%d", &p); err == nil && p > 0 {
			ports = append(ports, p)
		}
	}
	return ports
}

// ExtraEnvMap parses the comma-separated KEY=VAL extra environment list.
func (s *SandboxConfig) ExtraEnvMap() map[string]string {
	env := make(map[string]string)
	for _, tok := range strings.Split(s.ExtraEnv, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if k, v, ok := strings.Cut(tok, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}
