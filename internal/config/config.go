package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHost          = "0.0.0.0"
	defaultPort          = 8520
	defaultBaseURL       = "https://llm.api.cloud.yandex.net/foundationModels/v1"
	defaultOperationsURL = "https://llm.api.cloud.yandex.net:443/operations"
	defaultImagesDir     = "data/images"
	defaultLogLevel      = "info"
	defaultUpstreamWait  = 120 * time.Second
)

// Config represents the application configuration parsed from YAML and the environment.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Auth     AuthConfig     `yaml:"auth"`
	Models   []ModelConfig  `yaml:"models"`
	Images   ImagesConfig   `yaml:"images"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	TLSCert     string   `yaml:"tls_cert"`
	TLSKey      string   `yaml:"tls_key"`
	PublicURL   string   `yaml:"public_url"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// UpstreamConfig captures how to reach and authenticate against the upstream API.
type UpstreamConfig struct {
	BaseURL       string        `yaml:"base_url"`
	OperationsURL string        `yaml:"operations_url"`
	CatalogID     string        `yaml:"catalog_id"`
	SecretKey     string        `yaml:"secret_key"`
	BYOK          bool          `yaml:"byok"`
	DataLogging   bool          `yaml:"data_logging"`
	Timeout       time.Duration `yaml:"timeout"`
}

// AuthConfig holds the managed token table, token -> user id.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens"`
}

// ModelConfig describes a model exposed by GET /models.
type ModelConfig struct {
	ID      string `yaml:"id"`
	OwnedBy string `yaml:"owned_by"`
}

// ImagesConfig controls where generated images are stored.
type ImagesConfig struct {
	Dir          string `yaml:"dir"`
	ClearOnStart *bool  `yaml:"clear_on_start"`
}

// LoggingConfig controls the log level and optional rotating file sink.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// ShouldClearImages reports whether stale images are removed at startup.
func (c ImagesConfig) ShouldClearImages() bool {
	return c.ClearOnStart == nil || *c.ClearOnStart
}

// Load reads optional YAML configuration, applies .env and environment
// overrides, fills defaults and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env file: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKeys lists the variables read for each setting, highest precedence first.
var envKeys = map[string][]string{
	"host":         {"ROUTER_HOST", "Y2O_Host"},
	"port":         {"ROUTER_PORT", "Y2O_Port"},
	"tls_cert":     {"ROUTER_TLS_CERT", "Y2O_SSL_Cert"},
	"tls_key":      {"ROUTER_TLS_KEY", "Y2O_SSL_Key"},
	"public_url":   {"ROUTER_PUBLIC_URL", "Y2O_ServerURL"},
	"cors_origins": {"ROUTER_CORS_ORIGINS", "Y2O_CORS_Origins"},
	"catalog_id":   {"ROUTER_CATALOG_ID", "Y2O_CatalogID"},
	"secret_key":   {"ROUTER_SECRET_KEY", "Y2O_SecretKey"},
	"byok":         {"ROUTER_BYOK", "Y2O_BringYourOwnKey"},
	"images_dir":   {"ROUTER_IMAGES_DIR"},
	"log_file":     {"ROUTER_LOG_FILE", "Y2O_LogFile"},
	"log_level":    {"ROUTER_LOG_LEVEL", "Y2O_LogLevel"},
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(setting string) (string, string, bool) {
		for _, key := range envKeys[setting] {
			if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
				return key, strings.TrimSpace(v), true
			}
		}
		return "", "", false
	}
	str := func(setting string, dst *string) {
		if _, v, ok := get(setting); ok {
			*dst = v
		}
	}

	str("host", &c.Server.Host)
	str("tls_cert", &c.Server.TLSCert)
	str("tls_key", &c.Server.TLSKey)
	str("public_url", &c.Server.PublicURL)
	str("catalog_id", &c.Upstream.CatalogID)
	str("secret_key", &c.Upstream.SecretKey)
	str("images_dir", &c.Images.Dir)
	str("log_file", &c.Logging.File)
	str("log_level", &c.Logging.Level)

	if key, v, ok := get("port"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		c.Server.Port = port
	}

	if _, v, ok := get("byok"); ok {
		c.Upstream.BYOK = parseBool(v)
	}

	if _, v, ok := get("cors_origins"); ok {
		var origins []string
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		c.Server.CORSOrigins = origins
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = defaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = fmt.Sprintf("http://127.0.0.1:%d", c.Server.Port)
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = defaultBaseURL
	}
	if c.Upstream.OperationsURL == "" {
		c.Upstream.OperationsURL = defaultOperationsURL
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = defaultUpstreamWait
	}
	if c.Images.Dir == "" {
		c.Images.Dir = defaultImagesDir
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if len(c.Models) == 0 {
		c.Models = DefaultModels()
	}
}

// DefaultModels is the catalogue served when the configuration lists none.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{ID: "yandexgpt/latest", OwnedBy: "yandex"},
		{ID: "yandexgpt-lite/latest", OwnedBy: "yandex"},
		{ID: "yandexgpt/rc", OwnedBy: "yandex"},
		{ID: "text-search-doc/latest", OwnedBy: "yandex"},
		{ID: "text-search-query/latest", OwnedBy: "yandex"},
		{ID: "yandex-art/latest", OwnedBy: "yandex"},
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if c.Server.PublicURL != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server.public_url %q must be an absolute URL", c.Server.PublicURL)
		}
	}

	hasDefaultCreds := strings.TrimSpace(c.Upstream.CatalogID) != "" && strings.TrimSpace(c.Upstream.SecretKey) != ""
	if !hasDefaultCreds && !c.Upstream.BYOK {
		return errors.New("upstream.catalog_id and upstream.secret_key must be provided unless byok is enabled")
	}
	if len(c.Auth.Tokens) == 0 && !c.Upstream.BYOK {
		return errors.New("auth.tokens must contain at least one token unless byok is enabled")
	}
	if len(c.Auth.Tokens) > 0 && !hasDefaultCreds {
		return errors.New("auth.tokens requires upstream.catalog_id and upstream.secret_key")
	}

	for token, user := range c.Auth.Tokens {
		if strings.TrimSpace(token) == "" {
			return errors.New("auth.tokens: token must not be empty")
		}
		if strings.TrimSpace(user) == "" {
			return fmt.Errorf("auth.tokens: token ***%s has an empty user id", Mask(token))
		}
	}

	seen := make(map[string]struct{}, len(c.Models))
	for _, model := range c.Models {
		if strings.TrimSpace(model.ID) == "" {
			return errors.New("models: model id must not be empty")
		}
		if _, dup := seen[model.ID]; dup {
			return fmt.Errorf("models: duplicate model id %q", model.ID)
		}
		seen[model.ID] = struct{}{}
	}

	return nil
}

// Mask returns the last four characters of a secret for logging.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return ""
	}
	return secret[len(secret)-4:]
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "t", "y", "yes":
		return true
	default:
		return false
	}
}
