// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package config loads Gatekeeper configuration from flags, an optional YAML
// file, a .env file and GATEKEEPER_* environment variables.
package config

import (
	"errors"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/internal/xdg"
)

// EnvPrefix prefixes every environment override. Sections are separated by a
// double underscore: GATEKEEPER_AUTH__ACCESS_TTL sets auth.access_ttl.
const EnvPrefix = "GATEKEEPER_"

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

const redacted = "[redacted]"

// Config is the effective Gatekeeper configuration.
type Config struct {
	Store    string         `koanf:"store" yaml:"store"`
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	HTTP     HTTPConfig     `koanf:"http" yaml:"http"`
	GRPC     GRPCConfig     `koanf:"grpc" yaml:"grpc"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Auth     AuthConfig     `koanf:"auth" yaml:"auth"`
}

// DatabaseConfig configures the Postgres store.
type DatabaseConfig struct {
	URL         string `koanf:"url" yaml:"url"`
	AutoMigrate bool   `koanf:"auto_migrate" yaml:"auto_migrate"`
	MaxConns    int32  `koanf:"max_conns" yaml:"max_conns"`
}

// HTTPConfig configures the REST listener.
type HTTPConfig struct {
	Addr        string   `koanf:"addr" yaml:"addr"`
	CORSOrigins []string `koanf:"cors_origins" yaml:"cors_origins"`
}

// GRPCConfig configures the gRPC listener. An empty Addr disables it.
type GRPCConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`

	// PrivateHealth makes the health service require an access token.
	PrivateHealth bool `koanf:"private_health" yaml:"private_health"`

	// Methods restricts individual methods to roles.
	Methods []MethodRoles `koanf:"methods" yaml:"methods,omitempty"`
}

// MethodRoles limits one full gRPC method name to the listed roles.
type MethodRoles struct {
	Method string   `koanf:"method" yaml:"method"`
	Roles  []string `koanf:"roles" yaml:"roles"`
}

// RoleMap returns the method restrictions keyed by full method name. Call it
// on a validated configuration.
func (g GRPCConfig) RoleMap() map[string][]auth.Role {
	if len(g.Methods) == 0 {
		return nil
	}
	out := make(map[string][]auth.Role, len(g.Methods))
	for _, m := range g.Methods {
		for _, r := range m.Roles {
			out[m.Method] = append(out[m.Method], auth.Role(r))
		}
	}
	return out
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// AuthConfig configures token signing and session housekeeping.
type AuthConfig struct {
	AccessSecret  string        `koanf:"access_secret"`
	RefreshSecret string        `koanf:"refresh_secret"`
	AccessTTL     time.Duration `koanf:"access_ttl"`
	RefreshTTL    time.Duration `koanf:"refresh_ttl"`
	Issuer        string        `koanf:"issuer"`
	PurgeInterval time.Duration `koanf:"purge_interval"`
}

// MarshalYAML renders durations in their human form.
func (a AuthConfig) MarshalYAML() (any, error) {
	return struct {
		AccessSecret  string `yaml:"access_secret"`
		RefreshSecret string `yaml:"refresh_secret"`
		AccessTTL     string `yaml:"access_ttl"`
		RefreshTTL    string `yaml:"refresh_ttl"`
		Issuer        string `yaml:"issuer,omitempty"`
		PurgeInterval string `yaml:"purge_interval"`
	}{
		AccessSecret:  a.AccessSecret,
		RefreshSecret: a.RefreshSecret,
		AccessTTL:     a.AccessTTL.String(),
		RefreshTTL:    a.RefreshTTL.String(),
		Issuer:        a.Issuer,
		PurgeInterval: a.PurgeInterval.String(),
	}, nil
}

// Default values.
const (
	DefaultHTTPAddr      = "127.0.0.1:8080"
	DefaultGRPCAddr      = "127.0.0.1:9090"
	DefaultMetricsAddr   = "127.0.0.1:9100"
	DefaultAccessTTL     = 15 * time.Minute
	DefaultRefreshTTL    = 7 * 24 * time.Hour
	DefaultPurgeInterval = time.Hour
)

// flagKeys maps flag names onto configuration keys.
var flagKeys = map[string]string{
	"store":               "store",
	"database-url":        "database.url",
	"auto-migrate":        "database.auto_migrate",
	"db-max-conns":        "database.max_conns",
	"http-addr":           "http.addr",
	"cors-origin":         "http.cors_origins",
	"grpc-addr":           "grpc.addr",
	"grpc-private-health": "grpc.private_health",
	"metrics-addr":        "metrics.addr",
	"log-format":          "log.format",
	"log-level":           "log.level",
	"access-token-ttl":    "auth.access_ttl",
	"refresh-token-ttl":   "auth.refresh_ttl",
	"token-issuer":        "auth.issuer",
	"purge-interval":      "auth.purge_interval",
}

// FlagSet returns the configuration flags with their defaults. Secrets have
// no flags; supply them through the file or environment.
func FlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("config", pflag.ContinueOnError)
	flags.String("store", StorePostgres, "session and account store (postgres or memory)")
	flags.String("database-url", "", "Postgres connection URL (falls back to DATABASE_URL)")
	flags.Bool("auto-migrate", true, "apply pending migrations on serve")
	flags.Int32("db-max-conns", 0, "maximum pool connections (0 = pgx default)")
	flags.String("http-addr", DefaultHTTPAddr, "HTTP listen address")
	flags.StringSlice("cors-origin", nil, "allowed CORS origin glob (repeatable)")
	flags.String("grpc-addr", DefaultGRPCAddr, "gRPC listen address (empty = disabled)")
	flags.Bool("grpc-private-health", false, "require an access token for the gRPC health service")
	flags.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.String("log-format", "json", "log format (json or text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Duration("access-token-ttl", DefaultAccessTTL, "access token lifetime")
	flags.Duration("refresh-token-ttl", DefaultRefreshTTL, "refresh token lifetime")
	flags.String("token-issuer", "", "iss claim embedded in and required on tokens")
	flags.Duration("purge-interval", DefaultPurgeInterval, "expired session purge interval (0 = disabled)")
	return flags
}

// LoadOptions select the sources Load reads.
type LoadOptions struct {
	// File is an explicit config file. It must exist when set; otherwise the
	// XDG default is read if present.
	File string
	// EnvFile is a dotenv file applied to the process environment when it
	// exists. Empty means ".env".
	EnvFile string
	// Flags carries defaults and command-line overrides. Nil means FlagSet().
	Flags *pflag.FlagSet
}

// Load builds the effective configuration. Precedence from lowest to
// highest: flag defaults, config file, environment, explicitly set flags.
func Load(opts LoadOptions) (*Config, error) {
	if err := loadDotenv(opts.EnvFile); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if err := loadFile(k, opts.File); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	flags := opts.Flags
	if flags == nil {
		flags = FlagSet()
	}
	if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagValue(flags)), nil); err != nil {
		return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	return &cfg, nil
}

func loadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return oops.Code("CONFIG_DOTENV_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

// envKey turns GATEKEEPER_HTTP__ADDR into http.addr.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func flagValue(flags *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "database url is required for the postgres store")
		}
	case StoreMemory:
	default:
		return invalid("store", "store must be 'postgres' or 'memory', got %q", c.Store)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http address is required")
	}
	for key, addr := range map[string]string{"http.addr": c.HTTP.Addr, "grpc.addr": c.GRPC.Addr, "metrics.addr": c.Metrics.Addr} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return invalid(key, "invalid listen address %q", addr)
		}
	}

	if err := c.GRPC.validate(); err != nil {
		return err
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}

	if c.Auth.AccessSecret == "" {
		return invalid("auth.access_secret", "access token secret is required")
	}
	if c.Auth.RefreshSecret == "" {
		return invalid("auth.refresh_secret", "refresh token secret is required")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return invalid("auth.refresh_secret", "access and refresh secrets must differ")
	}
	if c.Auth.AccessTTL <= 0 {
		return invalid("auth.access_ttl", "access token ttl must be positive")
	}
	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		return invalid("auth.refresh_ttl", "refresh token ttl must exceed the access token ttl")
	}
	if c.Auth.PurgeInterval < 0 {
		return invalid("auth.purge_interval", "purge interval must not be negative")
	}
	return nil
}

func (g GRPCConfig) validate() error {
	seen := make(map[string]bool, len(g.Methods))
	for _, m := range g.Methods {
		service, method, ok := strings.Cut(strings.TrimPrefix(m.Method, "/"), "/")
		if !strings.HasPrefix(m.Method, "/") || !ok || service == "" || method == "" {
			return invalid("grpc.methods", "method must be a full name like /pkg.Service/Method, got %q", m.Method)
		}
		if seen[m.Method] {
			return invalid("grpc.methods", "method %q is listed twice", m.Method)
		}
		seen[m.Method] = true
		if len(m.Roles) == 0 {
			return invalid("grpc.methods", "method %q lists no roles", m.Method)
		}
		for _, r := range m.Roles {
			if _, err := auth.ParseRole(r); err != nil {
				return invalid("grpc.methods", "method %q has unknown role %q", m.Method, r)
			}
		}
	}
	return nil
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
}

// TokenConfig returns the token codec settings.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  []byte(c.Auth.AccessSecret),
		RefreshSecret: []byte(c.Auth.RefreshSecret),
		AccessTTL:     c.Auth.AccessTTL,
		RefreshTTL:    c.Auth.RefreshTTL,
		Issuer:        c.Auth.Issuer,
	}
}

// Redacted returns a copy safe to print: secrets and the database password
// are masked.
func (c *Config) Redacted() Config {
	out := *c
	out.HTTP.CORSOrigins = append([]string(nil), c.HTTP.CORSOrigins...)
	out.GRPC.Methods = append([]MethodRoles(nil), c.GRPC.Methods...)
	if out.Auth.AccessSecret != "" {
		out.Auth.AccessSecret = redacted
	}
	if out.Auth.RefreshSecret != "" {
		out.Auth.RefreshSecret = redacted
	}
	if u, err := url.Parse(out.Database.URL); err == nil && u.User != nil {
		out.Database.URL = u.Redacted()
	} else if err != nil {
		out.Database.URL = redacted
	}
	return out
}
