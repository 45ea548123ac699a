// Package config loads server settings: defaults, then WAITGATE_* environment
// variables, then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/and161185/waitgate/internal/identity"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/permissions"
)

// Config holds runtime settings for the waitgate server.
type Config struct {
	Addr      string        `env:"WAITGATE_ADDR"       envDefault:":8443"`
	DSN       string        `env:"WAITGATE_DSN"` // empty selects the in-memory backend
	JWTKey    string        `env:"WAITGATE_JWT_KEY"`
	AccessTTL time.Duration `env:"WAITGATE_ACCESS_TTL" envDefault:"15m"`
	TLSCert   string        `env:"WAITGATE_TLS_CERT"`
	TLSKey    string        `env:"WAITGATE_TLS_KEY"`
	Dev       bool          `env:"WAITGATE_DEV"`

	BootstrapAdminID    string   `env:"WAITGATE_BOOTSTRAP_ADMIN_ID"`
	BootstrapAdminEmail string   `env:"WAITGATE_BOOTSTRAP_ADMIN_EMAIL"`
	PermissionKeys      []string `env:"WAITGATE_PERMISSION_KEYS" envSeparator:","`

	ProbePolicy  string `env:"WAITGATE_PROBE_POLICY"  envDefault:"reset-email"`
	VerifyPolicy string `env:"WAITGATE_VERIFY_POLICY" envDefault:"server"`

	LimiterWindow   time.Duration `env:"WAITGATE_LIMITER_WINDOW"    envDefault:"15m"`
	LimiterMaxFails int           `env:"WAITGATE_LIMITER_MAX_FAILS" envDefault:"5"`
	LimiterBlockFor time.Duration `env:"WAITGATE_LIMITER_BLOCK_FOR" envDefault:"15m"`

	ResetURL string `env:"WAITGATE_RESET_URL" envDefault:"http://localhost:8080/reset"`
}

// Load builds a Config from the environment and overlays args (without the program name).
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parseFlags(args []string) error {
	fs := flag.NewFlagSet("waitgate-server", flag.ContinueOnError)

	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address")
	fs.StringVar(&c.DSN, "dsn", c.DSN, "PostgreSQL DSN (empty: in-memory backend)")
	fs.StringVar(&c.JWTKey, "jwt-key", c.JWTKey, "HS256 signing key (required)")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "access token TTL")
	fs.StringVar(&c.TLSCert, "tls-cert", c.TLSCert, "TLS certificate (PEM)")
	fs.StringVar(&c.TLSKey, "tls-key", c.TLSKey, "TLS private key (PEM)")
	fs.BoolVar(&c.Dev, "dev", c.Dev, "development mode (reflection, console logs)")
	fs.StringVar(&c.BootstrapAdminID, "bootstrap-admin-id", c.BootstrapAdminID, "uid that is always an administrator")
	fs.StringVar(&c.BootstrapAdminEmail, "bootstrap-admin-email", c.BootstrapAdminEmail, "email of the bootstrap administrator")
	keys := fs.String("permission-keys", strings.Join(c.PermissionKeys, ","), "comma separated permission keys")
	fs.StringVar(&c.ProbePolicy, "probe-policy", c.ProbePolicy, "existence probe: reset-email|lookup")
	fs.StringVar(&c.VerifyPolicy, "verify-policy", c.VerifyPolicy, "credential verification: session|server")
	fs.DurationVar(&c.LimiterWindow, "limiter-window", c.LimiterWindow, "sign-in failure window")
	fs.IntVar(&c.LimiterMaxFails, "limiter-max-fails", c.LimiterMaxFails, "failures before lockout")
	fs.DurationVar(&c.LimiterBlockFor, "limiter-block-for", c.LimiterBlockFor, "lockout duration")
	fs.StringVar(&c.ResetURL, "reset-url", c.ResetURL, "base URL of password reset links")

	if err := fs.Parse(args); err != nil {
		return err
	}
	c.PermissionKeys = splitKeys(*keys)
	return nil
}

func splitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Validate checks required settings and policy names.
func (c *Config) Validate() error {
	if c.JWTKey == "" {
		return errors.New("config: missing jwt signing key (--jwt-key)")
	}
	if c.BootstrapAdminID == "" && c.BootstrapAdminEmail == "" {
		return errors.New("config: bootstrap admin id or email is required")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("config: tls cert and key must be set together")
	}
	switch c.ProbePolicy {
	case identity.ProbeResetEmail, identity.ProbeLookup:
	default:
		return fmt.Errorf("config: unknown probe policy %q", c.ProbePolicy)
	}
	switch c.VerifyPolicy {
	case identity.VerifySession, identity.VerifyServer:
	default:
		return fmt.Errorf("config: unknown verify policy %q", c.VerifyPolicy)
	}
	if c.LimiterMaxFails < 1 {
		return errors.New("config: limiter max fails must be positive")
	}
	return nil
}

// Permissions returns the configured permission key set, or the default set.
func (c *Config) Permissions() permissions.Set {
	if len(c.PermissionKeys) == 0 {
		return permissions.DefaultSet()
	}
	keys := make([]model.PermissionKey, 0, len(c.PermissionKeys)+1)
	for _, k := range c.PermissionKeys {
		keys = append(keys, model.PermissionKey(k))
	}
	// approveWaitlist gates the admin API and is always known.
	keys = append(keys, permissions.ApproveWaitlist)
	return permissions.NewSet(keys...)
}
