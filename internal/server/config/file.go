package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/tagify/internal/flagx"
	"github.com/dmitrijs2005/tagify/internal/timex"
)

// FileConfig is the on-disk form of Config. Durations use timex.Duration,
// which accepts "720h" style strings or integer nanoseconds.
type FileConfig struct {
	EndpointAddrHTTP    string         `json:"endpoint_addr_http" yaml:"endpoint_addr_http"`
	DatabaseDSN         string         `json:"database_dsn" yaml:"database_dsn"`
	UserSecretKey       string         `json:"user_secret_key" yaml:"user_secret_key"`
	AdminSecretKey      string         `json:"admin_secret_key" yaml:"admin_secret_key"`
	ShareSessionKey     bool           `json:"share_session_key" yaml:"share_session_key"`
	UserCookieName      string         `json:"user_cookie_name" yaml:"user_cookie_name"`
	AdminCookieName     string         `json:"admin_cookie_name" yaml:"admin_cookie_name"`
	CookieDomain        string         `json:"cookie_domain" yaml:"cookie_domain"`
	SecureCookie        bool           `json:"secure_cookie" yaml:"secure_cookie"`
	SameSite            string         `json:"same_site" yaml:"same_site"`
	SessionMaxAge       timex.Duration `json:"session_max_age" yaml:"session_max_age"`
	LogBackend          string         `json:"log_backend" yaml:"log_backend"`
	LogLevel            string         `json:"log_level" yaml:"log_level"`
	HashConcurrency     int            `json:"hash_concurrency" yaml:"hash_concurrency"`
	MaxBodyBytes        int64          `json:"max_body_bytes" yaml:"max_body_bytes"`
	DefaultAdmin        DefaultAccount `json:"default_admin" yaml:"default_admin"`
	DefaultUser         DefaultAccount `json:"default_user" yaml:"default_user"`
	ShutdownTimeout     timex.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	HealthCheckSchedule string         `json:"health_check_schedule" yaml:"health_check_schedule"`
}

// parseFile overlays the file named by -c/-config onto config. Keys absent
// from the file keep their current values. Files ending in .yaml or .yml
// are read as YAML, anything else as JSON.
func parseFile(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	fc := toFile(config)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fromFile(config, fc)
	return nil
}

func toFile(c *Config) *FileConfig {
	return &FileConfig{
		EndpointAddrHTTP:    c.EndpointAddrHTTP,
		DatabaseDSN:         c.DatabaseDSN,
		UserSecretKey:       c.UserSecretKey,
		AdminSecretKey:      c.AdminSecretKey,
		ShareSessionKey:     c.ShareSessionKey,
		UserCookieName:      c.UserCookieName,
		AdminCookieName:     c.AdminCookieName,
		CookieDomain:        c.CookieDomain,
		SecureCookie:        c.SecureCookie,
		SameSite:            c.SameSite,
		SessionMaxAge:       timex.Duration{Duration: c.SessionMaxAge},
		LogBackend:          c.LogBackend,
		LogLevel:            c.LogLevel,
		HashConcurrency:     c.HashConcurrency,
		MaxBodyBytes:        c.MaxBodyBytes,
		DefaultAdmin:        c.DefaultAdmin,
		DefaultUser:         c.DefaultUser,
		ShutdownTimeout:     timex.Duration{Duration: c.ShutdownTimeout},
		HealthCheckSchedule: c.HealthCheckSchedule,
	}
}

func fromFile(c *Config, f *FileConfig) {
	c.EndpointAddrHTTP = f.EndpointAddrHTTP
	c.DatabaseDSN = f.DatabaseDSN
	c.UserSecretKey = f.UserSecretKey
	c.AdminSecretKey = f.AdminSecretKey
	c.ShareSessionKey = f.ShareSessionKey
	c.UserCookieName = f.UserCookieName
	c.AdminCookieName = f.AdminCookieName
	c.CookieDomain = f.CookieDomain
	c.SecureCookie = f.SecureCookie
	c.SameSite = f.SameSite
	c.SessionMaxAge = f.SessionMaxAge.Duration
	c.LogBackend = f.LogBackend
	c.LogLevel = f.LogLevel
	c.HashConcurrency = f.HashConcurrency
	c.MaxBodyBytes = f.MaxBodyBytes
	c.DefaultAdmin = f.DefaultAdmin
	c.DefaultUser = f.DefaultUser
	c.ShutdownTimeout = f.ShutdownTimeout.Duration
	c.HealthCheckSchedule = f.HealthCheckSchedule
}
