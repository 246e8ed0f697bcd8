package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/tagify/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string              HTTP bind address (e.g., ":8080")
//	-d string              PostgreSQL DSN
//	-l string              log level
//	-log-backend string    zap or slog
//	-session-max-age dur   session lifetime (e.g., "720h")
//	-hash-concurrency int  parallel password hashes
//	-secure-cookie bool    set the Secure cookie attribute
//	-share-session-key     sign admin cookies with the user key
//
// Session secrets are deliberately not accepted as flags; use the config
// file or TAGIFY_USER_SECRET_KEY / TAGIFY_ADMIN_SECRET_KEY.
//
// The args are first filtered with flagx.FilterArgs so -c/-config and any
// flags meant for other components do not break parsing.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{
		"-a", "-d", "-l", "-log-backend", "-session-max-age",
		"-hash-concurrency", "-secure-cookie", "-share-session-key",
	})

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogBackend, "log-backend", config.LogBackend, "log backend (zap or slog)")
	fs.DurationVar(&config.SessionMaxAge, "session-max-age", config.SessionMaxAge, "session lifetime")
	fs.IntVar(&config.HashConcurrency, "hash-concurrency", config.HashConcurrency, "parallel password hashes")
	fs.BoolVar(&config.SecureCookie, "secure-cookie", config.SecureCookie, "set Secure on session cookies")
	fs.BoolVar(&config.ShareSessionKey, "share-session-key", config.ShareSessionKey, "sign admin cookies with the user key")

	return fs.Parse(args)
}
