package config

import "os"

// parseEnv reads the settings that should not appear on a command line.
func parseEnv(config *Config) {
	for name, dst := range map[string]*string{
		"TAGIFY_DATABASE_DSN":     &config.DatabaseDSN,
		"TAGIFY_USER_SECRET_KEY":  &config.UserSecretKey,
		"TAGIFY_ADMIN_SECRET_KEY": &config.AdminSecretKey,
		"TAGIFY_ADMIN_PASSWORD":   &config.DefaultAdmin.Password,
		"TAGIFY_USER_PASSWORD":    &config.DefaultUser.Password,
	} {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
}
