package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// parseEnv overlays values from environment variables. Unset variables
// keep the current value; malformed ones are reported.
func parseEnv(config *Config) error {
	envString("HTTP_ADDR", &config.HTTPAddr)
	envString("DB_DRIVER", &config.DatabaseDriver)
	envString("DATABASE_DSN", &config.DatabaseDSN)
	envString("TOKEN_SECRET_KEY", &config.SecretKey)
	envString("SESSION_KEY", &config.SessionKey)
	envString("REDIS_URL", &config.RedisURL)
	envString("LOG_LEVEL", &config.LogLevel)

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"DB_MAX_OPEN_CONNS", &config.DBMaxOpenConns},
		{"DB_MAX_IDLE_CONNS", &config.DBMaxIdleConns},
		{"PASSWORD_COST", &config.PasswordCost},
		{"MASTER_PASSWORD_COST", &config.MasterPasswordCost},
		{"LOGIN_ATTEMPTS_PER_MINUTE", &config.LoginAttemptsPerMinute},
	} {
		if err := envInt(f.name, f.dst); err != nil {
			return err
		}
	}

	for _, f := range []struct {
		name string
		dst  *time.Duration
	}{
		{"DB_CONN_MAX_LIFETIME", &config.DBConnMaxLifetime},
		{"DB_ACQUIRE_TIMEOUT", &config.DBAcquireTimeout},
		{"ACCESS_TOKEN_TTL", &config.AccessTokenValidityDuration},
		{"TEMPORARY_TOKEN_TTL", &config.TemporaryTokenValidityDuration},
		{"REFRESH_TOKEN_TTL", &config.RefreshTokenValidityDuration},
		{"SHUTDOWN_TIMEOUT", &config.ShutdownTimeout},
	} {
		if err := envDuration(f.name, f.dst); err != nil {
			return err
		}
	}

	if err := envBool("ALWAYS_REVERIFY_ACCESS_TOKEN", &config.AlwaysReverifyAccessToken); err != nil {
		return err
	}
	return envBool("COOKIE_SECURE", &config.CookieSecure)
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

func envBool(name string, dst *bool) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = b
	return nil
}
