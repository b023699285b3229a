package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/flagx"
	"github.com/dmitrijs2005/passkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept
// both "1m" strings and integer nanoseconds. Absent keys leave the current
// value untouched.
type JsonConfig struct {
	HTTPAddr                       *string         `json:"http_addr"`
	DatabaseDriver                 *string         `json:"database_driver"`
	DatabaseDSN                    *string         `json:"database_dsn"`
	DBMaxOpenConns                 *int            `json:"db_max_open_conns"`
	DBMaxIdleConns                 *int            `json:"db_max_idle_conns"`
	DBConnMaxLifetime              *timex.Duration `json:"db_conn_max_lifetime"`
	DBAcquireTimeout               *timex.Duration `json:"db_acquire_timeout"`
	SecretKey                      *string         `json:"secret_key"`
	SessionKey                     *string         `json:"session_key"`
	AccessTokenValidityDuration    *timex.Duration `json:"access_token_validity_duration"`
	TemporaryTokenValidityDuration *timex.Duration `json:"temporary_token_validity_duration"`
	RefreshTokenValidityDuration   *timex.Duration `json:"refresh_token_validity_duration"`
	PasswordCost                   *int            `json:"password_cost"`
	MasterPasswordCost             *int            `json:"master_password_cost"`
	AlwaysReverifyAccessToken      *bool           `json:"always_reverify_access_token"`
	RedisURL                       *string         `json:"redis_url"`
	LoginAttemptsPerMinute         *int            `json:"login_attempts_per_minute"`
	CookieSecure                   *bool           `json:"cookie_secure"`
	LogLevel                       *string         `json:"log_level"`
	ShutdownTimeout                *timex.Duration `json:"shutdown_timeout"`
}

// parseJson loads the file named by -c/-config, if any, over config.
func parseJson(config *Config) error {
	jsonConfigFile := flagx.ConfigFile(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return err
	}

	c.apply(config)
	return nil
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDriver, c.DatabaseDriver)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setInt(&config.DBMaxOpenConns, c.DBMaxOpenConns)
	setInt(&config.DBMaxIdleConns, c.DBMaxIdleConns)
	setDuration(&config.DBConnMaxLifetime, c.DBConnMaxLifetime)
	setDuration(&config.DBAcquireTimeout, c.DBAcquireTimeout)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.SessionKey, c.SessionKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.TemporaryTokenValidityDuration, c.TemporaryTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setInt(&config.PasswordCost, c.PasswordCost)
	setInt(&config.MasterPasswordCost, c.MasterPasswordCost)
	setBool(&config.AlwaysReverifyAccessToken, c.AlwaysReverifyAccessToken)
	setString(&config.RedisURL, c.RedisURL)
	setInt(&config.LoginAttemptsPerMinute, c.LoginAttemptsPerMinute)
	setBool(&config.CookieSecure, c.CookieSecure)
	setString(&config.LogLevel, c.LogLevel)
	setDuration(&config.ShutdownTimeout, c.ShutdownTimeout)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
