package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-D string   database driver ("pgx" or "sqlite")
//	-d string   database DSN
//	-m int      max open DB connections
//	-s string   JWT HMAC secret key
//	-k string   session cookie key (base64, 32 bytes)
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-l string   log level (debug, info, warn, error)
//
// Args are filtered through flagx.Keep first, so flags owned by
// other components (-c/-config) do not collide.
func parseFlags(config *Config) error {
	args := flagx.Keep(os.Args[1:], "a", "D", "d", "m", "s", "k", "t", "r", "l")

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDriver, "D", config.DatabaseDriver, "database driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.IntVar(&config.DBMaxOpenConns, "m", config.DBMaxOpenConns, "max open database connections")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.SessionKey, "k", config.SessionKey, "session cookie key")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh_token_validity_duration (in minutes)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	// Only overwrite durations that were given, so sub-minute values from
	// JSON or env survive.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
		case "r":
			config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
		}
	})
	return nil
}
