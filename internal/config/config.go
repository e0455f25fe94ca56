package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

const DEFAULT_PORT = "8080"
const DEFAULT_SQLITE_PATH = "chessoverlay.db"

type Config struct {
	env  environment
	port string

	sentryDSN string

	databaseURL string
	sqlitePath  string

	defaultPlatform       string
	defaultUsername       string
	defaultRatingCategory string

	twitchChannel         string
	allowedOriginSuffixes []string
	location              *time.Location
	otelEnabled           bool
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

// Postgres connection string. Empty means the local sqlite database is used.
func (c *Config) DatabaseURL() string {
	return c.databaseURL
}

func (c *Config) SQLitePath() string {
	return c.sqlitePath
}

func (c *Config) DefaultPlatform() string {
	return c.defaultPlatform
}

func (c *Config) DefaultUsername() string {
	return c.defaultUsername
}

func (c *Config) DefaultRatingCategory() string {
	return c.defaultRatingCategory
}

// Twitch channel to read chat commands from. Empty disables the chat integration.
func (c *Config) TwitchChannel() string {
	return c.twitchChannel
}

func (c *Config) AllowedOriginSuffixes() []string {
	return c.allowedOriginSuffixes
}

// Location used to decide when the daily adjustments expire
func (c *Config) Location() *time.Location {
	return c.location
}

func (c *Config) OTelEnabled() bool {
	return c.otelEnabled
}

func (c *Config) Environment() string {
	return string(c.env)
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	database := "sqlite"
	if c.databaseURL != "" {
		database = "postgres"
	}
	return fmt.Sprintf(
		"Config{env: %s, port: %s, database: %s, twitchChannel: %s, location: %s, otel: %t, ...}",
		string(c.env), c.port, database, c.twitchChannel, c.location.String(), c.otelEnabled,
	)
}

// LoadDotEnv loads variables from a .env file without overriding the existing environment.
// A missing file is not an error.
func LoadDotEnv(path string) (bool, error) {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return true, nil
}

func splitList(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}
	invalidValue := func(key, value string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, value)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("CHESSOVERLAY_ENVIRONMENT")
	if !ok {
		return missingKey("CHESSOVERLAY_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return invalidValue("CHESSOVERLAY_ENVIRONMENT", rawEnv)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = DEFAULT_PORT
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return invalidValue("PORT", port)
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = DEFAULT_SQLITE_PATH
	}

	location := time.Local
	if rawLocation := os.Getenv("CHESSOVERLAY_TIMEZONE"); rawLocation != "" {
		loaded, err := time.LoadLocation(rawLocation)
		if err != nil {
			return invalidValue("CHESSOVERLAY_TIMEZONE", rawLocation)
		}
		location = loaded
	}

	sentryDSN := os.Getenv("SENTRY_DSN")

	if env == production || env == staging {
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
	}

	return Config{
		env:  env,
		port: port,

		sentryDSN: sentryDSN,

		databaseURL: os.Getenv("DATABASE_URL"),
		sqlitePath:  sqlitePath,

		defaultPlatform:       os.Getenv("CHESSOVERLAY_PLATFORM"),
		defaultUsername:       os.Getenv("CHESSOVERLAY_USERNAME"),
		defaultRatingCategory: os.Getenv("CHESSOVERLAY_RATING_CATEGORY"),

		twitchChannel:         strings.ToLower(strings.TrimPrefix(os.Getenv("TWITCH_CHANNEL"), "#")),
		allowedOriginSuffixes: splitList(os.Getenv("ALLOWED_ORIGIN_SUFFIXES")),
		location:              location,
		otelEnabled:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
	}, nil
}
