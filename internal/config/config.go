// Package config loads the static configuration shared by every command.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/leighmacdonald/steamid/v4/steamid"
)

type RunMode string

const (
	ReleaseMode RunMode = "release"
	DebugMode   RunMode = "debug"
	TestMode    RunMode = "test"
)

const minAPIKeyLength = 12

var (
	ErrReadConfig     = errors.New("failed to read config file")
	ErrFormatConfig   = errors.New("invalid config file format")
	ErrDecodeDuration = errors.New("failed to decode duration")
	ErrInvalidConfig  = errors.New("invalid config value")
)

type Config struct {
	General    General    `mapstructure:"general"`
	HTTP       HTTP       `mapstructure:"http"`
	Database   Database   `mapstructure:"database"`
	Log        Logging    `mapstructure:"logging"`
	RPC        RPC        `mapstructure:"rpc"`
	Infraction Infraction `mapstructure:"infraction"`
	Identity   Identity   `mapstructure:"identity"`
	Discord    Discord    `mapstructure:"discord"`
	Auth       Auth       `mapstructure:"auth"`
	Audit      Audit      `mapstructure:"audit"`
	VPN        VPN        `mapstructure:"vpn"`
}

type General struct {
	Mode        RunMode `mapstructure:"mode"`
	ExternalURL string  `mapstructure:"external_url"`
	SteamKey    string  `mapstructure:"steam_key"`
}

type HTTP struct {
	Host              string   `mapstructure:"host"`
	Port              int      `mapstructure:"port"`
	CorsEnabled       bool     `mapstructure:"cors_enabled"`
	CorsOrigins       []string `mapstructure:"cors_origins"`
	PProfEnabled      bool     `mapstructure:"pprof_enabled"`
	PrometheusEnabled bool     `mapstructure:"prometheus_enabled"`
}

// Addr returns the listen address in host:port format.
func (h HTTP) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

type Database struct {
	Driver      database.Driver `mapstructure:"driver"`
	DSN         string          `mapstructure:"dsn"`
	MongoURI    string          `mapstructure:"mongo_uri"`
	MongoDB     string          `mapstructure:"mongo_db"`
	AutoMigrate bool            `mapstructure:"auto_migrate"`
	LogQueries  bool            `mapstructure:"log_queries"`
}

type Logging struct {
	Level       log.Level `mapstructure:"level"`
	File        string    `mapstructure:"file"`
	HTTPEnabled bool      `mapstructure:"http_enabled"`
	SentryDSN   string    `mapstructure:"sentry_dsn"`
}

type RPC struct {
	PushInterval    time.Duration `mapstructure:"push_interval"`
	KickTimeout     time.Duration `mapstructure:"kick_timeout"`
	AckPollInterval time.Duration `mapstructure:"ack_poll_interval"`
	Retention       time.Duration `mapstructure:"retention"`
	PurgeSchedule   string        `mapstructure:"purge_schedule"`
	FanOut          int           `mapstructure:"fan_out"`
}

type Infraction struct {
	HeartbeatMaxGap time.Duration `mapstructure:"heartbeat_max_gap"`
	AltConcurrency  int           `mapstructure:"alt_concurrency"`
}

type Identity struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

type Discord struct {
	Enabled      bool   `mapstructure:"enabled"`
	WebhookID    string `mapstructure:"webhook_id"`
	WebhookToken string `mapstructure:"webhook_token"`
}

type APIKey struct {
	Name        string   `mapstructure:"name"`
	Key         string   `mapstructure:"key"`
	Permissions []string `mapstructure:"permissions"`
}

// Admin grants permissions to a staff member, used for immunity and vpn kick exemptions.
type Admin struct {
	SteamID     string   `mapstructure:"steam_id"`
	Name        string   `mapstructure:"name"`
	Permissions []string `mapstructure:"permissions"`
}

type Auth struct {
	APIKeys []APIKey `mapstructure:"api_keys"`
	Admins  []Admin  `mapstructure:"admins"`
}

type Audit struct {
	Retention time.Duration `mapstructure:"retention"`
}

type VPN struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	// ASNLookupURL is queried with {ip} replaced by the address. ASN rules are only matched when set.
	ASNLookupURL string `mapstructure:"asn_lookup_url"`
}

// APIKeys converts the configured keys into their runtime form.
func (c Config) APIKeys() (auth.APIKeys, error) {
	keys := make(auth.APIKeys, 0, len(c.Auth.APIKeys))

	for _, key := range c.Auth.APIKeys {
		perms, errPerms := auth.ParsePermissions(key.Permissions)
		if errPerms != nil {
			return nil, fmt.Errorf("%w: api key %s: %w", ErrInvalidConfig, key.Name, errPerms)
		}

		keys = append(keys, auth.APIKey{Name: key.Name, Key: key.Key, Permissions: perms})
	}

	return keys, nil
}

// Admins converts the configured staff directory into its runtime form.
func (c Config) Admins() (auth.Admins, error) {
	admins := make(auth.Admins, 0, len(c.Auth.Admins))

	for _, admin := range c.Auth.Admins {
		sid := steamid.New(admin.SteamID)
		if !sid.Valid() {
			return nil, fmt.Errorf("%w: admin %s has an invalid steam_id %q", ErrInvalidConfig, admin.Name, admin.SteamID)
		}

		perms, errPerms := auth.ParsePermissions(admin.Permissions)
		if errPerms != nil {
			return nil, fmt.Errorf("%w: admin %s: %w", ErrInvalidConfig, admin.Name, errPerms)
		}

		admins = append(admins, auth.Admin{SteamID: sid, Name: admin.Name, Permissions: perms})
	}

	return admins, nil
}

// Validate checks the values that cannot be fixed up with a default.
func (c Config) Validate() error {
	driver, errDriver := database.ParseDriver(string(c.Database.Driver))
	if errDriver != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errDriver)
	}

	switch driver {
	case database.DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for postgres", ErrInvalidConfig)
		}
	case database.DriverMongo:
		if c.Database.MongoURI == "" || c.Database.MongoDB == "" {
			return fmt.Errorf("%w: database.mongo_uri and database.mongo_db are required for mongo", ErrInvalidConfig)
		}
	case database.DriverMemory:
	}

	if c.Discord.Enabled && (c.Discord.WebhookID == "" || c.Discord.WebhookToken == "") {
		return fmt.Errorf("%w: discord.webhook_id and discord.webhook_token are required", ErrInvalidConfig)
	}

	for _, key := range c.Auth.APIKeys {
		if key.Name == "" || len(key.Key) < minAPIKeyLength {
			return fmt.Errorf("%w: api keys need a name and a key of at least %d characters",
				ErrInvalidConfig, minAPIKeyLength)
		}
	}

	if _, errKeys := c.APIKeys(); errKeys != nil {
		return errKeys
	}

	if _, errAdmins := c.Admins(); errAdmins != nil {
		return errAdmins
	}

	if c.VPN.ASNLookupURL != "" && !strings.Contains(c.VPN.ASNLookupURL, "{ip}") {
		return fmt.Errorf("%w: vpn.asn_lookup_url must contain an {ip} placeholder", ErrInvalidConfig)
	}

	return nil
}
