// Package config implements TOML configuration loading and validation for
// linedrive. Values resolve through a four-layer chain: defaults -> config
// file -> environment -> CLI flags. Secrets may be supplied through the
// environment only, so the config file can be committed without them.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Line    LineConfig    `toml:"line"`
	OAuth   OAuthConfig   `toml:"oauth"`
	Storage StorageConfig `toml:"storage"`
	State   StateConfig   `toml:"state"`
	Drive   DriveConfig   `toml:"drive"`
	Fanout  FanoutConfig  `toml:"fanout"`
	Archive ArchiveConfig `toml:"archive"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig controls the HTTP listener. PublicURL is the externally
// reachable base URL; the OAuth redirect is derived from it.
type ServerConfig struct {
	Listen          string `toml:"listen"`
	PublicURL       string `toml:"public_url"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// LineConfig holds the Messaging API channel credentials.
type LineConfig struct {
	ChannelSecret  string `toml:"channel_secret"`
	ChannelToken   string `toml:"channel_token"`
	MaxContentSize string `toml:"max_content_size"`
}

// OAuthConfig configures the Microsoft identity platform app registration.
type OAuthConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Tenant       string   `toml:"tenant"`
	Scopes       []string `toml:"scopes"`
	StateTTL     string   `toml:"state_ttl"`
}

// StorageConfig selects the durable store backend.
type StorageConfig struct {
	Backend      string `toml:"backend"`
	DSN          string `toml:"dsn"`
	StoreTimeout string `toml:"store_timeout"`
}

// StateConfig selects where pending consent states live. Redis lets several
// replicas share them.
type StateConfig struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// DriveConfig controls where files land in each user's OneDrive.
type DriveConfig struct {
	Folder     string `toml:"folder"`
	APIBaseURL string `toml:"api_base_url"`
}

// FanoutConfig holds the per-file delivery tunables. All of them can be
// changed at runtime by editing the config file.
type FanoutConfig struct {
	Workers        int    `toml:"workers"`
	RefreshMargin  string `toml:"refresh_margin"`
	RefreshTimeout string `toml:"refresh_timeout"`
	UploadTimeout  string `toml:"upload_timeout"`
	NotifyTimeout  string `toml:"notify_timeout"`
	FanoutDeadline string `toml:"fanout_deadline"`
}

// ArchiveConfig selects the optional copy of every received file.
type ArchiveConfig struct {
	Backend   string `toml:"backend"`
	Dir       string `toml:"dir"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from an explicit value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	Listen     *string // --listen flag
}

// FanoutTimings is FanoutConfig with durations parsed.
type FanoutTimings struct {
	Workers        int
	RefreshMargin  time.Duration
	RefreshTimeout time.Duration
	UploadTimeout  time.Duration
	NotifyTimeout  time.Duration
	FanoutDeadline time.Duration
}

// Timings parses the fanout durations. Call only on a validated Config.
func (f *FanoutConfig) Timings() FanoutTimings {
	return FanoutTimings{
		Workers:        f.Workers,
		RefreshMargin:  mustDuration(f.RefreshMargin),
		RefreshTimeout: mustDuration(f.RefreshTimeout),
		UploadTimeout:  mustDuration(f.UploadTimeout),
		NotifyTimeout:  mustDuration(f.NotifyTimeout),
		FanoutDeadline: mustDuration(f.FanoutDeadline),
	}
}

// ShutdownTimeoutDuration parses server.shutdown_timeout.
func (s *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return mustDuration(s.ShutdownTimeout)
}

// StoreTimeoutDuration parses storage.store_timeout.
func (s *StorageConfig) StoreTimeoutDuration() time.Duration {
	return mustDuration(s.StoreTimeout)
}

// StateTTLDuration parses oauth.state_ttl.
func (o *OAuthConfig) StateTTLDuration() time.Duration {
	return mustDuration(o.StateTTL)
}

// MaxContentBytes parses line.max_content_size.
func (l *LineConfig) MaxContentBytes() int64 {
	n, err := ParseSize(l.MaxContentSize)
	if err != nil {
		return 0
	}

	return n
}

// mustDuration parses a validated duration string. Invalid input yields 0,
// which every consumer treats as "use the default".
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
