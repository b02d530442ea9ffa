package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig            = "LINEDRIVE_CONFIG"
	EnvListen            = "LINEDRIVE_LISTEN"
	EnvChannelSecret     = "LINEDRIVE_CHANNEL_SECRET"
	EnvChannelToken      = "LINEDRIVE_CHANNEL_TOKEN"
	EnvOAuthClientSecret = "LINEDRIVE_OAUTH_CLIENT_SECRET"
	EnvDSN               = "LINEDRIVE_DSN"
	EnvRedisPassword     = "LINEDRIVE_REDIS_PASSWORD"
	EnvArchiveSecretKey  = "LINEDRIVE_ARCHIVE_SECRET_KEY"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath        string
	Listen            string
	ChannelSecret     string
	ChannelToken      string
	OAuthClientSecret string
	DSN               string
	RedisPassword     string
	ArchiveSecretKey  string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:        os.Getenv(EnvConfig),
		Listen:            os.Getenv(EnvListen),
		ChannelSecret:     os.Getenv(EnvChannelSecret),
		ChannelToken:      os.Getenv(EnvChannelToken),
		OAuthClientSecret: os.Getenv(EnvOAuthClientSecret),
		DSN:               os.Getenv(EnvDSN),
		RedisPassword:     os.Getenv(EnvRedisPassword),
		ArchiveSecretKey:  os.Getenv(EnvArchiveSecretKey),
	}
}

// apply copies every non-empty override into cfg.
func (e *EnvOverrides) apply(cfg *Config) {
	setIf(&cfg.Server.Listen, e.Listen)
	setIf(&cfg.Line.ChannelSecret, e.ChannelSecret)
	setIf(&cfg.Line.ChannelToken, e.ChannelToken)
	setIf(&cfg.OAuth.ClientSecret, e.OAuthClientSecret)
	setIf(&cfg.Storage.DSN, e.DSN)
	setIf(&cfg.State.RedisPassword, e.RedisPassword)
	setIf(&cfg.Archive.SecretKey, e.ArchiveSecretKey)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
