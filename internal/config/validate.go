package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minWorkers         = 1
	maxWorkers         = 64
	minShutdownTimeout = time.Second
	minStateTTL        = time.Minute
	maxRedisDB         = 15
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass. Fields only `serve` needs are
// checked separately by ValidateServe.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLine(&cfg.Line)...)
	errs = append(errs, validateOAuth(&cfg.OAuth)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateState(&cfg.State)...)
	errs = append(errs, validateDrive(&cfg.Drive)...)
	errs = append(errs, validateFanout(&cfg.Fanout)...)
	errs = append(errs, validateArchive(&cfg.Archive)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateServe checks the settings that must be present to run the bot.
// Admin commands work without them.
func ValidateServe(cfg *Config) error {
	var errs []error

	required := []struct{ name, value string }{
		{"line.channel_secret", cfg.Line.ChannelSecret},
		{"line.channel_token", cfg.Line.ChannelToken},
		{"oauth.client_id", cfg.OAuth.ClientID},
		{"server.public_url", cfg.Server.PublicURL},
	}

	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s: required to serve", r.name))
		}
	}

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.Listen == "" {
		errs = append(errs, errors.New("server.listen: must not be empty"))
	}

	if s.PublicURL != "" {
		if err := validateBaseURL(s.PublicURL); err != nil {
			errs = append(errs, fmt.Errorf("server.public_url: %w", err))
		}
	}

	errs = append(errs, validateDurationMin("server.shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)

	return errs
}

func validateLine(l *LineConfig) []error {
	n, err := ParseSize(l.MaxContentSize)
	if err != nil {
		return []error{fmt.Errorf("line.max_content_size: %w", err)}
	}

	if n <= 0 {
		return []error{errors.New("line.max_content_size: must be positive")}
	}

	return nil
}

func validateOAuth(o *OAuthConfig) []error {
	var errs []error

	if o.Tenant == "" {
		errs = append(errs, errors.New("oauth.tenant: must not be empty"))
	}

	if len(o.Scopes) == 0 {
		errs = append(errs, errors.New("oauth.scopes: must not be empty"))
	}

	errs = append(errs, validateDurationMin("oauth.state_ttl", o.StateTTL, minStateTTL)...)

	return errs
}

func validateStorage(s *StorageConfig) []error {
	var errs []error

	switch s.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if s.DSN == "" {
			errs = append(errs, errors.New("storage.dsn: required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend: must be one of memory, sqlite, postgres; got %q", s.Backend))
	}

	errs = append(errs, validateDurationMin("storage.store_timeout", s.StoreTimeout, time.Millisecond)...)

	return errs
}

func validateState(s *StateConfig) []error {
	var errs []error

	switch s.Backend {
	case BackendMemory:
	case BackendRedis:
		if s.RedisAddr == "" {
			errs = append(errs, errors.New("state.redis_addr: required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("state.backend: must be memory or redis, got %q", s.Backend))
	}

	if s.RedisDB < 0 || s.RedisDB > maxRedisDB {
		errs = append(errs, fmt.Errorf("state.redis_db: must be between 0 and %d, got %d", maxRedisDB, s.RedisDB))
	}

	return errs
}

func validateDrive(d *DriveConfig) []error {
	var errs []error

	if strings.Trim(d.Folder, "/") == "" {
		errs = append(errs, errors.New("drive.folder: must name a folder"))
	}

	if err := validateBaseURL(d.APIBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("drive.api_base_url: %w", err))
	}

	return errs
}

func validateFanout(f *FanoutConfig) []error {
	var errs []error

	if f.Workers < minWorkers || f.Workers > maxWorkers {
		errs = append(errs, fmt.Errorf("fanout.workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, f.Workers))
	}

	errs = append(errs, validateDurationMin("fanout.refresh_margin", f.RefreshMargin, 0)...)
	errs = append(errs, validateDurationMin("fanout.refresh_timeout", f.RefreshTimeout, time.Second)...)
	errs = append(errs, validateDurationMin("fanout.upload_timeout", f.UploadTimeout, time.Second)...)
	errs = append(errs, validateDurationMin("fanout.notify_timeout", f.NotifyTimeout, time.Second)...)
	errs = append(errs, validateDurationMin("fanout.fanout_deadline", f.FanoutDeadline, time.Second)...)

	return errs
}

func validateArchive(a *ArchiveConfig) []error {
	switch a.Backend {
	case BackendNone:
		return nil
	case BackendDir:
		if a.Dir == "" {
			return []error{errors.New("archive.dir: required for the dir backend")}
		}

		return nil
	case BackendMinIO:
		var errs []error

		for _, f := range []struct{ name, value string }{
			{"archive.endpoint", a.Endpoint},
			{"archive.access_key", a.AccessKey},
			{"archive.bucket", a.Bucket},
		} {
			if f.value == "" {
				errs = append(errs, fmt.Errorf("%s: required for the minio backend", f.name))
			}
		}

		return errs
	default:
		return []error{fmt.Errorf("archive.backend: must be one of none, dir, minio; got %q", a.Backend)}
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{LogFormatAuto: true, LogFormatText: true, LogFormatJSON: true}
)

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateDurationMin(name, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q", name, value)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", name, minimum, value)}
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}

	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}

	return nil
}
