package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration to w as annotated TOML.
// Secrets are shown only as set or unset.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("[server]\n")
	ew.printf("listen           = %q\n", cfg.Server.Listen)
	ew.printf("public_url       = %q\n", cfg.Server.PublicURL)
	ew.printf("shutdown_timeout = %q\n\n", cfg.Server.ShutdownTimeout)

	ew.printf("[line]\n")
	ew.printf("channel_secret   = %s\n", redacted(cfg.Line.ChannelSecret))
	ew.printf("channel_token    = %s\n", redacted(cfg.Line.ChannelToken))
	ew.printf("max_content_size = %q\n\n", cfg.Line.MaxContentSize)

	ew.printf("[oauth]\n")
	ew.printf("client_id     = %q\n", cfg.OAuth.ClientID)
	ew.printf("client_secret = %s\n", redacted(cfg.OAuth.ClientSecret))
	ew.printf("tenant        = %q\n", cfg.OAuth.Tenant)
	ew.printf("scopes        = [%s]\n", joinQuoted(cfg.OAuth.Scopes))
	ew.printf("state_ttl     = %q\n\n", cfg.OAuth.StateTTL)

	ew.printf("[storage]\n")
	ew.printf("backend       = %q\n", cfg.Storage.Backend)
	ew.printf("dsn           = %s\n", redactedDSN(cfg.Storage.Backend, cfg.Storage.DSN))
	ew.printf("store_timeout = %q\n\n", cfg.Storage.StoreTimeout)

	ew.printf("[state]\n")
	ew.printf("backend        = %q\n", cfg.State.Backend)

	if cfg.State.Backend == BackendRedis {
		ew.printf("redis_addr     = %q\n", cfg.State.RedisAddr)
		ew.printf("redis_password = %s\n", redacted(cfg.State.RedisPassword))
		ew.printf("redis_db       = %d\n", cfg.State.RedisDB)
	}

	ew.printf("\n[drive]\n")
	ew.printf("folder       = %q\n", cfg.Drive.Folder)
	ew.printf("api_base_url = %q\n\n", cfg.Drive.APIBaseURL)

	f := &cfg.Fanout
	ew.printf("[fanout]\n")
	ew.printf("workers         = %d\n", f.Workers)
	ew.printf("refresh_margin  = %q\n", f.RefreshMargin)
	ew.printf("refresh_timeout = %q\n", f.RefreshTimeout)
	ew.printf("upload_timeout  = %q\n", f.UploadTimeout)
	ew.printf("notify_timeout  = %q\n", f.NotifyTimeout)
	ew.printf("fanout_deadline = %q\n\n", f.FanoutDeadline)

	a := &cfg.Archive
	ew.printf("[archive]\n")
	ew.printf("backend = %q\n", a.Backend)

	switch a.Backend {
	case BackendDir:
		ew.printf("dir     = %q\n", a.Dir)
	case BackendMinIO:
		ew.printf("endpoint   = %q\n", a.Endpoint)
		ew.printf("access_key = %q\n", a.AccessKey)
		ew.printf("secret_key = %s\n", redacted(a.SecretKey))
		ew.printf("bucket     = %q\n", a.Bucket)
	}

	ew.printf("\n[logging]\n")
	ew.printf("log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("log_format = %q\n", cfg.Logging.LogFormat)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func redacted(secret string) string {
	if secret == "" {
		return `""  # unset`
	}

	return `"********"  # set`
}

// redactedDSN shows a SQLite path but hides server DSNs, which carry
// passwords.
func redactedDSN(backend, dsn string) string {
	if backend == BackendSQLite || dsn == "" {
		return fmt.Sprintf("%q", dsn)
	}

	return redacted(dsn)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
