package config

// Default values for configuration options, the first layer of the
// override chain.
const (
	defaultListen          = ":8080"
	defaultShutdownTimeout = "30s"
	defaultMaxContentSize  = "50MB"
	defaultTenant          = "common"
	defaultStateTTL        = "10m"
	defaultStoreTimeout    = "5s"
	defaultDriveFolder     = "LINE"
	defaultAPIBaseURL      = "https://graph.microsoft.com/v1.0"
	defaultWorkers         = 4
	defaultRefreshMargin   = "60s"
	defaultRefreshTimeout  = "15s"
	defaultUploadTimeout   = "2m"
	defaultNotifyTimeout   = "10s"
	defaultFanoutDeadline  = "5m"
	defaultLogLevel        = "info"
	defaultLogFormat       = LogFormatAuto
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendNone     = "none"
	BackendDir      = "dir"
	BackendMinIO    = "minio"
)

// Log formats. Auto picks text on a terminal and JSON otherwise.
const (
	LogFormatAuto = "auto"
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// defaultScopes is what the bot needs: write access to the user's files and
// a refresh token.
var defaultScopes = []string{"Files.ReadWrite", "offline_access"}

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          defaultListen,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Line: LineConfig{
			MaxContentSize: defaultMaxContentSize,
		},
		OAuth: OAuthConfig{
			Tenant:   defaultTenant,
			Scopes:   append([]string(nil), defaultScopes...),
			StateTTL: defaultStateTTL,
		},
		Storage: StorageConfig{
			Backend:      BackendSQLite,
			StoreTimeout: defaultStoreTimeout,
		},
		State: StateConfig{
			Backend: BackendMemory,
		},
		Drive: DriveConfig{
			Folder:     defaultDriveFolder,
			APIBaseURL: defaultAPIBaseURL,
		},
		Fanout: FanoutConfig{
			Workers:        defaultWorkers,
			RefreshMargin:  defaultRefreshMargin,
			RefreshTimeout: defaultRefreshTimeout,
			UploadTimeout:  defaultUploadTimeout,
			NotifyTimeout:  defaultNotifyTimeout,
			FanoutDeadline: defaultFanoutDeadline,
		},
		Archive: ArchiveConfig{
			Backend: BackendNone,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
