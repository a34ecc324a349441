package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	HTTP     HTTPConfig     `yaml:"http" mapstructure:"http"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Download DownloadConfig `yaml:"download" mapstructure:"download"`
	Safety   SafetyConfig   `yaml:"safety" mapstructure:"safety"`
	SEC      SECConfig      `yaml:"sec" mapstructure:"sec"`
	UKCH     UKCHConfig     `yaml:"uk_ch" mapstructure:"uk_ch"`
	ESEF     ESEFConfig     `yaml:"esef" mapstructure:"esef"`
	Library  LibraryConfig  `yaml:"library" mapstructure:"library"`
	DB       DBConfig       `yaml:"db" mapstructure:"db"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// PathsConfig holds the directory roots of the on-disk layout.
type PathsConfig struct {
	Root            string `yaml:"root" mapstructure:"root"`
	Entities        string `yaml:"entities" mapstructure:"entities"`
	Taxonomies      string `yaml:"taxonomies" mapstructure:"taxonomies"`
	Temp            string `yaml:"temp" mapstructure:"temp"`
	Cache           string `yaml:"cache" mapstructure:"cache"`
	Logs            string `yaml:"logs" mapstructure:"logs"`
	ManualDownloads string `yaml:"manual_downloads" mapstructure:"manual_downloads"`
	ManualProcessed string `yaml:"manual_processed" mapstructure:"manual_processed"`
}

// HTTPConfig holds request timeouts.
type HTTPConfig struct {
	RequestTimeoutSecs int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	ConnectTimeoutSecs int `yaml:"connect_timeout_secs" mapstructure:"connect_timeout_secs"`
	ReadTimeoutSecs    int `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
}

// RequestTimeout returns the total request timeout as a duration.
func (c HTTPConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// ConnectTimeout returns the connect timeout as a duration.
func (c HTTPConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}

// RetryConfig holds backoff tuning for transient failures.
type RetryConfig struct {
	Attempts     int     `yaml:"attempts" mapstructure:"attempts"`
	DelaySecs    float64 `yaml:"delay_secs" mapstructure:"delay_secs"`
	MaxDelaySecs float64 `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
}

// Delay returns the base retry delay as a duration.
func (c RetryConfig) Delay() time.Duration {
	return time.Duration(c.DelaySecs * float64(time.Second))
}

// MaxDelay returns the backoff cap as a duration.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySecs * float64(time.Second))
}

// DownloadConfig configures the acquisition pipeline.
type DownloadConfig struct {
	MaxConcurrent int  `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	ChunkSize     int  `yaml:"chunk_size" mapstructure:"chunk_size"`
	EnableResume  bool `yaml:"enable_resume" mapstructure:"enable_resume"`
	CleanupTemp   bool `yaml:"cleanup_temp" mapstructure:"cleanup_temp"`
	TempMaxAgeHrs int  `yaml:"temp_max_age_hours" mapstructure:"temp_max_age_hours"`
}

// TempMaxAge returns the age beyond which temp files are reaped.
func (c DownloadConfig) TempMaxAge() time.Duration {
	return time.Duration(c.TempMaxAgeHrs) * time.Hour
}

// SafetyConfig bounds archive extraction.
type SafetyConfig struct {
	MaxArchiveSize     int64 `yaml:"max_archive_size" mapstructure:"max_archive_size"`
	MaxExtractionDepth int   `yaml:"max_extraction_depth" mapstructure:"max_extraction_depth"`
	MinFileSize        int64 `yaml:"min_file_size" mapstructure:"min_file_size"`
}

// SECConfig holds SEC EDGAR access settings.
type SECConfig struct {
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// UKCHConfig holds UK Companies House access settings.
type UKCHConfig struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// ESEFConfig holds ESEF aggregator access settings.
type ESEFConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// LibraryConfig configures the taxonomy library resolver.
type LibraryConfig struct {
	MonitorIntervalSecs int  `yaml:"monitor_interval_secs" mapstructure:"monitor_interval_secs"`
	MinFilesThreshold   int  `yaml:"min_files_threshold" mapstructure:"min_files_threshold"`
	CacheTTLSecs        int  `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	MaxTotalAttempts    int  `yaml:"max_total_attempts" mapstructure:"max_total_attempts"`
	MaxDownloadAttempts int  `yaml:"max_download_attempts" mapstructure:"max_download_attempts"`
	XSDMaxImportDepth   int  `yaml:"xsd_max_import_depth" mapstructure:"xsd_max_import_depth"`
	DirectoryMaxDepth   int  `yaml:"directory_max_depth" mapstructure:"directory_max_depth"`
	EnableFallback      bool `yaml:"enable_fallback" mapstructure:"enable_fallback"`
}

// MonitorInterval returns the retry monitor loop interval.
func (c LibraryConfig) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSecs) * time.Second
}

// CacheTTL returns the library coordinator result cache TTL.
func (c LibraryConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// DBConfig configures the Postgres connection pool.
type DBConfig struct {
	Host            string `yaml:"host" mapstructure:"host"`
	Port            int    `yaml:"port" mapstructure:"port"`
	Name            string `yaml:"name" mapstructure:"name"`
	User            string `yaml:"user" mapstructure:"user"`
	Password        string `yaml:"password" mapstructure:"password"`
	PoolMaxConns    int32  `yaml:"pool_max_conns" mapstructure:"pool_max_conns"`
	PoolMinConns    int32  `yaml:"pool_min_conns" mapstructure:"pool_min_conns"`
	PoolRecycleMins int    `yaml:"pool_recycle_mins" mapstructure:"pool_recycle_mins"`
	URL             string `yaml:"url" mapstructure:"url"`
}

// ConnString returns the pgx connection string. An explicit URL wins over
// the individual host/port/name fields.
func (c DBConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	auth := ""
	if c.User != "" {
		auth = c.User
		if c.Password != "" {
			auth += ":" + c.Password
		}
		auth += "@"
	}
	return fmt.Sprintf("postgres://%s%s:%d/%s", auth, c.Host, c.Port, c.Name)
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FILINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("paths.root", "./data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("http.request_timeout_secs", 120)
	v.SetDefault("http.connect_timeout_secs", 10)
	v.SetDefault("http.read_timeout_secs", 60)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay_secs", 1.0)
	v.SetDefault("retry.max_delay_secs", 60.0)
	v.SetDefault("download.max_concurrent", 3)
	v.SetDefault("download.chunk_size", 8192)
	v.SetDefault("download.enable_resume", true)
	v.SetDefault("download.cleanup_temp", true)
	v.SetDefault("download.temp_max_age_hours", 24)
	v.SetDefault("safety.max_archive_size", int64(2)<<30)
	v.SetDefault("safety.max_extraction_depth", 10)
	v.SetDefault("safety.min_file_size", 1)
	v.SetDefault("sec.user_agent", "Sells Advisors blake@sellsadvisors.com")
	v.SetDefault("uk_ch.user_agent", "filings-cli/1.0 (accounts research)")
	v.SetDefault("esef.base_url", "https://filings.xbrl.org")
	v.SetDefault("library.monitor_interval_secs", 300)
	v.SetDefault("library.min_files_threshold", 1)
	v.SetDefault("library.cache_ttl_secs", 3600)
	v.SetDefault("library.max_total_attempts", 6)
	v.SetDefault("library.max_download_attempts", 3)
	v.SetDefault("library.xsd_max_import_depth", 3)
	v.SetDefault("library.directory_max_depth", 3)
	v.SetDefault("library.enable_fallback", true)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "filings")
	v.SetDefault("db.user", "filings")
	v.SetDefault("db.pool_max_conns", 10)
	v.SetDefault("db.pool_min_conns", 2)
	v.SetDefault("db.pool_recycle_mins", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	cfg.applyPathDefaults()
	return &cfg, nil
}

// applyPathDefaults derives unset directory roots from paths.root.
func (c *Config) applyPathDefaults() {
	root := c.Paths.Root
	if c.Paths.Entities == "" {
		c.Paths.Entities = filepath.Join(root, "entities")
	}
	if c.Paths.Taxonomies == "" {
		c.Paths.Taxonomies = filepath.Join(root, "taxonomies")
	}
	if c.Paths.Temp == "" {
		c.Paths.Temp = filepath.Join(root, "temp")
	}
	if c.Paths.Cache == "" {
		c.Paths.Cache = filepath.Join(root, "cache")
	}
	if c.Paths.Logs == "" {
		c.Paths.Logs = filepath.Join(root, "logs")
	}
	if c.Paths.ManualDownloads == "" {
		c.Paths.ManualDownloads = filepath.Join(root, "manual_downloads")
	}
	if c.Paths.ManualProcessed == "" {
		c.Paths.ManualProcessed = filepath.Join(root, "manual_processed")
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
