// Package config contains all configuration types and loading logic.
package config

// ServerConfig holds server-level configuration.
type ServerConfig struct {
	BindIP         string   `toml:"bind_ip" mapstructure:"bind_ip"`
	Port           string   `toml:"port" mapstructure:"port"`
	StoragePath    string   `toml:"storage_path" mapstructure:"storage_path"`
	MaxUploadSize  string   `toml:"max_upload_size" mapstructure:"max_upload_size"`
	MinFreeBytes   string   `toml:"min_free_bytes" mapstructure:"min_free_bytes"`
	MaxSessions    int      `toml:"max_sessions" mapstructure:"max_sessions"`
	SelfServe      bool     `toml:"self_serve" mapstructure:"self_serve"`
	TrustedProxies []string `toml:"trusted_proxies" mapstructure:"trusted_proxies"`
	MetricsEnabled bool     `toml:"metrics_enabled" mapstructure:"metrics_enabled"`
	MetricsPath    string   `toml:"metrics_path" mapstructure:"metrics_path"`
	PIDFilePath    string   `toml:"pid_file_path" mapstructure:"pid_file_path"`
	CleanUponExit  bool     `toml:"clean_upon_exit" mapstructure:"clean_upon_exit"`
}

// RelayConfig holds realtime relay configuration.
type RelayConfig struct {
	MessageRateCeiling   int `toml:"message_rate_ceiling" mapstructure:"message_rate_ceiling"`
	RateIdentityCapacity int `toml:"rate_identity_capacity" mapstructure:"rate_identity_capacity"`
	MaxTextLength        int `toml:"max_text_length" mapstructure:"max_text_length"`
	MaxPathLength        int `toml:"max_path_length" mapstructure:"max_path_length"`
	MetadataCacheSize    int `toml:"metadata_cache_size" mapstructure:"metadata_cache_size"`
	SendQueueSize        int `toml:"send_queue_size" mapstructure:"send_queue_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSize    int    `toml:"max_size" mapstructure:"max_size"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `toml:"max_age" mapstructure:"max_age"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// TimeoutConfig holds HTTP server timeout configuration.
type TimeoutConfig struct {
	Read     string `toml:"read" mapstructure:"read"`
	Write    string `toml:"write" mapstructure:"write"`
	Idle     string `toml:"idle" mapstructure:"idle"`
	Shutdown string `toml:"shutdown" mapstructure:"shutdown"`
}

// IndexConfig holds the SQLite upload index configuration.
type IndexConfig struct {
	Enabled         bool   `toml:"enabled" mapstructure:"enabled"`
	DBPath          string `toml:"db_path" mapstructure:"db_path"`
	FileTTL         string `toml:"file_ttl" mapstructure:"file_ttl"`
	CleanupInterval string `toml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// ScanningConfig holds ClamAV scanning configuration.
type ScanningConfig struct {
	Enabled     bool   `toml:"enabled" mapstructure:"enabled"`
	ClamdSocket string `toml:"clamd_socket" mapstructure:"clamd_socket"`
	Timeout     string `toml:"timeout" mapstructure:"timeout"`
}

// ThumbnailsConfig holds thumbnail generation configuration.
type ThumbnailsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	Width   int  `toml:"width" mapstructure:"width"`
	Height  int  `toml:"height" mapstructure:"height"`
	Quality int  `toml:"quality" mapstructure:"quality"`
}

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Relay      RelayConfig      `toml:"relay" mapstructure:"relay"`
	Logging    LoggingConfig    `toml:"logging" mapstructure:"logging"`
	Timeouts   TimeoutConfig    `toml:"timeouts" mapstructure:"timeouts"`
	Index      IndexConfig      `toml:"index" mapstructure:"index"`
	Scanning   ScanningConfig   `toml:"scanning" mapstructure:"scanning"`
	Thumbnails ThumbnailsConfig `toml:"thumbnails" mapstructure:"thumbnails"`
}
