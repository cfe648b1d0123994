package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// Load reads configuration from a TOML file using viper, with
// FILERELAY_-prefixed environment variables overriding file values.
// An empty configFile loads pure defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FILERELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var conf Config

	if configFile != "" {
		if !fileExists(configFile) {
			return nil, fmt.Errorf("configuration file not found: %s", configFile)
		}
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	applyDefaults(&conf)

	if configFile != "" {
		log.Infof("Configuration loaded from %s", configFile)
	} else {
		log.Info("No config file given, using defaults")
	}
	return &conf, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	conf := &Config{}
	applyDefaults(conf)
	return conf
}

func applyDefaults(conf *Config) {
	if conf.Server.BindIP == "" {
		conf.Server.BindIP = "0.0.0.0"
	}
	if conf.Server.Port == "" {
		conf.Server.Port = "8080"
	}
	if conf.Server.StoragePath == "" {
		conf.Server.StoragePath = "./uploads"
	}
	if conf.Server.MaxUploadSize == "" {
		conf.Server.MaxUploadSize = "100MB"
	}
	if conf.Server.MinFreeBytes == "" {
		conf.Server.MinFreeBytes = "1GB"
	}
	if conf.Server.MaxSessions == 0 {
		conf.Server.MaxSessions = 100
	}
	if conf.Server.MetricsPath == "" {
		conf.Server.MetricsPath = "/metrics"
	}
	if conf.Server.PIDFilePath == "" {
		conf.Server.PIDFilePath = "/var/run/file-relay.pid"
	}

	if conf.Relay.MessageRateCeiling == 0 {
		conf.Relay.MessageRateCeiling = 100
	}
	if conf.Relay.RateIdentityCapacity == 0 {
		conf.Relay.RateIdentityCapacity = 1000
	}
	if conf.Relay.MaxTextLength == 0 {
		conf.Relay.MaxTextLength = 65536
	}
	if conf.Relay.MaxPathLength == 0 {
		conf.Relay.MaxPathLength = 256
	}
	if conf.Relay.MetadataCacheSize == 0 {
		conf.Relay.MetadataCacheSize = 1000
	}
	if conf.Relay.SendQueueSize == 0 {
		conf.Relay.SendQueueSize = 64
	}

	if conf.Logging.Level == "" {
		conf.Logging.Level = "info"
	}
	if conf.Logging.MaxSize == 0 {
		conf.Logging.MaxSize = 100
	}
	if conf.Logging.MaxBackups == 0 {
		conf.Logging.MaxBackups = 7
	}
	if conf.Logging.MaxAge == 0 {
		conf.Logging.MaxAge = 30
	}

	if conf.Timeouts.Read == "" {
		conf.Timeouts.Read = "300s"
	}
	if conf.Timeouts.Write == "" {
		conf.Timeouts.Write = "300s"
	}
	if conf.Timeouts.Idle == "" {
		conf.Timeouts.Idle = "600s"
	}
	if conf.Timeouts.Shutdown == "" {
		conf.Timeouts.Shutdown = "30s"
	}

	if conf.Index.DBPath == "" {
		conf.Index.DBPath = "./file-relay.db"
	}
	if conf.Index.FileTTL == "" {
		conf.Index.FileTTL = "30d"
	}
	if conf.Index.CleanupInterval == "" {
		conf.Index.CleanupInterval = "1h"
	}

	if conf.Scanning.ClamdSocket == "" {
		conf.Scanning.ClamdSocket = "/var/run/clamav/clamd.ctl"
	}
	if conf.Scanning.Timeout == "" {
		conf.Scanning.Timeout = "30s"
	}

	if conf.Thumbnails.Width == 0 {
		conf.Thumbnails.Width = 320
	}
	if conf.Thumbnails.Height == 0 {
		conf.Thumbnails.Height = 240
	}
	if conf.Thumbnails.Quality == 0 {
		conf.Thumbnails.Quality = 75
	}
}

// ListenAddress joins the configured bind IP and port.
func (c *Config) ListenAddress() string {
	return c.Server.BindIP + ":" + c.Server.Port
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
