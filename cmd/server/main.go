// Command server runs the file relay: ephemeral realtime messaging over
// websockets plus disk-backed file uploads shared by served path.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"git.uuxo.net/uuxo/file-relay/internal/config"
	"git.uuxo.net/uuxo/file-relay/internal/fileindex"
	"git.uuxo.net/uuxo/file-relay/internal/logging"
	"git.uuxo.net/uuxo/file-relay/internal/metadata"
	"git.uuxo.net/uuxo/file-relay/internal/metrics"
	"git.uuxo.net/uuxo/file-relay/internal/ratelimit"
	"git.uuxo.net/uuxo/file-relay/internal/relay"
	"git.uuxo.net/uuxo/file-relay/internal/scanning"
	"git.uuxo.net/uuxo/file-relay/internal/server"
	"git.uuxo.net/uuxo/file-relay/internal/storage"
	"git.uuxo.net/uuxo/file-relay/internal/thumbs"
	"git.uuxo.net/uuxo/file-relay/internal/utils"
	"git.uuxo.net/uuxo/file-relay/internal/workers"
)

const version = "1.0.0"

var log = logrus.New()

func main() {
	var configFile string
	var showVersion bool
	flag.StringVar(&configFile, "config", "./config.toml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("file-relay %s\n", version)
		return
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Setup(cfg, log)
	propagateLogger(log)
	logging.LogSystemInfo(log, version)

	maxUpload, err := utils.ParseSize(cfg.Server.MaxUploadSize)
	if err != nil {
		log.Fatalf("Invalid max_upload_size: %v", err)
	}
	minFree, err := utils.ParseSize(cfg.Server.MinFreeBytes)
	if err != nil {
		log.Fatalf("Invalid min_free_bytes: %v", err)
	}

	if err := os.MkdirAll(cfg.Server.StoragePath, 0o755); err != nil {
		log.Fatalf("Failed to create storage path: %v", err)
	}

	metrics.InitMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go metrics.UpdateSystemMetrics(ctx)
	go sampleDiskFree(ctx, cfg.Server.StoragePath)

	admission := storage.NewAdmission(cfg.Server.StoragePath, minFree)
	cache := metadata.NewCache(cfg.Relay.MetadataCacheSize)
	registry := relay.NewRegistry(cfg.Server.MaxSessions)
	limiter := ratelimit.New(cfg.Relay.MessageRateCeiling, cfg.Relay.RateIdentityCapacity)

	pipeline := relay.NewPipeline(registry, limiter, cache,
		cfg.Server.StoragePath, cfg.Relay.MaxTextLength, cfg.Relay.MaxPathLength, maxUpload)

	// Inline payloads arrive base64-encoded, about 4/3 the decoded size.
	readLimit := maxUpload*4/3 + 64<<10
	hub := relay.NewHub(registry, pipeline, cfg.Relay.SendQueueSize, readLimit, cfg.Server.TrustedProxies)
	go hub.Run()

	scanner := scanning.Init(&cfg.Scanning)
	gen := thumbs.Init(&cfg.Thumbnails)

	var index *fileindex.Index
	if cfg.Index.Enabled {
		index, err = fileindex.Open(cfg.Index.DBPath)
		if err != nil {
			log.Fatalf("Failed to open file index: %v", err)
		}
		go runIndexCleanup(ctx, cfg, index)
	}

	pool := workers.NewPool(runtime.NumCPU(), 64)

	handlers := server.NewHandlers(cfg, admission, cache, registry, hub,
		scanner, gen, index, pool, maxUpload)
	mux := handlers.Routes()
	if cfg.Server.MetricsEnabled {
		mux.Handle(cfg.Server.MetricsPath, promhttp.Handler())
	}

	srv := server.New(cfg.ListenAddress(), mux,
		parseTimeout(cfg.Timeouts.Read, 300*time.Second),
		parseTimeout(cfg.Timeouts.Write, 300*time.Second),
		parseTimeout(cfg.Timeouts.Idle, 600*time.Second),
	)

	if cfg.Server.PIDFilePath != "" {
		if err := logging.WritePIDFile(cfg.Server.PIDFilePath, log); err != nil {
			log.Fatalf("Failed to write PID file: %v", err)
		}
	}

	server.SetupGracefulShutdown(srv, cancel,
		parseTimeout(cfg.Timeouts.Shutdown, 30*time.Second),
		func() {
			hub.Stop()
			limiter.Close()
			pool.Stop()
			if index != nil {
				if err := index.Close(); err != nil {
					log.Warnf("Failed to close file index: %v", err)
				}
			}
			if cfg.Server.CleanUponExit {
				cleanStorage(cfg.Server.StoragePath)
			}
			if cfg.Server.PIDFilePath != "" {
				logging.RemovePIDFile(cfg.Server.PIDFilePath, log)
			}
		})

	server.PrintStartupBanner(version, cfg.ListenAddress())
	if err := server.Start(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
}

// propagateLogger hands the configured logger to every package.
func propagateLogger(l *logrus.Logger) {
	config.SetLogger(l)
	metrics.SetLogger(l)
	storage.SetLogger(l)
	ratelimit.SetLogger(l)
	relay.SetLogger(l)
	server.SetLogger(l)
	scanning.SetLogger(l)
	thumbs.SetLogger(l)
	fileindex.SetLogger(l)
	workers.SetLogger(l)
}

func parseTimeout(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// sampleDiskFree keeps the disk free gauge current.
func sampleDiskFree(ctx context.Context, path string) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if free, err := storage.FreeBytes(path); err == nil {
				metrics.DiskFreeBytes.Set(float64(free))
			}
		}
	}
}

// runIndexCleanup periodically expires old uploads from the index and
// removes their on-disk artifacts.
func runIndexCleanup(ctx context.Context, cfg *config.Config, index *fileindex.Index) {
	ttl, err := utils.ParseTTL(cfg.Index.FileTTL)
	if err != nil {
		log.Warnf("Invalid index file_ttl %q, cleanup disabled: %v", cfg.Index.FileTTL, err)
		return
	}
	interval := parseTimeout(cfg.Index.CleanupInterval, time.Hour)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			names, err := index.DeleteOlderThan(time.Now().Add(-ttl))
			if err != nil {
				log.Warnf("Index cleanup failed: %v", err)
				continue
			}
			for _, name := range names {
				p := filepath.Join(cfg.Server.StoragePath, name)
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					log.Warnf("Failed to remove expired file %s: %v", name, err)
				}
				_ = os.Remove(thumbs.Path(p))
			}
			if len(names) > 0 {
				log.Infof("Cleaned up %d expired uploads", len(names))
			}
		}
	}
}

// cleanStorage removes uploaded files on shutdown when configured.
func cleanStorage(storagePath string) {
	entries, err := os.ReadDir(storagePath)
	if err != nil {
		log.Warnf("Failed to read storage path for cleanup: %v", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(storagePath, e.Name())); err != nil {
			log.Warnf("Failed to remove %s: %v", e.Name(), err)
		}
	}
	log.Info("Storage cleaned on exit")
}
