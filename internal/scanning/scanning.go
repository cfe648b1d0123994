// Package scanning handles ClamAV virus scanning integration.
package scanning

import (
	"fmt"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/sirupsen/logrus"

	"git.uuxo.net/uuxo/file-relay/internal/config"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// Scanner wraps a clamd connection. A nil Scanner admits everything.
type Scanner struct {
	client  *clamd.Clamd
	timeout time.Duration
}

// Init connects to clamd when scanning is enabled. Returns nil (disabled)
// when cfg.Enabled is false, and also when the daemon is unreachable:
// scanning is best-effort and must not block startup.
func Init(cfg *config.ScanningConfig) *Scanner {
	if !cfg.Enabled {
		log.Info("ClamAV scanning disabled")
		return nil
	}

	client := clamd.NewClamd(cfg.ClamdSocket)
	if err := client.Ping(); err != nil {
		log.Warnf("ClamAV unreachable at %s, scanning disabled: %v", cfg.ClamdSocket, err)
		return nil
	}

	timeout := 30 * time.Second
	if d, err := time.ParseDuration(cfg.Timeout); err == nil {
		timeout = d
	}

	log.Infof("ClamAV initialized: %s", cfg.ClamdSocket)
	return &Scanner{client: client, timeout: timeout}
}

// ScanFile scans a finished upload. Returns an error when a threat is
// found or the scan itself fails.
func (s *Scanner) ScanFile(path string) error {
	if s == nil {
		return nil
	}

	response, err := s.client.ScanFile(path)
	if err != nil {
		return fmt.Errorf("ClamAV scan error: %w", err)
	}

	deadline := time.After(s.timeout)
	for {
		select {
		case result, ok := <-response:
			if !ok {
				return nil
			}
			if result == nil {
				continue
			}
			switch result.Status {
			case clamd.RES_FOUND:
				log.Warnf("ClamAV: threat found in %s: %s", path, result.Description)
				return fmt.Errorf("threat found: %s", result.Description)
			case clamd.RES_ERROR:
				return fmt.Errorf("scan error: %s", result.Description)
			}
		case <-deadline:
			return fmt.Errorf("ClamAV scan timeout for %s", path)
		}
	}
}
