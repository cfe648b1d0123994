// Package thumbs generates JPEG thumbnails for uploaded images so chat
// clients can render previews without fetching the full file.
package thumbs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"git.uuxo.net/uuxo/file-relay/internal/config"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// Suffix is appended to the original path to form the thumbnail path.
const Suffix = ".thumb.jpg"

// Generator holds thumbnail settings. A nil Generator does nothing.
type Generator struct {
	width   int
	height  int
	quality int
}

// Init builds a Generator from config, or nil when disabled.
func Init(cfg *config.ThumbnailsConfig) *Generator {
	if !cfg.Enabled {
		log.Info("Thumbnail generation disabled")
		return nil
	}
	log.Infof("Thumbnail generation enabled (%dx%d, quality=%d)", cfg.Width, cfg.Height, cfg.Quality)
	return &Generator{width: cfg.Width, height: cfg.Height, quality: cfg.Quality}
}

// IsImageFile returns true if the file extension is a supported image format.
func IsImageFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp":
		return true
	}
	return false
}

// Path returns the thumbnail path for a given original path.
func Path(originalPath string) string {
	return originalPath + Suffix
}

// Generate creates a JPEG thumbnail for the given image file. Returns the
// thumbnail path, or ("", nil) when the file is not an image or generation
// is disabled. Thumbnail failures never fail the upload.
func (g *Generator) Generate(absPath string) (string, error) {
	if g == nil || !IsImageFile(absPath) {
		return "", nil
	}

	src, err := imaging.Open(absPath, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to open image %s: %w", filepath.Base(absPath), err)
	}

	thumb := imaging.Fit(src, g.width, g.height, imaging.Lanczos)

	tPath := Path(absPath)
	out, err := os.Create(tPath)
	if err != nil {
		return "", fmt.Errorf("failed to create thumbnail file: %w", err)
	}
	defer out.Close()

	if err := imaging.Encode(out, thumb, imaging.JPEG, imaging.JPEGQuality(g.quality)); err != nil {
		os.Remove(tPath)
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	log.Debugf("Thumbnail generated: %s", filepath.Base(tPath))
	return tPath, nil
}
