// Package media persists downloaded attachments on disk so the operator
// can open them outside Telegram, and prunes them after a retention period.
package media

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store struct {
	dir           string
	retentionDays int
	logger        *zap.Logger
}

func NewStore(dir string, retentionDays int, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create downloads directory %s: %w", dir, err)
	}
	return &Store{dir: dir, retentionDays: retentionDays, logger: logger}, nil
}

// Save writes data under a collision-free name and returns the full path.
// The original extension is kept so files open with the right program; when
// the sender gave no filename (photos, videos, voice notes) the extension is
// derived from the mime type instead.
func (s *Store) Save(data []byte, originalName, mimeType string) (string, error) {
	ext := filepath.Ext(originalName)
	if ext == "" {
		ext = extensionForMime(mimeType)
	}
	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("could not write %s: %w", path, err)
	}
	return path, nil
}

// WhatsApp's usual media mime types; the stdlib table misses several of
// them (notably ogg) and its first choice for jpeg varies by platform.
var mimeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
	"video/3gpp": ".3gp",
	"audio/ogg":  ".ogg",
	"audio/mpeg": ".mp3",
	"audio/mp4":  ".m4a",
	"audio/aac":  ".aac",
}

func extensionForMime(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ""
	}
	if ext, ok := mimeExtensions[base]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// Cleanup deletes files older than the retention period. A zero retention
// keeps everything.
func (s *Store) Cleanup() {
	if s.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("could not scan downloads directory", zap.Error(err))
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.logger.Warn("could not remove expired download",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("pruned expired downloads", zap.Int("count", removed))
	}
}
