// Package speech produces playable audio for chat responses. It memoizes
// synthesized files by content-addressed cache key and arbitrates between a
// fast remote backend and a slow local voice-clone subprocess.
package speech

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Quality presets for local synthesis. Higher quality is allowed more time.
const (
	QualityFast   = "fast"
	QualityMedium = "medium"
	QualityHigh   = "high"
)

// ValidQuality reports whether q is a recognized quality preset.
func ValidQuality(q string) bool {
	switch q {
	case QualityFast, QualityMedium, QualityHigh:
		return true
	}
	return false
}

// Request describes one synthesis job. Voice is either a remote voice name
// or the local-clone sentinel; Quality only applies to the local backend and
// Speed only to the remote one.
type Request struct {
	Text    string
	Voice   string
	Quality string
	Speed   float64
}

// Audio is the handle returned to callers. Path points at a file inside the
// cache directory; Cached is true when no backend ran for this call.
type Audio struct {
	Path     string `json:"path"`
	Format   string `json:"format"`
	CacheKey string `json:"cache_key"`
	Size     int64  `json:"size"`
	Cached   bool   `json:"cached"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Backend turns a synthesis request into an audio file at outPath.
type Backend interface {
	Name() string
	// Format returns the file extension of produced audio, without the dot.
	Format() string
	Synthesize(ctx context.Context, req Request, outPath string) error
	// Ready reports whether the backend can accept work right now.
	Ready(ctx context.Context) error
}

// CacheKey derives the content address for a request: an md5 of the text
// plus the voice and a preset slot. The slot is the quality preset for the
// clone voice and the formatted speed for remote voices, so the same text at
// a different speed or quality occupies a different cache entry.
func CacheKey(req Request) string {
	sum := md5.Sum([]byte(req.Text))
	slot := strings.TrimSpace(req.Quality)
	if slot == "" {
		slot = fmt.Sprintf("%.2f", req.Speed)
	}
	return hex.EncodeToString(sum[:]) + "_" + req.Voice + "_" + slot
}
