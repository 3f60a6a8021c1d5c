package speech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
	"github.com/KevinXu-github/goggins-ai/internal/observability"
	"github.com/KevinXu-github/goggins-ai/internal/store"
)

type OrchestratorOptions struct {
	CacheDir     string
	Remote       Backend
	Local        Backend
	DefaultVoice string
	// FallbackToDefault enables the single retry against the remote backend
	// with the default voice after any backend failure.
	FallbackToDefault bool
	Metrics           *observability.Metrics
	Log               *zap.Logger
}

// Orchestrator memoizes synthesis results on disk and dedupes in-flight work
// per cache key, so two concurrent requests for the same text and voice cost
// one backend invocation.
type Orchestrator struct {
	cacheDir     string
	remote       Backend
	local        Backend
	defaultVoice string
	fallback     bool
	metrics      *observability.Metrics
	log          *zap.Logger
	inflight     singleflight.Group
}

func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Remote == nil {
		return nil, fmt.Errorf("speech: remote backend is required")
	}
	if opts.CacheDir == "" {
		opts.CacheDir = "audio_cache"
	}
	if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio cache dir: %w", err)
	}
	if opts.DefaultVoice == "" || !store.ValidVoice(opts.DefaultVoice) ||
		opts.DefaultVoice == store.VoiceClone {
		opts.DefaultVoice = store.DefaultSettings().Voice
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Orchestrator{
		cacheDir:     opts.CacheDir,
		remote:       opts.Remote,
		local:        opts.Local,
		defaultVoice: opts.DefaultVoice,
		fallback:     opts.FallbackToDefault,
		metrics:      opts.Metrics,
		log:          opts.Log,
	}, nil
}

func (o *Orchestrator) CacheDir() string { return o.cacheDir }

// Ready reports whether the remote backend can take work. The local backend
// is optional capacity, not a readiness requirement.
func (o *Orchestrator) Ready(ctx context.Context) error {
	return o.remote.Ready(ctx)
}

// LocalReady reports whether the voice-clone backend is usable.
func (o *Orchestrator) LocalReady(ctx context.Context) error {
	if o.local == nil {
		return fmt.Errorf("local synthesis backend not configured")
	}
	return o.local.Ready(ctx)
}

// Synthesize returns audio for the request, producing it if no cache entry
// exists. The call honors ctx for waiting, but once a backend run starts it
// continues in the background so the cache still gets populated for the next
// caller when this one goes away.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request) (Audio, error) {
	req, err := o.normalize(req)
	if err != nil {
		return Audio{}, err
	}

	key := CacheKey(req)
	backend := o.backendFor(req.Voice)
	path := o.entryPath(key, backend)

	if audio, ok := o.cachedEntry(path, key, backend); ok {
		o.countCache("hit")
		return audio, nil
	}
	o.countCache("miss")

	ch := o.inflight.DoChan(key, func() (any, error) {
		return o.produce(context.WithoutCancel(ctx), backend, req, key, path)
	})

	select {
	case <-ctx.Done():
		return Audio{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Audio{}, res.Err
		}
		return res.Val.(Audio), nil
	}
}

func (o *Orchestrator) normalize(req Request) (Request, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return req, apperr.Validation("text", "must not be empty")
	}
	if req.Voice == "" {
		req.Voice = o.defaultVoice
	}
	if !store.ValidVoice(req.Voice) {
		return req, apperr.Validation("voice", fmt.Sprintf("unknown voice %q", req.Voice))
	}
	if req.Voice == store.VoiceClone {
		if req.Quality == "" {
			req.Quality = QualityFast
		}
		if !ValidQuality(req.Quality) {
			return req, apperr.Validation("quality", fmt.Sprintf("unknown preset %q", req.Quality))
		}
		req.Speed = 0
	} else {
		req.Quality = ""
		if req.Speed <= 0 {
			req.Speed = 1.0
		}
	}
	return req, nil
}

func (o *Orchestrator) backendFor(voice string) Backend {
	if voice == store.VoiceClone && o.local != nil {
		return o.local
	}
	return o.remote
}

func (o *Orchestrator) entryPath(key string, backend Backend) string {
	return filepath.Join(o.cacheDir, key+"."+backend.Format())
}

func (o *Orchestrator) cachedEntry(path, key string, backend Backend) (Audio, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return Audio{}, false
	}
	return Audio{
		Path:     path,
		Format:   backend.Format(),
		CacheKey: key,
		Size:     info.Size(),
		Cached:   true,
	}, true
}

// produce runs one backend attempt plus at most one fallback hop. It always
// executes on a non-cancellable context; callers wait on it via singleflight.
func (o *Orchestrator) produce(ctx context.Context, backend Backend, req Request, key, path string) (Audio, error) {
	audio, err := o.runBackend(ctx, backend, req, key, path)
	if err == nil {
		return audio, nil
	}
	if !o.fallback || !apperr.IsSynthesisFailure(err) {
		return Audio{}, err
	}
	if backend == o.remote && req.Voice == o.defaultVoice {
		// Already on the voice the fallback would pick.
		return Audio{}, err
	}

	o.log.Warn("synthesis failed, falling back to default remote voice",
		zap.String("backend", backend.Name()),
		zap.String("voice", req.Voice),
		zap.Error(err))
	o.metrics.ObserveIndicator("fallback_voice")

	fbReq := Request{Text: req.Text, Voice: o.defaultVoice, Speed: 1.0}
	fbKey := CacheKey(fbReq)
	fbPath := o.entryPath(fbKey, o.remote)
	if audio, ok := o.cachedEntry(fbPath, fbKey, o.remote); ok {
		audio.Fallback = true
		return audio, nil
	}
	audio, fbErr := o.runBackend(ctx, o.remote, fbReq, fbKey, fbPath)
	if fbErr != nil {
		return Audio{}, fmt.Errorf("primary failed: %v; fallback failed: %w", err, fbErr)
	}
	audio.Fallback = true
	return audio, nil
}

func (o *Orchestrator) runBackend(ctx context.Context, backend Backend, req Request, key, path string) (Audio, error) {
	if o.metrics != nil {
		o.metrics.ActiveSyntheses.Inc()
		defer o.metrics.ActiveSyntheses.Dec()
	}
	start := time.Now()

	err := backend.Synthesize(ctx, req, path)
	elapsed := time.Since(start)
	if o.metrics != nil {
		o.metrics.ObserveSynthLatency(backend.Name(), elapsed)
		o.metrics.ObservePipelineStage("synth_"+stageName(backend), elapsed)
	}
	if err != nil {
		o.countSynth(backend, "error")
		// Whatever a failed run left at the cache path must not become a hit.
		_ = os.Remove(path)
		return Audio{}, err
	}

	info, statErr := os.Stat(path)
	if statErr != nil || info.Size() == 0 {
		o.countSynth(backend, "error")
		return Audio{}, fmt.Errorf("%w: backend %s produced no output at %s",
			apperr.ErrPostconditionFailed, backend.Name(), path)
	}
	o.countSynth(backend, "ok")
	o.log.Info("synthesis complete",
		zap.String("backend", backend.Name()),
		zap.String("voice", req.Voice),
		zap.Duration("elapsed", elapsed),
		zap.Int64("bytes", info.Size()))
	return Audio{
		Path:     path,
		Format:   backend.Format(),
		CacheKey: key,
		Size:     info.Size(),
	}, nil
}

func stageName(b Backend) string {
	if b.Name() == "tortoise" {
		return "local"
	}
	return "remote"
}

func (o *Orchestrator) countSynth(backend Backend, outcome string) {
	if o.metrics != nil {
		o.metrics.SynthRequests.WithLabelValues(backend.Name(), outcome).Inc()
	}
}

func (o *Orchestrator) countCache(result string) {
	if o.metrics != nil {
		o.metrics.CacheEvents.WithLabelValues(result).Inc()
	}
}

// CacheStats walks the cache directory and reports entry count and total
// size. Used by the status endpoint.
type CacheStats struct {
	Entries   int   `json:"entries"`
	TotalSize int64 `json:"total_size"`
}

func (o *Orchestrator) Stats() (CacheStats, error) {
	var stats CacheStats
	entries, err := os.ReadDir(o.cacheDir)
	if err != nil {
		return stats, fmt.Errorf("read audio cache dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".partial") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.TotalSize += info.Size()
	}
	return stats, nil
}

// ResolveFile maps a cache file name to its on-disk path, refusing anything
// that escapes the cache directory.
func (o *Orchestrator) ResolveFile(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", apperr.Validation("file", "invalid audio file name")
	}
	path := filepath.Join(o.cacheDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", apperr.ErrNotFound
	}
	return path, nil
}
