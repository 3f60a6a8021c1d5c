package speech

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
)

type TortoiseConfig struct {
	Python   string
	Script   string
	VoiceDir string
	// KillGrace is how long a timed-out process gets between SIGTERM and
	// SIGKILL.
	KillGrace     time.Duration
	TimeoutFast   time.Duration
	TimeoutMedium time.Duration
	TimeoutHigh   time.Duration
}

// TortoiseBackend runs the voice-clone generator script as a subprocess.
// It is the slow path: minutes per request, wav output, bounded by a
// per-preset deadline.
type TortoiseBackend struct {
	cfg TortoiseConfig
	log *zap.Logger
}

func NewTortoiseBackend(cfg TortoiseConfig, log *zap.Logger) *TortoiseBackend {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	if cfg.TimeoutFast <= 0 {
		cfg.TimeoutFast = 4 * time.Minute
	}
	if cfg.TimeoutMedium <= 0 {
		cfg.TimeoutMedium = 10 * time.Minute
	}
	if cfg.TimeoutHigh <= 0 {
		cfg.TimeoutHigh = 25 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TortoiseBackend{cfg: cfg, log: log}
}

func (b *TortoiseBackend) Name() string   { return "tortoise" }
func (b *TortoiseBackend) Format() string { return "wav" }

// Ready checks that the generator script and voice samples are present. It
// does not spawn python; a broken interpreter surfaces on first synthesis.
func (b *TortoiseBackend) Ready(_ context.Context) error {
	if _, err := os.Stat(b.cfg.Script); err != nil {
		return fmt.Errorf("tortoise script %s: %w", b.cfg.Script, err)
	}
	info, err := os.Stat(b.cfg.VoiceDir)
	if err != nil {
		return fmt.Errorf("voice samples dir %s: %w", b.cfg.VoiceDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("voice samples path %s is not a directory", b.cfg.VoiceDir)
	}
	return nil
}

func (b *TortoiseBackend) timeoutFor(quality string) time.Duration {
	switch quality {
	case QualityHigh:
		return b.cfg.TimeoutHigh
	case QualityMedium:
		return b.cfg.TimeoutMedium
	default:
		return b.cfg.TimeoutFast
	}
}

func (b *TortoiseBackend) Synthesize(ctx context.Context, req Request, outPath string) error {
	quality := req.Quality
	if !ValidQuality(quality) {
		quality = QualityFast
	}

	// The process writes to a scratch path; the output only reaches outPath
	// via rename after the run is verified, so a killed or failed run never
	// leaves partial bytes where the cache lookup would find them.
	tmpPath := outPath + ".partial"
	cmd := exec.Command(b.cfg.Python, b.cfg.Script,
		"--text", req.Text,
		"--voice_dir", b.cfg.VoiceDir,
		"--output", tmpPath,
		"--quality", quality,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Own process group, so terminate can signal tortoise worker children
	// too; WaitDelay stops Wait from hanging on pipes an orphan still holds.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = b.cfg.KillGrace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return &apperr.LocalSynthesisError{
			Kind:     apperr.LocalFailureOther,
			ExitCode: -1,
			Detail:   fmt.Sprintf("start %s: %v", b.cfg.Python, err),
		}
	}
	b.log.Info("tortoise synthesis started",
		zap.String("quality", quality),
		zap.Int("text_len", len(req.Text)),
		zap.Int("pid", cmd.Process.Pid))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timeout := b.timeoutFor(quality)
	select {
	case err := <-done:
		if err != nil {
			_ = os.Remove(tmpPath)
			return b.classifyExit(cmd, stdout.String(), stderr.String())
		}
	case <-time.After(timeout):
		b.terminate(cmd, done)
		_ = os.Remove(tmpPath)
		return &apperr.LocalSynthesisError{
			Kind:     apperr.LocalFailureTimeout,
			ExitCode: -1,
			Detail:   fmt.Sprintf("exceeded %s deadline for quality %q", timeout, quality),
		}
	case <-ctx.Done():
		b.terminate(cmd, done)
		_ = os.Remove(tmpPath)
		return ctx.Err()
	}

	// A zero exit without the output file is a lie, not a success.
	info, err := os.Stat(tmpPath)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: process exited 0 but %s is missing or empty",
			apperr.ErrPostconditionFailed, outPath)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("publish %s: %w", outPath, err)
	}
	b.log.Info("tortoise synthesis finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("bytes", info.Size()))
	return nil
}

// terminate asks the whole process group to exit, then kills it after the
// grace period. Signaling the group reaches worker children the script
// spawned, which would otherwise keep Wait blocked on the inherited pipes.
func (b *TortoiseBackend) terminate(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(b.cfg.KillGrace):
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		<-done
	}
}

func (b *TortoiseBackend) classifyExit(cmd *exec.Cmd, stdout, stderr string) error {
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return &apperr.LocalSynthesisError{
		Kind:     classifyStderr(stderr),
		ExitCode: exitCode,
		Detail:   meaningfulError(stdout, stderr),
	}
}

func classifyStderr(stderr string) apperr.LocalFailureKind {
	switch {
	case strings.Contains(stderr, "ModuleNotFoundError"):
		return apperr.LocalFailureMissingDeps
	case strings.Contains(stderr, "CUDA"):
		return apperr.LocalFailureAccelerator
	case strings.Contains(stderr, "voice_dir"):
		return apperr.LocalFailureMissingSamples
	default:
		return apperr.LocalFailureOther
	}
}

// meaningfulError extracts the first real error line from the combined
// process output, skipping deprecation noise.
func meaningfulError(stdout, stderr string) string {
	for _, line := range strings.Split(stdout+"\n"+stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "FutureWarning") {
			continue
		}
		if strings.Contains(line, "Error") {
			return line
		}
	}
	return "python process failed"
}
