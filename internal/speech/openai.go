package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
)

const defaultTTSModel = "tts-1"

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

// OpenAIBackend synthesizes speech through the hosted audio API. It is the
// fast path: a few seconds per request, mp3 output.
type OpenAIBackend struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = defaultTTSModel
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAIBackend{cfg: cfg, client: client}
}

func (b *OpenAIBackend) Name() string   { return "openai" }
func (b *OpenAIBackend) Format() string { return "mp3" }

func (b *OpenAIBackend) Ready(_ context.Context) error {
	if strings.TrimSpace(b.cfg.APIKey) == "" {
		return fmt.Errorf("openai tts: missing API key")
	}
	return nil
}

type speechRequest struct {
	Model string  `json:"model"`
	Input string  `json:"input"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed,omitempty"`
}

func (b *OpenAIBackend) Synthesize(ctx context.Context, req Request, outPath string) error {
	if err := b.Ready(ctx); err != nil {
		return &apperr.RemoteSynthesisError{Status: http.StatusUnauthorized, Detail: err.Error()}
	}

	body, err := json.Marshal(speechRequest{
		Model: b.cfg.Model,
		Input: req.Text,
		Voice: req.Voice,
		Speed: req.Speed,
	})
	if err != nil {
		return fmt.Errorf("encode speech request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(b.cfg.BaseURL, "/")+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build speech request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return &apperr.RemoteSynthesisError{Status: 0, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apperr.RemoteSynthesisError{
			Status: resp.StatusCode,
			Detail: strings.TrimSpace(string(detail)),
		}
	}

	return writeFileAtomic(outPath, resp.Body)
}

// writeFileAtomic streams r into path via a temp file and rename, so a
// concurrent reader never observes a partially written cache entry.
func writeFileAtomic(path string, r io.Reader) error {
	tmp := path + ".partial"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write audio file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close audio file: %w", closeErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize audio file: %w", err)
	}
	return nil
}
