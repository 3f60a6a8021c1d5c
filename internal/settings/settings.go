// Package settings reads and merges per-session user settings.
package settings

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
	"github.com/KevinXu-github/goggins-ai/internal/store"
)

type Service struct {
	store store.Store
	log   *zap.Logger
}

func NewService(st store.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, log: log}
}

// Patch carries a partial settings update; nil fields are left unchanged.
type Patch struct {
	Name               *string  `json:"name,omitempty"`
	Intensity          *string  `json:"intensity,omitempty"`
	Voice              *string  `json:"voice,omitempty"`
	PrimaryColor       *string  `json:"primaryColor,omitempty"`
	ShowTimestamps     *bool    `json:"showTimestamps,omitempty"`
	DarkMode           *bool    `json:"darkMode,omitempty"`
	VoiceEnabled       *bool    `json:"voiceEnabled,omitempty"`
	SpeechInputEnabled *bool    `json:"speechInputEnabled,omitempty"`
	VoiceSpeed         *float64 `json:"voiceSpeed,omitempty"`
}

func (s *Service) Get(ctx context.Context, sessionID string) (store.Settings, error) {
	u, err := store.Update(ctx, s.store, sessionID, nil)
	if err != nil {
		return store.Settings{}, err
	}
	return u.Settings, nil
}

// Update merges the patch over the stored settings and persists the result.
// Out-of-enum intensity or voice values are replaced with the stored default
// and logged rather than rejected, matching observed product behavior.
func (s *Service) Update(ctx context.Context, sessionID string, patch Patch) (store.Settings, error) {
	if patch.VoiceSpeed != nil && *patch.VoiceSpeed <= 0 {
		return store.Settings{}, apperr.Validation("voiceSpeed", "must be positive")
	}

	u, err := store.Update(ctx, s.store, sessionID, func(u *store.User) error {
		apply(&u.Settings, patch, s.log, sessionID)
		return nil
	})
	if err != nil {
		return store.Settings{}, err
	}
	return u.Settings, nil
}

func apply(dst *store.Settings, patch Patch, log *zap.Logger, sessionID string) {
	if patch.Name != nil {
		dst.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Intensity != nil {
		v := store.Intensity(strings.ToLower(strings.TrimSpace(*patch.Intensity)))
		if store.ValidIntensity(v) {
			dst.Intensity = v
		} else {
			log.Warn("ignoring invalid intensity, keeping default",
				zap.String("session", sessionID),
				zap.String("intensity", string(v)))
			dst.Intensity = store.DefaultSettings().Intensity
		}
	}
	if patch.Voice != nil {
		v := strings.ToLower(strings.TrimSpace(*patch.Voice))
		if store.ValidVoice(v) {
			dst.Voice = v
		} else {
			log.Warn("ignoring invalid voice, keeping default",
				zap.String("session", sessionID),
				zap.String("voice", v))
			dst.Voice = store.DefaultSettings().Voice
		}
	}
	if patch.PrimaryColor != nil {
		dst.PrimaryColor = strings.TrimSpace(*patch.PrimaryColor)
	}
	if patch.ShowTimestamps != nil {
		dst.ShowTimestamps = *patch.ShowTimestamps
	}
	if patch.DarkMode != nil {
		dst.DarkMode = *patch.DarkMode
	}
	if patch.VoiceEnabled != nil {
		dst.VoiceEnabled = *patch.VoiceEnabled
	}
	if patch.SpeechInputEnabled != nil {
		dst.SpeechInputEnabled = *patch.SpeechInputEnabled
	}
	if patch.VoiceSpeed != nil {
		dst.VoiceSpeed = *patch.VoiceSpeed
	}
}
