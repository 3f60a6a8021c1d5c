package settings

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
	"github.com/KevinXu-github/goggins-ai/internal/store"
)

func strPtr(s string) *string   { return &s }
func boolPtr(b bool) *bool      { return &b }
func f64Ptr(f float64) *float64 { return &f }

func newService() *Service {
	return NewService(store.NewMemoryStore(), zap.NewNop())
}

func TestGetSeedsDefaults(t *testing.T) {
	s := newService()
	got, err := s.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != store.DefaultSettings() {
		t.Fatalf("Get() = %+v, want defaults", got)
	}
}

func TestUpdateMergesPartialFields(t *testing.T) {
	ctx := context.Background()
	s := newService()

	got, err := s.Update(ctx, "s1", Patch{
		Intensity: strPtr("drill"),
		DarkMode:  boolPtr(false),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Intensity != store.IntensityDrill {
		t.Fatalf("Intensity = %q, want drill", got.Intensity)
	}
	if got.DarkMode {
		t.Fatalf("DarkMode = true, want false")
	}
	// Untouched fields keep their stored values.
	if got.Voice != "onyx" || got.VoiceSpeed != 1.1 {
		t.Fatalf("untouched fields changed: %+v", got)
	}

	// A later patch must not reset the earlier one.
	got, err = s.Update(ctx, "s1", Patch{Voice: strPtr("nova")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Intensity != store.IntensityDrill || got.Voice != "nova" {
		t.Fatalf("merge lost earlier fields: %+v", got)
	}
}

func TestUpdateSubstitutesDefaultForInvalidEnum(t *testing.T) {
	ctx := context.Background()
	s := newService()

	if _, err := s.Update(ctx, "s1", Patch{Intensity: strPtr("drill")}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := s.Update(ctx, "s1", Patch{Intensity: strPtr("screaming"), Voice: strPtr("morgan")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Intensity != store.IntensityChallenging {
		t.Fatalf("invalid intensity persisted as %q, want default %q", got.Intensity, store.IntensityChallenging)
	}
	if got.Voice != "onyx" {
		t.Fatalf("invalid voice persisted as %q, want default onyx", got.Voice)
	}

	// The persisted value must be a valid enum member.
	stored, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !store.ValidIntensity(stored.Intensity) || !store.ValidVoice(stored.Voice) {
		t.Fatalf("persisted out-of-enum settings: %+v", stored)
	}
}

func TestUpdateAcceptsCloneVoice(t *testing.T) {
	s := newService()
	got, err := s.Update(context.Background(), "s1", Patch{Voice: strPtr("clone")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Voice != store.VoiceClone {
		t.Fatalf("Voice = %q, want clone sentinel", got.Voice)
	}
}

func TestUpdateRejectsNonPositiveSpeed(t *testing.T) {
	s := newService()
	if _, err := s.Update(context.Background(), "s1", Patch{VoiceSpeed: f64Ptr(0)}); !apperr.IsValidation(err) {
		t.Fatalf("Update(speed=0) error = %v, want ValidationError", err)
	}
}
