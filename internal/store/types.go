// Package store persists one denormalized User document per session token:
// settings, conversations and messages are embedded in the user record. The
// document store behind the Store interface is selected by URL scheme.
package store

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Intensity selects the tone of the assistant's system prompt.
type Intensity string

const (
	IntensityChallenging Intensity = "challenging"
	IntensityReflective  Intensity = "reflective"
	IntensityDrill       Intensity = "drill"
)

// VoiceClone is the sentinel voice id selecting the local voice-clone
// backend instead of a remote voice.
const VoiceClone = "clone"

var remoteVoices = map[string]bool{
	"alloy":   true,
	"echo":    true,
	"fable":   true,
	"onyx":    true,
	"nova":    true,
	"shimmer": true,
}

// RemoteVoices returns the fixed set of remote voice names.
func RemoteVoices() []string {
	return []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}
}

func ValidIntensity(v Intensity) bool {
	switch v {
	case IntensityChallenging, IntensityReflective, IntensityDrill:
		return true
	default:
		return false
	}
}

func ValidVoice(v string) bool {
	return v == VoiceClone || remoteVoices[v]
}

// AudioRef records cached synthesis output attached to a message.
type AudioRef struct {
	VoiceType string  `bson:"voice_type" json:"voiceType"`
	FileURL   string  `bson:"file_url" json:"fileUrl"`
	CacheKey  string  `bson:"cache_key" json:"cacheKey"`
	Duration  float64 `bson:"duration,omitempty" json:"duration,omitempty"`
	FileSize  int64   `bson:"file_size,omitempty" json:"fileSize,omitempty"`
}

// Message is append-only; the only after-the-fact mutation is attaching an
// AudioRef once synthesis completes.
type Message struct {
	ID        string    `bson:"id" json:"id"`
	Role      Role      `bson:"role" json:"role"`
	Content   string    `bson:"content" json:"content"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Audio     *AudioRef `bson:"audio,omitempty" json:"audio,omitempty"`
}

type Conversation struct {
	ID        string    `bson:"id" json:"id"`
	Title     string    `bson:"title" json:"title"`
	Messages  []Message `bson:"messages" json:"messages"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
	Active    bool      `bson:"active" json:"isActive"`
}

type Settings struct {
	Name               string    `bson:"name" json:"name"`
	Intensity          Intensity `bson:"intensity" json:"intensity"`
	Voice              string    `bson:"voice" json:"voice"`
	PrimaryColor       string    `bson:"primary_color" json:"primaryColor"`
	ShowTimestamps     bool      `bson:"show_timestamps" json:"showTimestamps"`
	DarkMode           bool      `bson:"dark_mode" json:"darkMode"`
	VoiceEnabled       bool      `bson:"voice_enabled" json:"voiceEnabled"`
	SpeechInputEnabled bool      `bson:"speech_input_enabled" json:"speechInputEnabled"`
	VoiceSpeed         float64   `bson:"voice_speed" json:"voiceSpeed"`
}

func DefaultSettings() Settings {
	return Settings{
		Name:               "Goggins Bot",
		Intensity:          IntensityChallenging,
		Voice:              "onyx",
		PrimaryColor:       "#1a1a1a",
		ShowTimestamps:     false,
		DarkMode:           true,
		VoiceEnabled:       true,
		SpeechInputEnabled: false,
		VoiceSpeed:         1.1,
	}
}

// User is the single persisted document for a session token.
// Version backs optimistic concurrency: Save refuses a stale version, so
// concurrent appends to the same conversation serialize through retries.
type User struct {
	SessionID             string         `bson:"_id" json:"sessionId"`
	Settings              Settings       `bson:"settings" json:"settings"`
	Conversations         []Conversation `bson:"conversations" json:"conversations"`
	CurrentConversationID string         `bson:"current_conversation_id,omitempty" json:"currentConversationId,omitempty"`
	CreatedAt             time.Time      `bson:"created_at" json:"createdAt"`
	UpdatedAt             time.Time      `bson:"updated_at" json:"updatedAt"`
	Version               int64          `bson:"version" json:"-"`
}

const (
	welcomeTitle   = "Welcome to Goggins Bot"
	welcomeMessage = "WHO'S GONNA CARRY THE BOATS?! Welcome to your motivation station. " +
		"I'm here to push you beyond your limits and help you become the person you're meant to be. Stay hard!"
)

// NewUser seeds a fresh user record: default settings and a welcome
// conversation holding one assistant message, which becomes current.
func NewUser(sessionID string) *User {
	now := time.Now().UTC()
	welcome := Conversation{
		ID:    uuid.NewString(),
		Title: welcomeTitle,
		Messages: []Message{{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   welcomeMessage,
			Timestamp: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
		Active:    true,
	}
	return &User{
		SessionID:             sessionID,
		Settings:              DefaultSettings(),
		Conversations:         []Conversation{welcome},
		CurrentConversationID: welcome.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// Conversation returns a pointer into the user's conversation list, or nil.
func (u *User) Conversation(id string) *Conversation {
	for i := range u.Conversations {
		if u.Conversations[i].ID == id {
			return &u.Conversations[i]
		}
	}
	return nil
}

// Stats summarizes the user's conversation state.
type Stats struct {
	TotalConversations  int `json:"totalConversations"`
	TotalMessages       int `json:"totalMessages"`
	ActiveConversations int `json:"activeConversations"`
}

func (u *User) Stats() Stats {
	s := Stats{TotalConversations: len(u.Conversations)}
	for i := range u.Conversations {
		s.TotalMessages += len(u.Conversations[i].Messages)
		if u.Conversations[i].Active {
			s.ActiveConversations++
		}
	}
	return s
}
