package db

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAttemptNotFound indicates no delivery attempt matches the given
// identifier or provider reference. Callers distinguish it from transient
// query failures, which must not be swallowed.
var ErrAttemptNotFound = errors.New("delivery attempt not found")

// DeliveryAttempt represents one outbound voicemail-drop attempt.
// The provider reference is assigned at creation (once the provider accepts
// the call) and never changes; post-initiation fields are mutated only by the
// delivery tracker in response to status callbacks.
type DeliveryAttempt struct {
	ID              uuid.UUID  `json:"id"`
	ProviderRef     string     `json:"provider_ref"`
	CampaignID      *uuid.UUID `json:"campaign_id,omitempty"`
	PhoneNumber     string     `json:"phone_number"`
	MessageText     string     `json:"message_text,omitempty"`
	AudioAssetID    *uuid.UUID `json:"audio_asset_id,omitempty"`
	Status          string     `json:"status"`
	ProviderStatus  string     `json:"provider_status,omitempty"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	CostCents       int        `json:"cost_cents"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Attempt status constants. Everything except StatusInitiated is terminal.
const (
	StatusInitiated = "initiated"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusBusy      = "busy"
	StatusNoAnswer  = "no-answer"
)

// IsTerminal reports whether a status permits no further transition.
func IsTerminal(status string) bool {
	switch status {
	case StatusDelivered, StatusFailed, StatusBusy, StatusNoAnswer:
		return true
	}
	return false
}

// Audio asset source constants
const (
	AudioSourceSynthesized = "synthesized"
	AudioSourceUploaded    = "uploaded"
)

// AudioAsset is a playable audio reference. Read-only after creation;
// attempts hold it by ID, never by ownership.
type AudioAsset struct {
	ID          uuid.UUID `json:"id"`
	Source      string    `json:"source"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"-"`
	Voice       *string   `json:"voice,omitempty"`
	Tone        *string   `json:"tone,omitempty"`
	Speed       *float64  `json:"speed,omitempty"`
	Language    *string   `json:"language,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
