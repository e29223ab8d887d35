// Package models defines the domain types shared across the gateway:
// model descriptors served by the registry, conversation messages with
// their lifecycle status, and the merged generation parameters sent to
// inference backends.
package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageStatus tracks the lifecycle of a message. Assistant messages are
// created pending with empty content and move to exactly one terminal state.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusCompleted MessageStatus = "completed"
	StatusError     MessageStatus = "error"
)

// ModelDescriptor is the registry's record for one model hosted by an
// inference backend.
type ModelDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`

	// IsActive is mutated only by the heartbeat loop.
	IsActive bool `json:"is_active"`

	MaxContextTokens int `json:"max_context_tokens"`

	// BackendURL is the service that reported this model during sync.
	// Empty means the configured default backend serves it.
	BackendURL string `json:"backend_url,omitempty"`

	DefaultParams GenerationParams `json:"default_params"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenerationParams are the sampling parameters for a completion call.
// Nil fields mean "not set"; Merge resolves the final values in the order
// server default -> model default -> caller override.
type GenerationParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Server-wide sampling defaults, applied before any model or caller value.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 1.0
)

// Merge overlays non-nil fields of override onto p and returns the result.
// Neither receiver nor argument is modified.
func (p GenerationParams) Merge(override GenerationParams) GenerationParams {
	out := p
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.TopP != nil {
		out.TopP = override.TopP
	}
	if override.MaxTokens != nil {
		out.MaxTokens = override.MaxTokens
	}
	if len(override.Stop) > 0 {
		out.Stop = override.Stop
	}
	return out
}

// Resolved returns the final temperature and top_p with server defaults
// filled in for unset fields.
func (p GenerationParams) Resolved() (temperature, topP float64) {
	temperature = DefaultTemperature
	if p.Temperature != nil {
		temperature = *p.Temperature
	}
	topP = DefaultTopP
	if p.TopP != nil {
		topP = *p.TopP
	}
	return temperature, topP
}

// Float64 returns a pointer to v, for building GenerationParams literals.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v, for building GenerationParams literals.
func Int(v int) *int { return &v }

// ConversationMessage is one stored message of a conversation. Position is
// assigned at creation under the store's lock and is monotonically
// increasing per conversation; ordering uses it, never wall-clock time.
type ConversationMessage struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	Role           MessageRole   `json:"role"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	Position       int           `json:"position"`

	// ModelID records which model produced an assistant message.
	ModelID string `json:"model_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is the role/content pair sent to OpenAI-compatible backends.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
