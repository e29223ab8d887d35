// Package chat assembles bounded model contexts from stored conversation
// messages and owns the message mutation paths, so every write
// invalidates the conversation's context cache in one place.
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"llm-gateway/internal/cache"
	"llm-gateway/internal/tokens"
	"llm-gateway/pkg/models"
)

// MessageStore is the external message persistence collaborator.
type MessageStore interface {
	Recent(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.ConversationMessage, error)
	Add(ctx context.Context, m models.ConversationMessage) (models.ConversationMessage, error)
	Get(ctx context.Context, id uuid.UUID) (models.ConversationMessage, bool, error)
	Update(ctx context.Context, m models.ConversationMessage) error
}

// Window sizes for the two assembly paths.
const (
	displayWindow = 10
	modelWindow   = 20
)

// DefaultSystemPrompt is injected when a conversation has no system
// message and no prompt is configured.
const DefaultSystemPrompt = "You are a helpful assistant."

// Service builds contexts and mutates messages.
type Service struct {
	messages     MessageStore
	cache        *cache.Service
	estimator    *tokens.Estimator
	systemPrompt string
}

// NewService builds an assembler. systemPrompt overrides
// DefaultSystemPrompt when non-empty.
func NewService(messages MessageStore, cacheSvc *cache.Service, estimator *tokens.Estimator, systemPrompt string) *Service {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Service{
		messages:     messages,
		cache:        cacheSvc,
		estimator:    estimator,
		systemPrompt: systemPrompt,
	}
}

// toChatMessage flattens a stored message to the wire role/content pair.
func toChatMessage(m models.ConversationMessage) models.ChatMessage {
	return models.ChatMessage{Role: string(m.Role), Content: m.Content}
}

// AssembleForDisplay returns the recent conversation window in
// OpenAI-message form: the most recent system message (or the default
// prompt) first, then non-system messages in position order. The result
// is cached under a hash of the fetched window; a hit skips assembly
// entirely.
func (s *Service) AssembleForDisplay(ctx context.Context, conversationID uuid.UUID) ([]models.ChatMessage, error) {
	recent, err := s.messages.Recent(ctx, conversationID, displayWindow)
	if err != nil {
		return nil, fmt.Errorf("fetch recent messages: %w", err)
	}

	input := make([]models.ChatMessage, 0, len(recent))
	for _, m := range recent {
		input = append(input, toChatMessage(m))
	}
	if cached, ok := s.cache.CachedContext(ctx, conversationID.String(), input); ok {
		return cached, nil
	}

	var system *models.ConversationMessage
	for i := range recent {
		if recent[i].Role == models.RoleSystem {
			system = &recent[i]
		}
	}

	assembled := make([]models.ChatMessage, 0, len(recent)+1)
	if system != nil {
		assembled = append(assembled, toChatMessage(*system))
	} else {
		assembled = append(assembled, models.ChatMessage{
			Role:    string(models.RoleSystem),
			Content: s.systemPrompt,
		})
	}

	rest := make([]models.ConversationMessage, 0, len(recent))
	for _, m := range recent {
		if m.Role != models.RoleSystem {
			rest = append(rest, m)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Position < rest[j].Position })
	for _, m := range rest {
		assembled = append(assembled, toChatMessage(m))
	}

	s.cache.CacheContext(ctx, conversationID.String(), input, assembled)
	return assembled, nil
}

// AssembleForModel returns the conversation context to send to a model:
// a larger recent window with system and empty messages filtered out,
// ordered by position, truncated to maxTokens when one is given. The
// truncated result is cached by (conversation, model, maxTokens) so an
// identical call against an unchanged conversation is a cache hit.
func (s *Service) AssembleForModel(ctx context.Context, conversationID uuid.UUID, modelID string, maxTokens int) ([]models.ChatMessage, error) {
	if maxTokens > 0 && modelID != "" {
		if cached, ok := s.cache.CachedTruncatedContext(ctx, conversationID.String(), modelID, maxTokens); ok {
			return cached, nil
		}
	}

	recent, err := s.messages.Recent(ctx, conversationID, modelWindow)
	if err != nil {
		return nil, fmt.Errorf("fetch recent messages: %w", err)
	}

	filtered := make([]models.ConversationMessage, 0, len(recent))
	for _, m := range recent {
		if m.Role == models.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		filtered = append(filtered, m)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Position < filtered[j].Position })

	context := make([]models.ChatMessage, 0, len(filtered))
	for _, m := range filtered {
		context = append(context, toChatMessage(m))
	}

	if maxTokens > 0 {
		context = s.estimator.Truncate(context, maxTokens, true)
		if modelID != "" {
			s.cache.CacheTruncatedContext(ctx, conversationID.String(), modelID, maxTokens, context)
		}
	}
	return context, nil
}

// Invalidate drops every cached context derived from a conversation. It
// runs on every message mutation; missing it would serve stale context to
// the model.
func (s *Service) Invalidate(ctx context.Context, conversationID uuid.UUID) {
	s.cache.InvalidateConversation(ctx, conversationID.String())
}
