package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"llm-gateway/pkg/models"
)

// AddUserMessage persists a user turn and invalidates the conversation's
// cached context.
func (s *Service) AddUserMessage(ctx context.Context, conversationID uuid.UUID, content string) (models.ConversationMessage, error) {
	m, err := s.messages.Add(ctx, models.ConversationMessage{
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        content,
		Status:         models.StatusCompleted,
	})
	if err != nil {
		return models.ConversationMessage{}, fmt.Errorf("add user message: %w", err)
	}
	s.Invalidate(ctx, conversationID)
	return m, nil
}

// AddPendingAssistantMessage creates the assistant turn in pending state
// with empty content. Exactly one assistant message is pending per turn;
// its content stays empty until CompleteMessage or FailMessage moves it
// to a terminal state.
func (s *Service) AddPendingAssistantMessage(ctx context.Context, conversationID uuid.UUID, modelID string) (models.ConversationMessage, error) {
	m, err := s.messages.Add(ctx, models.ConversationMessage{
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        "",
		Status:         models.StatusPending,
		ModelID:        modelID,
	})
	if err != nil {
		return models.ConversationMessage{}, fmt.Errorf("add assistant message: %w", err)
	}
	s.Invalidate(ctx, conversationID)
	return m, nil
}

// CompleteMessage writes the generated content and moves the message to
// completed.
func (s *Service) CompleteMessage(ctx context.Context, messageID uuid.UUID, content string) error {
	return s.finishMessage(ctx, messageID, content, models.StatusCompleted)
}

// FailMessage moves the message to error, keeping whatever content was
// accumulated before the failure (possibly none).
func (s *Service) FailMessage(ctx context.Context, messageID uuid.UUID, accumulated string) error {
	return s.finishMessage(ctx, messageID, accumulated, models.StatusError)
}

func (s *Service) finishMessage(ctx context.Context, messageID uuid.UUID, content string, status models.MessageStatus) error {
	m, ok, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if !ok {
		return fmt.Errorf("message %s not found", messageID)
	}
	m.Content = content
	m.Status = status
	if err := s.messages.Update(ctx, m); err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	s.Invalidate(ctx, m.ConversationID)
	return nil
}
