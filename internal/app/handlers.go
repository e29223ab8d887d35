package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"llm-gateway/pkg/apierr"
	"llm-gateway/pkg/models"
)

// MessageCreateRequest is the body of a chat-turn request.
type MessageCreateRequest struct {
	Content string `json:"content"`
	ModelID string `json:"model_id"`

	// SystemPrompt, when set, is prepended to the assembled context.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Optional sampling overrides, merged over the model's defaults.
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

func (r MessageCreateRequest) overrides() models.GenerationParams {
	return models.GenerationParams{
		Temperature: r.Temperature,
		TopP:        r.TopP,
		MaxTokens:   r.MaxTokens,
		Stop:        r.Stop,
	}
}

// EmptyReplyPlaceholder is returned and persisted when generation
// produced no content.
const EmptyReplyPlaceholder = "Sorry, the model did not produce a reply."

// handleChats dispatches /v1/chats/{id}/... routes.
func (a *App) handleChats(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/chats/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}

	conversationID, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, apierr.BadRequest("invalid conversation id"))
		return
	}

	action := strings.Join(parts[1:], "/")
	switch {
	case action == "messages" && r.Method == http.MethodPost:
		a.handleSendMessage(w, r, conversationID)
	case action == "messages/stream" && r.Method == http.MethodPost:
		a.handleSendMessageStream(w, r, conversationID)
	case action == "context" && r.Method == http.MethodGet:
		a.handleContext(w, r, conversationID)
	default:
		http.NotFound(w, r)
	}
}

// handleContext returns the display context of a conversation.
func (a *App) handleContext(w http.ResponseWriter, r *http.Request, conversationID uuid.UUID) {
	messages, err := a.Chat.AssembleForDisplay(r.Context(), conversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// decodeTurnRequest parses the body and validates the requested model:
// unknown models are 404, inactive ones 400.
func (a *App) decodeTurnRequest(r *http.Request) (MessageCreateRequest, models.ModelDescriptor, error) {
	var req MessageCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, models.ModelDescriptor{}, apierr.BadRequest("invalid request body")
	}
	if req.ModelID == "" {
		return req, models.ModelDescriptor{}, apierr.BadRequest("model_id is required")
	}

	model, ok := a.Registry.Get(r.Context(), req.ModelID)
	if !ok {
		return req, models.ModelDescriptor{}, apierr.NotFound("the requested model does not exist")
	}
	if !model.IsActive {
		return req, models.ModelDescriptor{}, apierr.BadRequest("the requested model is currently unavailable")
	}
	return req, model, nil
}

// prepareTurn persists the user message, creates the pending assistant
// message and assembles the model context with the caller's system
// prompt prepended.
func (a *App) prepareTurn(ctx context.Context, conversationID uuid.UUID, req MessageCreateRequest, model models.ModelDescriptor) (assistant models.ConversationMessage, contextMessages []models.ChatMessage, err error) {
	if _, err = a.Chat.AddUserMessage(ctx, conversationID, req.Content); err != nil {
		return assistant, nil, err
	}
	if assistant, err = a.Chat.AddPendingAssistantMessage(ctx, conversationID, req.ModelID); err != nil {
		return assistant, nil, err
	}

	contextMessages, err = a.Chat.AssembleForModel(ctx, conversationID, req.ModelID, model.MaxContextTokens)
	if err != nil {
		return assistant, nil, err
	}
	if req.SystemPrompt != "" {
		contextMessages = append([]models.ChatMessage{{
			Role:    string(models.RoleSystem),
			Content: req.SystemPrompt,
		}}, contextMessages...)
	}
	return assistant, contextMessages, nil
}

// handleSendMessage runs a non-streaming chat turn.
func (a *App) handleSendMessage(w http.ResponseWriter, r *http.Request, conversationID uuid.UUID) {
	req, model, err := a.decodeTurnRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	assistant, contextMessages, err := a.prepareTurn(ctx, conversationID, req, model)
	if err != nil {
		writeError(w, err)
		return
	}

	params := model.DefaultParams.Merge(req.overrides())
	result, err := a.Proxy.Generate(ctx, req.ModelID, contextMessages, params)
	if err != nil {
		a.failTurn(ctx, assistant.ID, "")
		writeError(w, err)
		return
	}

	content := result.Content
	if content == "" {
		content = EmptyReplyPlaceholder
	}
	if err := a.Chat.CompleteMessage(ctx, assistant.ID, content); err != nil {
		writeError(w, err)
		return
	}

	a.Telemetry.PublishExpertUsage(ctx, result.ExpertUsage)

	writeJSON(w, http.StatusOK, map[string]any{
		"message_id": assistant.ID,
		"content":    content,
	})
}

// failTurn marks the pending assistant message as errored, keeping
// whatever content was accumulated.
func (a *App) failTurn(ctx context.Context, messageID uuid.UUID, accumulated string) {
	if err := a.Chat.FailMessage(ctx, messageID, accumulated); err != nil {
		log.Printf("marking message %s as errored failed: %v", messageID, err)
	}
}
