package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"llm-gateway/pkg/apierr"
	"llm-gateway/pkg/models"
)

// streamWriter emits outward SSE chunks with a stable completion ID.
// Headers are committed before the first chunk, so every later failure
// must travel in-band.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	completionID string
	created      int64
	modelID      string
}

// newStreamWriter commits the SSE headers and returns the writer. ok is
// false when the underlying ResponseWriter cannot flush.
func newStreamWriter(w http.ResponseWriter, modelID string, assistantID uuid.UUID) (*streamWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	idHex := strings.ReplaceAll(assistantID.String(), "-", "")[:8]
	return &streamWriter{
		w:            w,
		flusher:      flusher,
		completionID: fmt.Sprintf("chatcmpl-%d%s", time.Now().Unix(), idHex),
		created:      time.Now().Unix(),
		modelID:      modelID,
	}, true
}

// writeChunk serializes one chunk as an SSE data line and flushes it.
func (s *streamWriter) writeChunk(chunk models.StreamChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *streamWriter) chunk(delta models.ChunkDelta, finishReason *string) models.StreamChunk {
	return models.StreamChunk{
		ID:      s.completionID,
		Object:  models.ChunkObject,
		Created: s.created,
		Model:   s.modelID,
		Choices: []models.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}
}

// start emits the opening chunk carrying the assistant role.
func (s *streamWriter) start() error {
	return s.writeChunk(s.chunk(models.ChunkDelta{Role: string(models.RoleAssistant)}, nil))
}

// content emits one content fragment.
func (s *streamWriter) content(fragment string) error {
	return s.writeChunk(s.chunk(models.ChunkDelta{Content: fragment}, nil))
}

// finish emits the terminal stop chunk and the stream-end sentinel.
func (s *streamWriter) finish() {
	reason := models.FinishStop
	s.writeChunk(s.chunk(models.ChunkDelta{}, &reason))
	s.sentinel()
}

// fail emits the single error-shaped chunk followed by the sentinel.
func (s *streamWriter) fail(ae *apierr.Error) {
	reason := models.FinishError
	chunk := s.chunk(models.ChunkDelta{Content: "Error: " + ae.Message}, &reason)
	chunk.Error = &models.ChunkError{
		Message: ae.Message,
		Type:    string(ae.Kind),
		Code:    ae.Status(),
	}
	s.writeChunk(chunk)
	s.sentinel()
}

func (s *streamWriter) sentinel() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

// handleSendMessageStream runs a streamed chat turn. Model validation
// happens before headers are committed and maps to an HTTP status; from
// the first chunk on, failures become one error chunk and an Error
// transition of the pending assistant message.
func (a *App) handleSendMessageStream(w http.ResponseWriter, r *http.Request, conversationID uuid.UUID) {
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

	sw, ok := newStreamWriter(w, req.ModelID, assistant.ID)
	if !ok {
		a.failTurn(ctx, assistant.ID, "")
		writeError(w, apierr.Internal("streaming is not supported by this connection", nil))
		return
	}

	if err := sw.start(); err != nil {
		a.failTurn(ctx, assistant.ID, "")
		return
	}

	var accumulated strings.Builder
	params := model.DefaultParams.Merge(req.overrides())

	streamErr := a.Proxy.GenerateStream(ctx, req.ModelID, contextMessages, params, func(fragment string) error {
		accumulated.WriteString(fragment)
		return sw.content(fragment)
	})
	if streamErr != nil {
		a.failTurn(ctx, assistant.ID, accumulated.String())
		sw.fail(apierr.From(streamErr))
		return
	}

	content := accumulated.String()
	if content == "" {
		content = EmptyReplyPlaceholder
	}
	if err := a.Chat.CompleteMessage(ctx, assistant.ID, content); err != nil {
		a.failTurn(ctx, assistant.ID, accumulated.String())
		sw.fail(apierr.From(err))
		return
	}

	sw.finish()
}
