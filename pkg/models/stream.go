package models

// StreamChunk is one unit of the outward SSE stream, shaped like an
// OpenAI chat.completion.chunk so existing clients can consume it.
type StreamChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Error   *ChunkError   `json:"error,omitempty"`
}

// ChunkObject is the constant object type of every outward chunk.
const ChunkObject = "chat.completion.chunk"

// ChunkChoice carries the incremental delta for choice index 0.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta is the incremental payload: the role on the opening chunk,
// content fragments afterwards, neither on the finish chunk.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkError is attached to the single error-shaped chunk emitted when a
// stream fails after headers are committed.
type ChunkError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// Finish reasons used on terminal chunks.
const (
	FinishStop  = "stop"
	FinishError = "error"
)
