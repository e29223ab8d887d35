package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"llm-gateway/pkg/models"
)

// Cache TTLs per key namespace.
const (
	ModelTTL       = time.Hour
	ContextTTL     = 30 * time.Minute
	ContextMetaTTL = time.Hour
)

// Key builders. Every cached entry lives in one of these namespaces so a
// logical entity can be invalidated by deleting its derived keys, with a
// pattern sweep where the derived keys are content hashes.

func ModelKey(modelID string) string { return "model:" + modelID }

func AllModelsKey() string { return "models:all" }

func ContextKey(conversationID, contextHash string) string {
	return fmt.Sprintf("context:%s:%s", conversationID, contextHash)
}

func ContextMetaKey(conversationID string) string {
	return "context_meta:" + conversationID
}

// ContextPattern matches every content-hash-keyed context entry of a
// conversation.
func ContextPattern(conversationID string) string {
	return fmt.Sprintf("context:%s:*", conversationID)
}

func TruncatedContextKey(conversationID, modelID string, maxTokens int) string {
	return fmt.Sprintf("truncated_context:%s:%s:%d", conversationID, modelID, maxTokens)
}

func TruncatedContextPattern(conversationID string) string {
	return fmt.Sprintf("truncated_context:%s:*", conversationID)
}

// ContextHash derives the deterministic content-address of a message set.
// Identical inputs always produce identical keys.
func ContextHash(messages []models.ChatMessage) string {
	raw, err := json.Marshal(messages)
	if err != nil {
		// Plain string structs cannot fail to marshal.
		raw = []byte("unhashable")
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}
