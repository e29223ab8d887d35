package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"llm-gateway/pkg/models"
)

// Service wraps a Store with the gateway's cache semantics: failures are
// logged and reported as misses so a dead store costs performance, never
// correctness.
type Service struct {
	store Store
}

// NewService builds a cache service on the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns the raw cached value, or ok=false on miss or store failure.
func (s *Service) Get(ctx context.Context, key string) ([]byte, bool) {
	val, ok, err := s.store.Get(ctx, key)
	if err != nil {
		log.Printf("cache get %s failed: %v", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return []byte(val), true
}

// Set writes a value and reports whether the write took effect.
func (s *Service) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if err := s.store.Set(ctx, key, string(value), ttl); err != nil {
		log.Printf("cache set %s failed: %v", key, err)
		return false
	}
	return true
}

// Delete removes keys and reports whether the delete took effect.
func (s *Service) Delete(ctx context.Context, keys ...string) bool {
	if len(keys) == 0 {
		return true
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		log.Printf("cache delete failed: %v", err)
		return false
	}
	return true
}

// KeysMatching lists keys for a glob pattern; nil on store failure.
func (s *Service) KeysMatching(ctx context.Context, pattern string) []string {
	keys, err := s.store.Keys(ctx, pattern)
	if err != nil {
		log.Printf("cache keys %s failed: %v", pattern, err)
		return nil
	}
	return keys
}

// Exists reports key presence; false on store failure.
func (s *Service) Exists(ctx context.Context, key string) bool {
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		log.Printf("cache exists %s failed: %v", key, err)
		return false
	}
	return ok
}

// setJSON marshals v and stores it; marshal failures are logged, not
// propagated.
func (s *Service) setJSON(ctx context.Context, key string, v any, ttl time.Duration) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("cache marshal for %s failed: %v", key, err)
		return false
	}
	return s.Set(ctx, key, raw, ttl)
}

// getJSON reads key and unmarshals into v. A corrupt entry is a miss.
func (s *Service) getJSON(ctx context.Context, key string, v any) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		log.Printf("cache entry %s is corrupt, treating as miss: %v", key, err)
		return false
	}
	return true
}

// CacheModel stores one model descriptor.
func (s *Service) CacheModel(ctx context.Context, m models.ModelDescriptor) {
	s.setJSON(ctx, ModelKey(m.ID), m, ModelTTL)
}

// CachedModel returns a cached descriptor if present.
func (s *Service) CachedModel(ctx context.Context, modelID string) (models.ModelDescriptor, bool) {
	var m models.ModelDescriptor
	ok := s.getJSON(ctx, ModelKey(modelID), &m)
	return m, ok
}

// CacheAllModels stores the full registry snapshot: the ID list plus each
// descriptor under its own key.
func (s *Service) CacheAllModels(ctx context.Context, descriptors []models.ModelDescriptor) {
	ids := make([]string, 0, len(descriptors))
	for _, m := range descriptors {
		ids = append(ids, m.ID)
		s.CacheModel(ctx, m)
	}
	s.setJSON(ctx, AllModelsKey(), ids, ModelTTL)
}

// CachedAllModels returns the snapshot only when the ID list and every
// per-model entry are present; a partial snapshot is a miss.
func (s *Service) CachedAllModels(ctx context.Context) ([]models.ModelDescriptor, bool) {
	var ids []string
	if !s.getJSON(ctx, AllModelsKey(), &ids) {
		return nil, false
	}
	out := make([]models.ModelDescriptor, 0, len(ids))
	for _, id := range ids {
		m, ok := s.CachedModel(ctx, id)
		if !ok {
			return nil, false
		}
		out = append(out, m)
	}
	return out, true
}

// InvalidateAllModels deletes the snapshot list and every per-model entry
// it names.
func (s *Service) InvalidateAllModels(ctx context.Context) {
	var ids []string
	if s.getJSON(ctx, AllModelsKey(), &ids) {
		keys := make([]string, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, ModelKey(id))
		}
		s.Delete(ctx, keys...)
	}
	s.Delete(ctx, AllModelsKey())
}

// contextMeta is the lookup record stored alongside a conversation's
// assembled context so invalidation can find the hash-derived key.
type contextMeta struct {
	LastHash     string    `json:"last_hash"`
	MessageCount int       `json:"message_count"`
	ContextCount int       `json:"context_count"`
	CachedAt     time.Time `json:"cached_at"`
}

// CacheContext stores an assembled context under its content hash and
// records the metadata entry pointing at it.
func (s *Service) CacheContext(ctx context.Context, conversationID string, input, assembled []models.ChatMessage) {
	hash := ContextHash(input)
	s.setJSON(ctx, ContextKey(conversationID, hash), assembled, ContextTTL)
	s.setJSON(ctx, ContextMetaKey(conversationID), contextMeta{
		LastHash:     hash,
		MessageCount: len(input),
		ContextCount: len(assembled),
		CachedAt:     time.Now(),
	}, ContextMetaTTL)
}

// CachedContext returns the assembled context cached for this exact input
// set, if any.
func (s *Service) CachedContext(ctx context.Context, conversationID string, input []models.ChatMessage) ([]models.ChatMessage, bool) {
	var assembled []models.ChatMessage
	ok := s.getJSON(ctx, ContextKey(conversationID, ContextHash(input)), &assembled)
	return assembled, ok
}

// CacheTruncatedContext stores a token-truncated context keyed by the
// parameters that produced it.
func (s *Service) CacheTruncatedContext(ctx context.Context, conversationID, modelID string, maxTokens int, truncated []models.ChatMessage) {
	s.setJSON(ctx, TruncatedContextKey(conversationID, modelID, maxTokens), truncated, ContextTTL)
}

// CachedTruncatedContext returns the truncated context for identical
// parameters, if any.
func (s *Service) CachedTruncatedContext(ctx context.Context, conversationID, modelID string, maxTokens int) ([]models.ChatMessage, bool) {
	var truncated []models.ChatMessage
	ok := s.getJSON(ctx, TruncatedContextKey(conversationID, modelID, maxTokens), &truncated)
	return truncated, ok
}

// InvalidateConversation deletes every context entry derived from a
// conversation: the metadata record, the hash-keyed assembled contexts
// (swept by pattern, since their hashes are not known in advance) and all
// truncated variants.
func (s *Service) InvalidateConversation(ctx context.Context, conversationID string) {
	var meta contextMeta
	if s.getJSON(ctx, ContextMetaKey(conversationID), &meta) && meta.LastHash != "" {
		s.Delete(ctx, ContextKey(conversationID, meta.LastHash))
	}
	s.Delete(ctx, ContextMetaKey(conversationID))

	if keys := s.KeysMatching(ctx, ContextPattern(conversationID)); len(keys) > 0 {
		s.Delete(ctx, keys...)
	}
	if keys := s.KeysMatching(ctx, TruncatedContextPattern(conversationID)); len(keys) > 0 {
		s.Delete(ctx, keys...)
	}
}
