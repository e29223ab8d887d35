// Package store provides in-memory implementations of the persistence
// collaborators the gateway depends on. The production storage engine is
// external to this service; these satisfy the same interfaces for the
// single-process deployment and for tests.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"llm-gateway/pkg/models"
)

// ErrNotFound is returned when an update targets a record that does not
// exist.
var ErrNotFound = errors.New("record not found")

// Models is a mutex-guarded model descriptor store.
type Models struct {
	mu      sync.RWMutex
	records map[string]models.ModelDescriptor
}

// NewModels returns an empty model store.
func NewModels() *Models {
	return &Models{records: make(map[string]models.ModelDescriptor)}
}

// GetByID loads a descriptor. The second result is false when the model
// is unknown.
func (s *Models) GetByID(_ context.Context, modelID string) (models.ModelDescriptor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.records[modelID]
	return m, ok, nil
}

// GetAll returns every descriptor sorted by ID for stable iteration.
func (s *Models) GetAll(_ context.Context) ([]models.ModelDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ModelDescriptor, 0, len(s.records))
	for _, m := range s.records {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Create inserts a new descriptor, stamping creation time.
func (s *Models) Create(_ context.Context, m models.ModelDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	s.records[m.ID] = m
	return nil
}

// Update replaces an existing descriptor. Last write wins; availability
// is advisory so no optimistic locking is used.
func (s *Models) Update(_ context.Context, m models.ModelDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[m.ID]
	if !ok {
		return ErrNotFound
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = time.Now()
	s.records[m.ID] = m
	return nil
}

// Messages is a mutex-guarded conversation message store. Positions are
// assigned under the lock so they are monotonically increasing per
// conversation regardless of wall-clock skew.
type Messages struct {
	mu        sync.RWMutex
	records   map[uuid.UUID]models.ConversationMessage
	positions map[uuid.UUID]int
}

// NewMessages returns an empty message store.
func NewMessages() *Messages {
	return &Messages{
		records:   make(map[uuid.UUID]models.ConversationMessage),
		positions: make(map[uuid.UUID]int),
	}
}

// Add persists a message, assigning its ID (when unset), position and
// timestamps. The stored message is returned.
func (s *Messages) Add(_ context.Context, m models.ConversationMessage) (models.ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	s.positions[m.ConversationID]++
	m.Position = s.positions[m.ConversationID]
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	s.records[m.ID] = m
	return m, nil
}

// Get loads one message by ID.
func (s *Messages) Get(_ context.Context, id uuid.UUID) (models.ConversationMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.records[id]
	return m, ok, nil
}

// Update replaces a message's content and status.
func (s *Messages) Update(_ context.Context, m models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[m.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Content = m.Content
	existing.Status = m.Status
	existing.UpdatedAt = time.Now()
	s.records[m.ID] = existing
	return nil
}

// Recent returns the limit most recent messages of a conversation in
// ascending position order.
func (s *Messages) Recent(_ context.Context, conversationID uuid.UUID, limit int) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ConversationMessage
	for _, m := range s.records {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
