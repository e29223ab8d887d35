// Package registry tracks which inference backend serves which model and
// whether each model is currently reachable. Descriptors are synced from
// the backends' model-listing endpoints and kept fresh by a heartbeat
// loop.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"llm-gateway/internal/cache"
	"llm-gateway/pkg/models"
)

// ModelStore is the external persistence collaborator for descriptors.
type ModelStore interface {
	GetByID(ctx context.Context, modelID string) (models.ModelDescriptor, bool, error)
	GetAll(ctx context.Context) ([]models.ModelDescriptor, error)
	Create(ctx context.Context, m models.ModelDescriptor) error
	Update(ctx context.Context, m models.ModelDescriptor) error
}

// Registry resolves models to backends and keeps descriptors in sync with
// what the backends report.
type Registry struct {
	store      ModelStore
	cache      *cache.Service
	httpClient *http.Client

	backendURLs []string
	defaultURL  string

	// Process-local heartbeat state. Rebuilt by the first sweep; in a
	// multi-instance deployment every instance sweeps independently.
	hbMu     sync.Mutex
	hbStatus map[string]HeartbeatRecord
	hbSweep  time.Time
	hbStop   chan struct{}
	hbDone   chan struct{}
}

// HeartbeatRecord is the last known availability of one model.
type HeartbeatRecord struct {
	Available bool
	CheckedAt time.Time
}

// SyncResult reports what a sync pass changed.
type SyncResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
}

// probeTimeout bounds every liveness probe and health check.
const probeTimeout = 5 * time.Second

// New builds a registry over the configured backends.
func New(store ModelStore, cacheSvc *cache.Service, backendURLs []string, defaultURL string) *Registry {
	return &Registry{
		store:       store,
		cache:       cacheSvc,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		backendURLs: backendURLs,
		defaultURL:  defaultURL,
		hbStatus:    make(map[string]HeartbeatRecord),
	}
}

// List returns every known descriptor, serving the cached snapshot when
// it is complete and falling through to the store otherwise. Cache
// failures never fail the caller.
func (r *Registry) List(ctx context.Context) ([]models.ModelDescriptor, error) {
	if cached, ok := r.cache.CachedAllModels(ctx); ok {
		return cached, nil
	}
	all, err := r.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	r.cache.CacheAllModels(ctx, all)
	return all, nil
}

// ListActive returns the descriptors the heartbeat currently considers
// available.
func (r *Registry) ListActive(ctx context.Context) ([]models.ModelDescriptor, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]models.ModelDescriptor, 0, len(all))
	for _, m := range all {
		if m.IsActive {
			active = append(active, m)
		}
	}
	return active, nil
}

// Get looks up one descriptor, trying the cache first.
func (r *Registry) Get(ctx context.Context, modelID string) (models.ModelDescriptor, bool) {
	if m, ok := r.cache.CachedModel(ctx, modelID); ok {
		return m, true
	}
	m, ok, err := r.store.GetByID(ctx, modelID)
	if err != nil {
		log.Printf("model lookup %s failed: %v", modelID, err)
		return models.ModelDescriptor{}, false
	}
	if ok {
		r.cache.CacheModel(ctx, m)
	}
	return m, ok
}

// ResolveBackend returns the backend URL serving modelID. Unknown models
// and models without an explicit URL route to the configured default;
// resolution never fails. Surfacing "model not found" is the proxy
// layer's job, based on an explicit Get.
func (r *Registry) ResolveBackend(ctx context.Context, modelID string) string {
	m, ok := r.Get(ctx, modelID)
	if ok && m.BackendURL != "" {
		return m.BackendURL
	}
	return r.defaultURL
}

// CheckHealth reports whether a backend answers its health endpoint.
func (r *Registry) CheckHealth(ctx context.Context, backendURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, backendURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// backendModel is one entry of a backend's /v1/models listing.
type backendModel struct {
	ID          string `json:"id"`
	MaxModelLen int    `json:"max_model_len"`
}

// fallbackContextTokens is assumed when a backend does not report a
// context window.
const fallbackContextTokens = 4096

// fetchBackendModels lists the models one backend reports.
func (r *Registry) fetchBackendModels(ctx context.Context, backendURL string) ([]backendModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, backendURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend %s returned %s", backendURL, resp.Status)
	}

	var listing struct {
		Data []backendModel `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode model listing from %s: %w", backendURL, err)
	}
	return listing.Data, nil
}

// SyncWithBackends queries every configured backend's model listing and
// reconciles the store against it: unknown models are created active,
// known ones get their context window, backend URL and description
// refreshed. One backend failing is logged and skipped without aborting
// the others. A successful pass rebuilds the cache snapshot.
func (r *Registry) SyncWithBackends(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	processed := false

	for _, backendURL := range r.backendURLs {
		reported, err := r.fetchBackendModels(ctx, backendURL)
		if err != nil {
			log.Printf("model sync: listing %s failed: %v", backendURL, err)
			continue
		}
		for _, bm := range reported {
			if bm.ID == "" {
				continue
			}
			created, err := r.applyReportedModel(ctx, bm, backendURL)
			if err != nil {
				log.Printf("model sync: applying %s failed: %v", bm.ID, err)
				continue
			}
			processed = true
			if created {
				result.Added++
			} else {
				result.Updated++
			}
		}
	}

	if processed {
		r.cache.InvalidateAllModels(ctx)
		if all, err := r.store.GetAll(ctx); err == nil {
			r.cache.CacheAllModels(ctx, all)
		}
		log.Printf("model sync: %d added, %d updated", result.Added, result.Updated)
	}
	return result, nil
}

// applyReportedModel creates or refreshes one descriptor from a backend
// listing entry. Returns true when the model was new.
func (r *Registry) applyReportedModel(ctx context.Context, bm backendModel, backendURL string) (bool, error) {
	contextTokens := bm.MaxModelLen
	if contextTokens <= 0 {
		contextTokens = fallbackContextTokens
	}
	description := fmt.Sprintf("model %s served by %s", bm.ID, backendURL)

	existing, ok, err := r.store.GetByID(ctx, bm.ID)
	if err != nil {
		return false, err
	}
	if ok {
		existing.DisplayName = existing.ID
		existing.Description = description
		existing.MaxContextTokens = contextTokens
		existing.BackendURL = backendURL
		if err := r.store.Update(ctx, existing); err != nil {
			return false, err
		}
		// Overwrite any per-model entry a Get may have cached; the
		// snapshot rebuild after the pass does not reach it when no
		// snapshot list exists yet.
		r.cache.CacheModel(ctx, existing)
		return false, nil
	}

	return true, r.store.Create(ctx, models.ModelDescriptor{
		ID:               bm.ID,
		DisplayName:      bm.ID,
		Description:      description,
		IsActive:         true,
		MaxContextTokens: contextTokens,
		BackendURL:       backendURL,
		DefaultParams: models.GenerationParams{
			Temperature: models.Float64(models.DefaultTemperature),
			TopP:        models.Float64(models.DefaultTopP),
		},
	})
}
