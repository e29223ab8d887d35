package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-gateway/internal/cache"
	"llm-gateway/internal/store"
	"llm-gateway/pkg/models"
)

// fakeBackend is an OpenAI-compatible model service whose listing can be
// changed mid-test.
type fakeBackend struct {
	mu     sync.Mutex
	models []backendModel

	server *httptest.Server
}

func newFakeBackend(t *testing.T, ids ...string) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	for _, id := range ids {
		b.models = append(b.models, backendModel{ID: id, MaxModelLen: 8192})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"data": b.models})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) setModels(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.models = nil
	for _, id := range ids {
		b.models = append(b.models, backendModel{ID: id, MaxModelLen: 8192})
	}
}

func newTestRegistry(t *testing.T, backends []string, defaultURL string) (*Registry, *store.Models) {
	t.Helper()
	modelStore := store.NewModels()
	cacheSvc := cache.NewService(cache.NewMemoryStore())
	return New(modelStore, cacheSvc, backends, defaultURL), modelStore
}

func TestSyncWithBackends(t *testing.T) {
	backend := newFakeBackend(t, "qwen-7b", "deepseek-moe")
	reg, modelStore := newTestRegistry(t, []string{backend.server.URL}, backend.server.URL)
	ctx := context.Background()

	result, err := reg.SyncWithBackends(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 0, result.Updated)

	m, ok, err := modelStore.GetByID(ctx, "qwen-7b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m.IsActive, "new models default to active")
	assert.Equal(t, 8192, m.MaxContextTokens)
	assert.Equal(t, backend.server.URL, m.BackendURL)
	require.NotNil(t, m.DefaultParams.Temperature)
	assert.Equal(t, models.DefaultTemperature, *m.DefaultParams.Temperature)

	// A second pass updates rather than creates.
	result, err = reg.SyncWithBackends(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 2, result.Updated)
}

func TestSyncIsolatesBackendFailure(t *testing.T) {
	good := newFakeBackend(t, "live-model")
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(dead.Close)

	reg, modelStore := newTestRegistry(t, []string{dead.URL, good.server.URL}, good.server.URL)
	result, err := reg.SyncWithBackends(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added, "the healthy backend must still be synced")

	_, ok, err := modelStore.GetByID(context.Background(), "live-model")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolveBackend(t *testing.T) {
	reg, modelStore := newTestRegistry(t, nil, "http://default:8000")
	ctx := context.Background()

	require.NoError(t, modelStore.Create(ctx, models.ModelDescriptor{
		ID:         "routed",
		BackendURL: "http://special:9000",
	}))
	require.NoError(t, modelStore.Create(ctx, models.ModelDescriptor{ID: "unrouted"}))

	assert.Equal(t, "http://special:9000", reg.ResolveBackend(ctx, "routed"))
	assert.Equal(t, "http://default:8000", reg.ResolveBackend(ctx, "unrouted"))
	assert.Equal(t, "http://default:8000", reg.ResolveBackend(ctx, "no-such-model"),
		"unknown models route to the default, resolution never fails")
}

func TestListActiveServesFromCache(t *testing.T) {
	reg, modelStore := newTestRegistry(t, nil, "http://default:8000")
	ctx := context.Background()

	require.NoError(t, modelStore.Create(ctx, models.ModelDescriptor{ID: "a", IsActive: true}))
	require.NoError(t, modelStore.Create(ctx, models.ModelDescriptor{ID: "b", IsActive: false}))

	active, err := reg.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)

	// With the snapshot cached, a store write is invisible until
	// invalidation.
	require.NoError(t, modelStore.Create(ctx, models.ModelDescriptor{ID: "c", IsActive: true}))
	active, err = reg.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1, "cached snapshot must be served")
}

func TestHeartbeatFlipsAvailability(t *testing.T) {
	backend := newFakeBackend(t, "qwen-7b")
	reg, modelStore := newTestRegistry(t, []string{backend.server.URL}, backend.server.URL)
	ctx := context.Background()

	require.NoError(t, modelStore.Create(ctx, models.ModelDescriptor{
		ID:         "qwen-7b",
		IsActive:   true,
		BackendURL: backend.server.URL,
	}))

	// Check 1: present, stays active.
	reg.sweep(ctx)
	m, _, err := modelStore.GetByID(ctx, "qwen-7b")
	require.NoError(t, err)
	assert.True(t, m.IsActive)

	// Check 2: absent from the listing, flips inactive.
	backend.setModels("some-other-model")
	reg.sweep(ctx)
	m, _, err = modelStore.GetByID(ctx, "qwen-7b")
	require.NoError(t, err)
	assert.False(t, m.IsActive)

	status := reg.HeartbeatStatus()
	require.Contains(t, status, "qwen-7b")
	assert.False(t, status["qwen-7b"].Available)
	assert.False(t, status["qwen-7b"].CheckedAt.IsZero())

	// Check 3: present again, flips back.
	backend.setModels("qwen-7b")
	reg.sweep(ctx)
	m, _, err = modelStore.GetByID(ctx, "qwen-7b")
	require.NoError(t, err)
	assert.True(t, m.IsActive)
	assert.False(t, reg.LastSweep().IsZero())
}

func TestHeartbeatFlipRefreshesCachedDescriptor(t *testing.T) {
	backend := newFakeBackend(t, "qwen-7b")
	reg, modelStore := newTestRegistry(t, []string{backend.server.URL}, backend.server.URL)
	ctx := context.Background()

	require.NoError(t, modelStore.Create(ctx, models.ModelDescriptor{
		ID:         "qwen-7b",
		IsActive:   true,
		BackendURL: backend.server.URL,
	}))

	// Populate the per-model cache entry the way a turn does.
	m, ok := reg.Get(ctx, "qwen-7b")
	require.True(t, ok)
	require.True(t, m.IsActive)

	backend.setModels("some-other-model")
	reg.sweep(ctx)

	m, ok = reg.Get(ctx, "qwen-7b")
	require.True(t, ok)
	assert.False(t, m.IsActive, "Get must not serve the pre-flip descriptor")

	backend.setModels("qwen-7b")
	reg.sweep(ctx)

	m, ok = reg.Get(ctx, "qwen-7b")
	require.True(t, ok)
	assert.True(t, m.IsActive)
}

func TestSyncRefreshesCachedDescriptor(t *testing.T) {
	backend := newFakeBackend(t, "qwen-7b")
	reg, modelStore := newTestRegistry(t, []string{backend.server.URL}, backend.server.URL)
	ctx := context.Background()

	require.NoError(t, modelStore.Create(ctx, models.ModelDescriptor{
		ID:               "qwen-7b",
		IsActive:         true,
		MaxContextTokens: 2048,
		BackendURL:       backend.server.URL,
	}))

	m, ok := reg.Get(ctx, "qwen-7b")
	require.True(t, ok)
	require.Equal(t, 2048, m.MaxContextTokens)

	_, err := reg.SyncWithBackends(ctx)
	require.NoError(t, err)

	m, ok = reg.Get(ctx, "qwen-7b")
	require.True(t, ok)
	assert.Equal(t, 8192, m.MaxContextTokens, "Get must see the synced context window")
}

func TestHeartbeatProbeErrorFailsClosed(t *testing.T) {
	backend := newFakeBackend(t, "qwen-7b")
	reg, modelStore := newTestRegistry(t, []string{backend.server.URL}, backend.server.URL)
	ctx := context.Background()

	require.NoError(t, modelStore.Create(ctx, models.ModelDescriptor{
		ID:         "qwen-7b",
		IsActive:   true,
		BackendURL: backend.server.URL,
	}))

	// An unreachable backend counts as "model absent".
	backend.server.Close()
	reg.sweep(ctx)

	m, _, err := modelStore.GetByID(ctx, "qwen-7b")
	require.NoError(t, err)
	assert.False(t, m.IsActive)
}

func TestStartStopHeartbeat(t *testing.T) {
	backend := newFakeBackend(t, "qwen-7b")
	reg, modelStore := newTestRegistry(t, []string{backend.server.URL}, backend.server.URL)

	require.NoError(t, modelStore.Create(context.Background(), models.ModelDescriptor{
		ID:         "qwen-7b",
		IsActive:   false,
		BackendURL: backend.server.URL,
	}))

	reg.StartHeartbeat(time.Hour)
	// Starting twice is a no-op, stopping must still work.
	reg.StartHeartbeat(time.Hour)

	// The first sweep runs immediately; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !reg.LastSweep().IsZero() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.False(t, reg.LastSweep().IsZero(), "first sweep should have run")

	m, _, err := modelStore.GetByID(context.Background(), "qwen-7b")
	require.NoError(t, err)
	assert.True(t, m.IsActive, "first sweep should reactivate the reachable model")

	reg.StopHeartbeat()
	// Stopping twice must not panic or block.
	reg.StopHeartbeat()
}

func TestCheckHealth(t *testing.T) {
	backend := newFakeBackend(t)
	reg, _ := newTestRegistry(t, nil, backend.server.URL)

	assert.True(t, reg.CheckHealth(context.Background(), backend.server.URL))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)
	assert.False(t, reg.CheckHealth(context.Background(), down.URL))

	backend.server.Close()
	assert.False(t, reg.CheckHealth(context.Background(), backend.server.URL))
}
