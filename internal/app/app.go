// Package app wires the gateway's HTTP surface: model listing and sync,
// chat turns (non-streaming and streamed), and the status endpoint.
package app

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"llm-gateway/internal/auth"
	"llm-gateway/internal/chat"
	"llm-gateway/internal/proxy"
	"llm-gateway/internal/registry"
	"llm-gateway/internal/telemetry"
	"llm-gateway/pkg/apierr"
)

// App holds the router and the services behind it.
type App struct {
	Router    *http.ServeMux
	Registry  *registry.Registry
	Chat      *chat.Service
	Proxy     *proxy.Service
	Telemetry *telemetry.Publisher

	// Secret signs access tokens; DisableAuth skips validation.
	Secret      string
	DisableAuth bool
}

// NewApp assembles the application and registers its routes.
func NewApp(reg *registry.Registry, chatSvc *chat.Service, proxySvc *proxy.Service, pub *telemetry.Publisher, secret string, disableAuth bool) *App {
	a := &App{
		Router:      http.NewServeMux(),
		Registry:    reg,
		Chat:        chatSvc,
		Proxy:       proxySvc,
		Telemetry:   pub,
		Secret:      secret,
		DisableAuth: disableAuth,
	}
	a.initializeRoutes()
	return a
}

func (a *App) initializeRoutes() {
	a.Router.HandleFunc("/status", a.handleStatus)
	a.Router.HandleFunc("/v1/models", a.handleListModels)
	a.Router.HandleFunc("/v1/models/sync", a.handleSyncModels)
	a.Router.HandleFunc("/v1/chats/", a.handleChats)
}

// validateToken checks the request's bearer token unless auth is
// disabled.
func (a *App) validateToken(r *http.Request) (*auth.TokenClaims, error) {
	if a.DisableAuth {
		return &auth.TokenClaims{UserID: "disabled-auth-user"}, nil
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errors.New("invalid or missing authorization header")
	}
	return auth.ValidateAccessToken(strings.TrimPrefix(header, "Bearer "), a.Secret)
}

// authorize validates the token and writes the 401 response itself when
// validation fails.
func (a *App) authorize(w http.ResponseWriter, r *http.Request) bool {
	_, err := a.validateToken(r)
	if err == nil {
		return true
	}
	if errors.Is(err, auth.ErrTokenExpired) {
		w.Header().Set("X-LLM-Token-Expired", "true")
		http.Error(w, "token expired", http.StatusUnauthorized)
	} else {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return false
}

// writeJSON serializes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the taxonomy and responds with its HTTP
// status. Internal causes are logged here; clients only ever see the
// taxonomy message.
func writeError(w http.ResponseWriter, err error) {
	ae := apierr.From(err)
	if ae.Kind == apierr.KindInternal {
		log.Printf("internal error: %v", err)
	}
	writeJSON(w, ae.Status(), map[string]any{
		"error": map[string]any{
			"message": ae.Message,
			"type":    string(ae.Kind),
			"code":    ae.Status(),
		},
	})
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if last := a.Registry.LastSweep(); !last.IsZero() {
		status["heartbeat_last_sweep"] = last.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *App) handleListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.authorize(w, r) {
		return
	}
	active, err := a.Registry.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": active})
}

func (a *App) handleSyncModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.authorize(w, r) {
		return
	}
	result, err := a.Registry.SyncWithBackends(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
