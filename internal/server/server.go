// Package server exposes the chat and task APIs over HTTP. Routing uses
// the method-aware patterns of net/http; authentication is a pluggable
// seam that defaults to trusting the path's user id.
package server

import (
	"context"
	"net/http"
	"time"

	"taskchat/internal/config"
	"taskchat/internal/logging"
	"taskchat/internal/types"
)

// Authenticator decides whether the request may act as userID. The
// default implementation allows everything; deployments front the
// service with their own gateway.
type Authenticator interface {
	Authenticate(r *http.Request, userID string) error
}

// AllowAll is the pass-through authenticator.
type AllowAll struct{}

func (AllowAll) Authenticate(*http.Request, string) error { return nil }

// ChatService runs one conversational turn.
type ChatService interface {
	ProcessMessage(ctx context.Context, ownerID, convRef, raw string) (types.ChatResponse, error)
}

// Store is the persistence surface the HTTP handlers need.
type Store interface {
	CreateTask(ctx context.Context, ownerID, title, description string) (types.TaskRecord, error)
	ListTasks(ctx context.Context, ownerID, status string) ([]types.TaskRecord, error)
	GetTask(ctx context.Context, ownerID, id string) (types.TaskRecord, error)
	CompleteTask(ctx context.Context, ownerID, ref string) (types.TaskRecord, error)
	UpdateTask(ctx context.Context, ownerID, ref string, title, description *string) (types.TaskRecord, error)
	DeleteTask(ctx context.Context, ownerID, ref string) (types.TaskRecord, error)
	ListConversations(ctx context.Context, ownerID string, limit, offset int) ([]types.ConversationRecord, error)
	ListMessages(ctx context.Context, ownerID, convID string) ([]types.MessageRecord, error)
}

// Server is the HTTP front end.
type Server struct {
	chat  ChatService
	store Store
	auth  Authenticator
	httpd *http.Server
}

// New builds a server. A nil authenticator defaults to AllowAll.
func New(cfg config.ServerConfig, chat ChatService, store Store, auth Authenticator) *Server {
	if auth == nil {
		auth = AllowAll{}
	}
	s := &Server{chat: chat, store: store, auth: auth}
	s.httpd = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeoutDuration(),
		WriteTimeout: cfg.WriteTimeoutDuration(),
	}
	return s
}

// Handler returns the route table. Exposed separately so tests can drive
// it through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /users/{id}/chat", s.authed(s.handleChat))
	mux.HandleFunc("GET /users/{id}/conversations", s.authed(s.handleListConversations))
	mux.HandleFunc("GET /users/{id}/conversations/{convID}/messages", s.authed(s.handleListMessages))

	mux.HandleFunc("GET /users/{id}/tasks", s.authed(s.handleListTasks))
	mux.HandleFunc("POST /users/{id}/tasks", s.authed(s.handleCreateTask))
	mux.HandleFunc("GET /users/{id}/tasks/{taskID}", s.authed(s.handleGetTask))
	mux.HandleFunc("PUT /users/{id}/tasks/{taskID}", s.authed(s.handleUpdateTask))
	mux.HandleFunc("DELETE /users/{id}/tasks/{taskID}", s.authed(s.handleDeleteTask))
	mux.HandleFunc("POST /users/{id}/tasks/{taskID}/complete", s.authed(s.handleCompleteTask))

	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// authed wraps a handler with the authentication check on the path's
// user id.
func (s *Server) authed(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("id")
		if err := s.auth.Authenticate(r, userID); err != nil {
			logging.APIError("Auth rejected %s %s: %v", r.Method, r.URL.Path, err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	}
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// connections within the shutdown grace period.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpd.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpd.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh // http.ErrServerClosed
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
