package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"taskchat/internal/dispatch"
	"taskchat/internal/logging"
	"taskchat/internal/types"
)

// chatRequest is the body of POST /users/{id}/chat.
type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// taskRequest is the body of task create/update calls. Pointers
// distinguish "absent" from "set to empty" on update.
type taskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, userID string) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := s.chat.ProcessMessage(r.Context(), userID, req.ConversationID, req.Message)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if resp.ToolCalls == nil {
		resp.ToolCalls = []types.ToolCallRecord{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, userID string) {
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	convs, err := s.store.ListConversations(r.Context(), userID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if convs == nil {
		convs = []types.ConversationRecord{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, userID string) {
	msgs, err := s.store.ListMessages(r.Context(), userID, r.PathValue("convID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if msgs == nil {
		msgs = []types.MessageRecord{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, userID string) {
	status := strings.ToLower(r.URL.Query().Get("status"))
	switch status {
	case "", "completed", "pending":
	default:
		writeError(w, http.StatusBadRequest, "status must be completed or pending")
		return
	}

	tasks, err := s.store.ListTasks(r.Context(), userID, status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if tasks == nil {
		tasks = []types.TaskRecord{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, userID string) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	title := ""
	if req.Title != nil {
		title = strings.TrimSpace(*req.Title)
	}
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if utf8.RuneCountInString(title) > dispatch.MaxTitleChars {
		writeError(w, http.StatusBadRequest, "title too long")
		return
	}
	description := ""
	if req.Description != nil {
		description = *req.Description
	}
	if utf8.RuneCountInString(description) > dispatch.MaxDescriptionChars {
		writeError(w, http.StatusBadRequest, "description too long")
		return
	}

	task, err := s.store.CreateTask(r.Context(), userID, title, description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, userID string) {
	task, err := s.store.GetTask(r.Context(), userID, r.PathValue("taskID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request, userID string) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == nil && req.Description == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		if trimmed == "" {
			writeError(w, http.StatusBadRequest, "title cannot be empty")
			return
		}
		if utf8.RuneCountInString(trimmed) > dispatch.MaxTitleChars {
			writeError(w, http.StatusBadRequest, "title too long")
			return
		}
		req.Title = &trimmed
	}
	if req.Description != nil && utf8.RuneCountInString(*req.Description) > dispatch.MaxDescriptionChars {
		writeError(w, http.StatusBadRequest, "description too long")
		return
	}

	task, err := s.store.UpdateTask(r.Context(), userID, r.PathValue("taskID"), req.Title, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request, userID string) {
	task, err := s.store.DeleteTask(r.Context(), userID, r.PathValue("taskID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request, userID string) {
	task, err := s.store.CompleteTask(r.Context(), userID, r.PathValue("taskID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.APIError("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy to HTTP statuses. Internal
// details never reach the client.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case types.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case types.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logging.APIError("Internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
