package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskchat/internal/chat"
	"taskchat/internal/config"
	"taskchat/internal/dispatch"
	"taskchat/internal/rules"
	"taskchat/internal/store"
	"taskchat/internal/types"
)

// newTestServer wires the real store, rules, dispatcher, and
// orchestrator behind the HTTP handler. No language model: the rule
// engine drives every chat turn.
func newTestServer(t *testing.T, auth Authenticator) *httptest.Server {
	t.Helper()

	st, err := store.NewLocalStore(":memory:", config.TaskRefTitleFallback)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	orch := chat.New(st, nil, rules.New(), dispatch.New(st), cfg.Chat)

	srv := New(cfg.Server, orch, st, auth)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestChatEndpointFullTurn(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/users/u1/chat", chatRequest{Message: "add task cooking"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out types.ChatResponse
	decode(t, resp, &out)
	assert.NotEmpty(t, out.ConversationID)
	assert.Equal(t, "I've added the task 'cooking' to your list.", out.Response)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "add_task", out.ToolCalls[0].ToolName)
	assert.False(t, out.Timestamp.IsZero())

	// Second turn in the same conversation sees the task.
	resp = postJSON(t, ts.URL+"/users/u1/chat", chatRequest{
		Message:        "list my tasks",
		ConversationID: out.ConversationID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var second types.ChatResponse
	decode(t, resp, &second)
	assert.Equal(t, out.ConversationID, second.ConversationID)
	assert.Equal(t, "Here are your tasks: cooking", second.Response)
}

func TestChatEndpointEmptyMessage(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/users/u1/chat", chatRequest{Message: "   "})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatEndpointForeignConversation(t *testing.T) {
	ts := newTestServer(t, nil)

	first := postJSON(t, ts.URL+"/users/u1/chat", chatRequest{Message: "add task secret"})
	var out types.ChatResponse
	decode(t, first, &out)

	resp := postJSON(t, ts.URL+"/users/u2/chat", chatRequest{
		Message:        "list tasks",
		ConversationID: out.ConversationID,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTaskCRUDLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	base := ts.URL + "/users/u1/tasks"

	title := "buy groceries"
	desc := "milk and eggs"
	resp := postJSON(t, base, taskRequest{Title: &title, Description: &desc})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var task types.TaskRecord
	decode(t, resp, &task)
	require.NotEmpty(t, task.ID)

	// Read back
	resp, err := http.Get(base + "/" + task.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got types.TaskRecord
	decode(t, resp, &got)
	assert.Equal(t, "buy groceries", got.Title)
	assert.Equal(t, "milk and eggs", got.Description)

	// Update title only
	newTitle := "buy oat milk"
	data, _ := json.Marshal(taskRequest{Title: &newTitle})
	req, _ := http.NewRequest(http.MethodPut, base+"/"+task.ID, bytes.NewReader(data))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &got)
	assert.Equal(t, "buy oat milk", got.Title)
	assert.Equal(t, "milk and eggs", got.Description)

	// Complete
	resp = postJSON(t, base+"/"+task.ID+"/complete", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &got)
	assert.True(t, got.Completed)

	// Filtered list
	resp, err = http.Get(base + "?status=completed")
	require.NoError(t, err)
	var tasks []types.TaskRecord
	decode(t, resp, &tasks)
	require.Len(t, tasks, 1)

	// Delete
	req, _ = http.NewRequest(http.MethodDelete, base+"/"+task.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(base + "/" + task.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateTaskValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	base := ts.URL + "/users/u1/tasks"

	empty := "   "
	resp := postJSON(t, base, taskRequest{Title: &empty})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	long := make([]byte, dispatch.MaxTitleChars+1)
	for i := range long {
		long[i] = 'x'
	}
	longTitle := string(long)
	resp = postJSON(t, base, taskRequest{Title: &longTitle})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Limits count characters, not bytes.
	runeTitle := strings.Repeat("ü", dispatch.MaxTitleChars)
	resp = postJSON(t, base, taskRequest{Title: &runeTitle})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestListTasksRejectsUnknownStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/users/u1/tasks?status=archived")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTasksScopedToPathUser(t *testing.T) {
	ts := newTestServer(t, nil)

	title := "mine"
	postJSON(t, ts.URL+"/users/u1/tasks", taskRequest{Title: &title}).Body.Close()

	resp, err := http.Get(ts.URL + "/users/u2/tasks")
	require.NoError(t, err)
	var tasks []types.TaskRecord
	decode(t, resp, &tasks)
	assert.Empty(t, tasks)
}

func TestConversationListingAndMessages(t *testing.T) {
	ts := newTestServer(t, nil)

	var out types.ChatResponse
	decode(t, postJSON(t, ts.URL+"/users/u1/chat", chatRequest{Message: "add task cooking"}), &out)

	resp, err := http.Get(ts.URL + "/users/u1/conversations")
	require.NoError(t, err)
	var convs []types.ConversationRecord
	decode(t, resp, &convs)
	require.Len(t, convs, 1)
	assert.Equal(t, "add task cooking", convs[0].Title)

	resp, err = http.Get(fmt.Sprintf("%s/users/u1/conversations/%s/messages", ts.URL, out.ConversationID))
	require.NoError(t, err)
	var msgs []types.MessageRecord
	decode(t, resp, &msgs)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.SenderUser, msgs[0].Sender)
	assert.Equal(t, types.SenderAssistant, msgs[1].Sender)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "add_task", msgs[1].ToolCalls[0].ToolName)
}

func TestMessagesOfForeignConversation(t *testing.T) {
	ts := newTestServer(t, nil)

	var out types.ChatResponse
	decode(t, postJSON(t, ts.URL+"/users/u1/chat", chatRequest{Message: "hello"}), &out)

	resp, err := http.Get(fmt.Sprintf("%s/users/u2/conversations/%s/messages", ts.URL, out.ConversationID))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type denyAll struct{}

func (denyAll) Authenticate(*http.Request, string) error { return errors.New("no") }

func TestAuthenticatorRejection(t *testing.T) {
	ts := newTestServer(t, denyAll{})

	resp := postJSON(t, ts.URL+"/users/u1/chat", chatRequest{Message: "hi"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
