// Package types defines the shared data model for taskchat: the Action
// enumeration, the resolved Intent for one user message, and the records
// exchanged with the persistence layer.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Action identifies one of the fixed task operations the assistant can
// perform, or a plain conversational reply.
type Action string

const (
	ActionAddTask      Action = "add_task"
	ActionListTasks    Action = "list_tasks"
	ActionCompleteTask Action = "complete_task"
	ActionUpdateTask   Action = "update_task"
	ActionDeleteTask   Action = "delete_task"
	ActionReply        Action = "reply"
)

// knownActions is the closed set accepted from the model. Anything else
// degrades to ActionReply rather than failing the turn.
var knownActions = map[Action]bool{
	ActionAddTask:      true,
	ActionListTasks:    true,
	ActionCompleteTask: true,
	ActionUpdateTask:   true,
	ActionDeleteTask:   true,
	ActionReply:        true,
}

// ParseAction maps a raw action token to an Action. The second return is
// false when the token is not one of the known actions.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if knownActions[a] {
		return a, true
	}
	return ActionReply, false
}

// Mutating reports whether the action changes the task store.
func (a Action) Mutating() bool {
	switch a {
	case ActionAddTask, ActionCompleteTask, ActionUpdateTask, ActionDeleteTask:
		return true
	default:
		return false
	}
}

// Intent is the resolved (action, parameters) decision for one user
// message. It is constructed transiently per message and exists only to
// drive dispatch; it is never persisted directly.
type Intent struct {
	Action Action
	Params map[string]interface{}
}

// Reply returns the neutral intent: no action, no parameters.
func Reply() Intent {
	return Intent{Action: ActionReply, Params: map[string]interface{}{}}
}

// NewIntent builds an intent with the given action and parameter map.
// A nil map is replaced with an empty one so callers can always index.
func NewIntent(action Action, params map[string]interface{}) Intent {
	if params == nil {
		params = map[string]interface{}{}
	}
	return Intent{Action: action, Params: params}
}

// IsReply reports whether the intent carries no actionable operation.
func (in Intent) IsReply() bool {
	return in.Action == ActionReply || in.Action == ""
}

// Uncommitted reports whether the intent is a reply with no parameters,
// i.e. the extractor did not commit to anything and the fallback rule
// engine should be consulted.
func (in Intent) Uncommitted() bool {
	return in.IsReply() && len(in.Params) == 0
}

// StringParam extracts a string-typed parameter, tolerating the numeric
// types encoding/json produces so that a model replying {"task_id": 3}
// still yields a usable reference.
func (in Intent) StringParam(key string) string {
	v, ok := in.Params[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// Title returns the "title" parameter.
func (in Intent) Title() string { return in.StringParam("title") }

// Description returns the "description" parameter.
func (in Intent) Description() string { return in.StringParam("description") }

// TaskRef returns the "task_id" parameter: either an opaque identifier or
// a free-text title fragment. Resolution is the store's concern.
func (in Intent) TaskRef() string { return in.StringParam("task_id") }

// StatusFilter returns the optional "status" parameter for list_tasks.
func (in Intent) StatusFilter() string { return in.StringParam("status") }

// HasParam reports whether the key is present in the parameter map,
// regardless of value. Distinguishes "update with empty title" from
// "update without a title".
func (in Intent) HasParam(key string) bool {
	_, ok := in.Params[key]
	return ok
}

// =============================================================================
// PERSISTED RECORDS
// =============================================================================

// TaskRecord is one todo item owned by a user.
type TaskRecord struct {
	ID          string    `json:"task_id"`
	OwnerID     string    `json:"-"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConversationRecord groups the messages of one chat thread.
type ConversationRecord struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message sender types.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// MessageRecord is one persisted chat message. Assistant messages may
// carry the tool calls executed while producing them.
type MessageRecord struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"-"`
	Sender         string           `json:"sender_type"`
	Content        string           `json:"content"`
	Timestamp      time.Time        `json:"timestamp"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
}

// ToolCallRecord is the audit trail of one dispatched action: the tool
// name, the parameters supplied, and either the result or an error
// payload. Immutable once created.
type ToolCallRecord struct {
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters"`
	Result     map[string]interface{} `json:"result"`
	ExecutedAt time.Time              `json:"executed_at"`
}

// ChatResponse is the envelope returned for one completed chat turn.
type ChatResponse struct {
	ConversationID string           `json:"conversation_id"`
	Response       string           `json:"response"`
	ToolCalls      []ToolCallRecord `json:"tool_calls"`
	Timestamp      time.Time        `json:"timestamp"`
}
