package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taskchat/internal/logging"
	"taskchat/internal/types"
)

const (
	actionMarker = "ACTION:"
	paramsMarker = "PARAMETERS:"
)

// Extractor asks the language model which action a user message implies
// and parses the ACTION/PARAMETERS reply into an Intent. It never
// returns an error: any upstream or parse failure degrades to Reply so
// the fallback rule engine gets its chance.
type Extractor struct {
	client  Client
	timeout time.Duration
}

// NewExtractor creates an extractor. A nil client means the model is
// absent and every Extract call yields Reply immediately.
func NewExtractor(client Client, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Extractor{client: client, timeout: timeout}
}

// Extract builds the prompt from history plus the current message, calls
// the model, and parses its reply. The returned Intent is always
// well-formed.
func (e *Extractor) Extract(ctx context.Context, message string, history []types.MessageRecord) types.Intent {
	if e.client == nil {
		return types.Reply()
	}

	prompt := BuildPrompt(message, history)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.client.Complete(callCtx, prompt)
	if err != nil {
		// Upstream failure is fully recovered here: the caller sees a
		// plain Reply and the rule engine takes over.
		logging.APIError("extractor: model call failed, degrading to reply: %v", err)
		return types.Reply()
	}

	intent := ParseModelReply(reply)
	logging.APIDebug("extractor: resolved action=%s params=%d", intent.Action, len(intent.Params))
	return intent
}

// BuildPrompt renders the instruction prompt embedding the conversation
// history, the current message, and the closed action set with examples.
func BuildPrompt(message string, history []types.MessageRecord) string {
	var hist strings.Builder
	for _, msg := range history {
		hist.WriteString(msg.Sender)
		hist.WriteString(": ")
		hist.WriteString(msg.Content)
		hist.WriteString("\n")
	}

	return fmt.Sprintf(`You are an AI assistant that helps users manage their todo tasks.
Based on the user's message, determine the appropriate action to take.

Conversation history:
%s
Current user message:
%s

Available actions:
- add_task: When user wants to create/add a new task
  Example: "Add task driving" -> ACTION: add_task, PARAMETERS: {"title": "driving"}
  Example: "Create a task to buy groceries" -> ACTION: add_task, PARAMETERS: {"title": "buy groceries"}

- list_tasks: When user wants to see their tasks
  Example: "Show my tasks" -> ACTION: list_tasks, PARAMETERS: {}

- complete_task: When user wants to mark a task as completed
  Example: "Complete task 1" -> ACTION: complete_task, PARAMETERS: {"task_id": "1"}

- update_task: When user wants to modify a task
  Example: "Update task 1 to 'updated title'" -> ACTION: update_task, PARAMETERS: {"task_id": "1", "title": "updated title"}

- delete_task: When user wants to remove a task
  Example: "Delete task 1" -> ACTION: delete_task, PARAMETERS: {"task_id": "1"}

- reply: For general conversation or when no task action is needed

Respond in the following format:
ACTION: [add_task|list_tasks|complete_task|update_task|delete_task|reply]
PARAMETERS: {json_parameters}

Now respond to the current user message:`, hist.String(), message)
}

// ParseModelReply parses an ACTION/PARAMETERS formatted model reply.
// Tolerates missing markers, unknown actions, prose around the format,
// and malformed or unbalanced JSON; all of those degrade to Reply with
// empty parameters.
func ParseModelReply(reply string) types.Intent {
	if !strings.Contains(reply, actionMarker) || !strings.Contains(reply, paramsMarker) {
		return types.Reply()
	}

	action, ok := parseActionToken(reply)
	if !ok {
		return types.Reply()
	}

	params, ok := parseParams(reply)
	if !ok {
		logging.APIDebug("extractor: parameter parse failed, degrading to reply: %s", truncate(reply, 200))
		return types.Reply()
	}

	return types.NewIntent(action, params)
}

// parseActionToken extracts the action name after ACTION: - the first
// whitespace-delimited token before the next newline or the PARAMETERS:
// marker, with any trailing colon stripped.
func parseActionToken(reply string) (types.Action, bool) {
	idx := strings.Index(reply, actionMarker)
	rest := reply[idx+len(actionMarker):]

	end := strings.IndexByte(rest, '\n')
	pEnd := strings.Index(rest, paramsMarker)
	if end == -1 || (pEnd != -1 && pEnd < end) {
		end = pEnd
	}
	if end == -1 {
		end = len(rest)
	}

	line := strings.TrimSpace(rest[:end])
	line = strings.TrimSuffix(line, ":")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return types.ActionReply, false
	}

	token := strings.Trim(fields[0], "[]")
	action, known := types.ParseAction(token)
	if !known {
		return types.ActionReply, false
	}
	return action, true
}

// parseParams extracts the JSON object after PARAMETERS: by scanning for
// the first '{' and its brace-depth-matched '}'. Nested objects are
// handled; an unbalanced or unparsable object fails the parse.
func parseParams(reply string) (map[string]interface{}, bool) {
	idx := strings.Index(reply, paramsMarker)
	section := reply[idx+len(paramsMarker):]

	start := strings.IndexByte(section, '{')
	if start == -1 {
		return nil, false
	}

	depth := 0
	end := -1
	for i := start; i < len(section); i++ {
		switch section[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i + 1
			}
		}
		if end != -1 {
			break
		}
	}
	if end == -1 {
		return nil, false
	}

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(section[start:end]), &params); err != nil {
		return nil, false
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return params, true
}
