// Package dispatch executes resolved intents against the task store and
// renders the templated confirmation for each action. Every non-reply
// action produces exactly one tool-call record, success or failure.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"taskchat/internal/logging"
	"taskchat/internal/types"
)

// Validation limits for task fields, applied after trimming.
const (
	MaxTitleChars       = 200
	MaxDescriptionChars = 1000
)

// TaskStore is the persistence surface the dispatcher needs. Task
// references are resolved inside the store (exact id, or title fragment
// when the configured policy permits); a reference that resolves to a
// task owned by someone else reports NotFound, same as absence.
type TaskStore interface {
	CreateTask(ctx context.Context, ownerID, title, description string) (types.TaskRecord, error)
	ListTasks(ctx context.Context, ownerID, status string) ([]types.TaskRecord, error)
	CompleteTask(ctx context.Context, ownerID, ref string) (types.TaskRecord, error)
	UpdateTask(ctx context.Context, ownerID, ref string, title, description *string) (types.TaskRecord, error)
	DeleteTask(ctx context.Context, ownerID, ref string) (types.TaskRecord, error)
}

// Dispatcher maps intents to store operations.
type Dispatcher struct {
	store TaskStore
}

// New returns a dispatcher backed by the given store.
func New(store TaskStore) *Dispatcher {
	return &Dispatcher{store: store}
}

// Dispatch executes the intent for the given owner. It returns the
// assistant-facing confirmation text and, for non-reply actions, the
// tool-call record of the execution. When the operation fails the record
// is still returned with the error captured in its result payload, and
// the error is surfaced so the caller can choose the degraded reply.
func (d *Dispatcher) Dispatch(ctx context.Context, intent types.Intent, ownerID string) (string, *types.ToolCallRecord, error) {
	switch intent.Action {
	case types.ActionAddTask:
		return d.addTask(ctx, intent, ownerID)
	case types.ActionListTasks:
		return d.listTasks(ctx, intent, ownerID)
	case types.ActionCompleteTask:
		return d.completeTask(ctx, intent, ownerID)
	case types.ActionUpdateTask:
		return d.updateTask(ctx, intent, ownerID)
	case types.ActionDeleteTask:
		return d.deleteTask(ctx, intent, ownerID)
	case types.ActionReply, "":
		return d.reply(intent), nil, nil
	default:
		// Unknown actions never reach here from the extractor, but a
		// hand-built intent could carry one.
		logging.ToolsError("dispatch: unknown action %q", intent.Action)
		return d.reply(types.Reply()), nil, nil
	}
}

func (d *Dispatcher) reply(intent types.Intent) string {
	if msg := intent.StringParam("message"); msg != "" {
		return msg
	}
	return "I can help you manage your tasks. Try 'add task buy groceries', 'list my tasks', or 'complete task 1'."
}

func (d *Dispatcher) addTask(ctx context.Context, intent types.Intent, ownerID string) (string, *types.ToolCallRecord, error) {
	title := intent.Title()
	description := intent.Description()

	if err := validateTitle(title); err != nil {
		return "", record(intent, errResult(err)), err
	}
	if utf8.RuneCountInString(description) > MaxDescriptionChars {
		err := types.Validationf("task description exceeds %d characters", MaxDescriptionChars)
		return "", record(intent, errResult(err)), err
	}

	task, err := d.store.CreateTask(ctx, ownerID, title, description)
	if err != nil {
		logging.ToolsError("add_task failed for owner %s: %v", ownerID, err)
		return "", record(intent, errResult(err)), err
	}

	logging.ToolsDebug("add_task: created %s (%q) for owner %s", task.ID, task.Title, ownerID)
	return fmt.Sprintf("I've added the task '%s' to your list.", task.Title),
		record(intent, taskResult(task)), nil
}

func (d *Dispatcher) listTasks(ctx context.Context, intent types.Intent, ownerID string) (string, *types.ToolCallRecord, error) {
	status := strings.ToLower(intent.StatusFilter())
	switch status {
	case "", "completed", "pending":
	default:
		err := types.Validationf("unknown status filter %q", status)
		return "", record(intent, errResult(err)), err
	}

	tasks, err := d.store.ListTasks(ctx, ownerID, status)
	if err != nil {
		logging.ToolsError("list_tasks failed for owner %s: %v", ownerID, err)
		return "", record(intent, errResult(err)), err
	}

	rec := record(intent, map[string]interface{}{"count": len(tasks)})
	if len(tasks) == 0 {
		return "You don't have any tasks.", rec, nil
	}

	titles := make([]string, len(tasks))
	for i, task := range tasks {
		titles[i] = task.Title
	}
	return "Here are your tasks: " + strings.Join(titles, ", "), rec, nil
}

func (d *Dispatcher) completeTask(ctx context.Context, intent types.Intent, ownerID string) (string, *types.ToolCallRecord, error) {
	ref := intent.TaskRef()
	if ref == "" {
		err := types.Validationf("task reference is required")
		return "", record(intent, errResult(err)), err
	}

	task, err := d.store.CompleteTask(ctx, ownerID, ref)
	if err != nil {
		logging.ToolsError("complete_task %q failed for owner %s: %v", ref, ownerID, err)
		return "", record(intent, errResult(err)), err
	}

	return fmt.Sprintf("I've marked the task '%s' as completed.", task.Title),
		record(intent, taskResult(task)), nil
}

func (d *Dispatcher) updateTask(ctx context.Context, intent types.Intent, ownerID string) (string, *types.ToolCallRecord, error) {
	ref := intent.TaskRef()
	if ref == "" {
		err := types.Validationf("task reference is required")
		return "", record(intent, errResult(err)), err
	}

	var title, description *string
	if intent.HasParam("title") {
		t := intent.Title()
		if err := validateTitle(t); err != nil {
			return "", record(intent, errResult(err)), err
		}
		title = &t
	}
	if intent.HasParam("description") {
		desc := intent.Description()
		if utf8.RuneCountInString(desc) > MaxDescriptionChars {
			err := types.Validationf("task description exceeds %d characters", MaxDescriptionChars)
			return "", record(intent, errResult(err)), err
		}
		description = &desc
	}
	// No fields means a no-op: the task is still resolved and the
	// confirmation names it, fields left unchanged.
	task, err := d.store.UpdateTask(ctx, ownerID, ref, title, description)
	if err != nil {
		logging.ToolsError("update_task %q failed for owner %s: %v", ref, ownerID, err)
		return "", record(intent, errResult(err)), err
	}

	return fmt.Sprintf("I've updated the task to '%s'.", task.Title),
		record(intent, taskResult(task)), nil
}

func (d *Dispatcher) deleteTask(ctx context.Context, intent types.Intent, ownerID string) (string, *types.ToolCallRecord, error) {
	ref := intent.TaskRef()
	if ref == "" {
		err := types.Validationf("task reference is required")
		return "", record(intent, errResult(err)), err
	}

	task, err := d.store.DeleteTask(ctx, ownerID, ref)
	if err != nil {
		logging.ToolsError("delete_task %q failed for owner %s: %v", ref, ownerID, err)
		return "", record(intent, errResult(err)), err
	}

	return fmt.Sprintf("I've deleted the task '%s'.", task.Title),
		record(intent, taskResult(task)), nil
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return types.Validationf("task title cannot be empty")
	}
	if utf8.RuneCountInString(title) > MaxTitleChars {
		return types.Validationf("task title exceeds %d characters", MaxTitleChars)
	}
	return nil
}

func record(intent types.Intent, result map[string]interface{}) *types.ToolCallRecord {
	return &types.ToolCallRecord{
		ToolName:   string(intent.Action),
		Parameters: intent.Params,
		Result:     result,
		ExecutedAt: time.Now().UTC(),
	}
}

func taskResult(task types.TaskRecord) map[string]interface{} {
	return map[string]interface{}{
		"task_id":   task.ID,
		"title":     task.Title,
		"completed": task.Completed,
	}
}

func errResult(err error) map[string]interface{} {
	return map[string]interface{}{"error": err.Error()}
}
