// Package rules implements deterministic intent inference for the case
// where the language model is unavailable or non-committal. An ordered
// set of pattern families covers the common imperative phrasings so the
// assistant stays usable without the model.
package rules

import (
	"regexp"
	"strings"

	"taskchat/internal/logging"
	"taskchat/internal/types"
)

const uuidPattern = `[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`

var (
	completeIDRe = regexp.MustCompile(`(?i)(complete|finish|done)\s+(task\s+|#)?(` + uuidPattern + `|\d+)`)
	deleteIDRe   = regexp.MustCompile(`(?i)(delete|remove)\s+(task\s+|#)?(` + uuidPattern + `|\d+)`)
	updateToRe   = regexp.MustCompile(`(?i)(update|edit)\s+(task\s+|#)?([a-f0-9\-]+)\s+(?:to|as|with)\s+(.+)`)
	updateBareRe = regexp.MustCompile(`(?i)(update|edit)\s+(task\s+|#)?([a-f0-9\-]+)\s+(.+)`)
	addTitleRe   = regexp.MustCompile(`(?i)(add|create)\s+(a\s+)?(task\s+|#)?(.+)`)

	// Title cleanup: keep word characters, spaces, hyphens, underscores.
	titleCleanRe = regexp.MustCompile(`[^\w\s\-_]`)
	tokenCleanRe = regexp.MustCompile(`[^\w\-]`)
	numericRe    = regexp.MustCompile(`^\d+$`)
)

// Trailing filler words stripped from inferred add-titles. Policy
// decision: stripping is applied once, after keyword extraction.
var trailingFillers = []string{"please", "now", "thanks", "thank you"}

// Engine infers an Intent from a raw user message using ordered pattern
// families; the first matching family wins. List is checked before the
// task-reference families so a message containing both "list" and a task
// word is never misclassified.
type Engine struct{}

// New returns a rule engine.
func New() *Engine {
	return &Engine{}
}

// Infer derives an intent from the message. Returns a plain Reply when
// no family matches or a matching family cannot extract its required
// parameters.
func (e *Engine) Infer(message string) types.Intent {
	msg := strings.TrimSpace(message)
	lower := strings.ToLower(msg)

	switch {
	case strings.HasPrefix(lower, "list") || strings.HasPrefix(lower, "show") ||
		strings.Contains(lower, "list task"):
		logging.RulesDebug("inferred list_tasks from %q", msg)
		return types.NewIntent(types.ActionListTasks, nil)

	case hasAnyPrefix(lower, "complete", "finish", "done"):
		if ref := extractTaskRef(lower, completeIDRe); ref != "" {
			logging.RulesDebug("inferred complete_task ref=%s from %q", ref, msg)
			return types.NewIntent(types.ActionCompleteTask, map[string]interface{}{"task_id": ref})
		}
		return types.Reply()

	case hasAnyPrefix(lower, "update", "edit"):
		if ref, title, ok := extractUpdate(msg); ok {
			logging.RulesDebug("inferred update_task ref=%s from %q", ref, msg)
			return types.NewIntent(types.ActionUpdateTask, map[string]interface{}{
				"task_id": ref,
				"title":   title,
			})
		}
		return types.Reply()

	case hasAnyPrefix(lower, "delete", "remove"):
		if ref := extractTaskRef(lower, deleteIDRe); ref != "" {
			logging.RulesDebug("inferred delete_task ref=%s from %q", ref, msg)
			return types.NewIntent(types.ActionDeleteTask, map[string]interface{}{"task_id": ref})
		}
		return types.Reply()

	case hasAnyPrefix(lower, "add", "create"):
		if title := extractAddTitle(msg); title != "" {
			logging.RulesDebug("inferred add_task title=%q from %q", title, msg)
			return types.NewIntent(types.ActionAddTask, map[string]interface{}{"title": title})
		}
		return types.NewIntent(types.ActionReply, map[string]interface{}{
			"message": "Please specify a task title, for example 'add task buy groceries'.",
		})

	default:
		return types.Reply()
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// extractTaskRef pulls a task identifier out of the message. The primary
// regex captures a UUID-shaped token or a digit run after the command
// keyword; when it fails, a token scan looks for the word following
// "task"/"#", then for the first numeric-looking token.
func extractTaskRef(lower string, re *regexp.Regexp) string {
	if m := re.FindStringSubmatch(lower); m != nil {
		return m[3]
	}

	parts := strings.Fields(lower)
	for i, part := range parts {
		if (part == "task" || part == "#") && i+1 < len(parts) {
			ref := tokenCleanRe.ReplaceAllString(parts[i+1], "")
			if ref != "" {
				return ref
			}
		}
		if i > 0 && numericRe.MatchString(strings.ReplaceAll(part, "-", "")) {
			return part
		}
	}
	return ""
}

// extractUpdate matches "update <id> to|as|with <title>" first, then the
// looser "update <id> <title>".
func extractUpdate(msg string) (ref, title string, ok bool) {
	if m := updateToRe.FindStringSubmatch(msg); m != nil {
		return strings.ToLower(m[3]), strings.TrimSpace(m[4]), true
	}
	if m := updateBareRe.FindStringSubmatch(msg); m != nil {
		return strings.ToLower(m[3]), strings.TrimSpace(m[4]), true
	}
	return "", "", false
}

// extractAddTitle takes everything after the add/create keyword (with an
// optional a/task/# token skipped), strips characters outside word/space/
// hyphen, then drops trailing filler words. Empty results reject the
// match.
func extractAddTitle(msg string) string {
	m := addTitleRe.FindStringSubmatch(msg)
	if m == nil {
		return ""
	}
	title := titleCleanRe.ReplaceAllString(m[4], "")
	title = strings.TrimSpace(title)
	title = stripTrailingFillers(title)
	return title
}

func stripTrailingFillers(title string) string {
	lower := strings.ToLower(title)
	for _, filler := range trailingFillers {
		if strings.HasSuffix(lower, " "+filler) {
			return strings.TrimSpace(title[:len(title)-len(filler)])
		}
	}
	return title
}
