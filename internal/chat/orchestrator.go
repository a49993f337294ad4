// Package chat runs one conversational turn end to end: sanitize,
// persist the user message, resolve an intent, execute it, and persist
// the assistant's reply. Collaborator failures degrade the reply; the
// turn itself always advances once the input is accepted.
package chat

import (
	"context"
	"unicode/utf8"

	"taskchat/internal/config"
	"taskchat/internal/logging"
	"taskchat/internal/sanitize"
	"taskchat/internal/types"
)

// Degraded assistant replies, used when a collaborator fails mid-turn.
const (
	degradedReply = "Sorry, I encountered an error processing your request."
	notFoundReply = "I couldn't find that task in your list."
)

// IntentExtractor is the model-backed extractor. It never returns an
// error: failures degrade to an uncommitted reply intent.
type IntentExtractor interface {
	Extract(ctx context.Context, message string, history []types.MessageRecord) types.Intent
}

// FallbackEngine is the deterministic rule matcher consulted when the
// extractor does not commit to an action.
type FallbackEngine interface {
	Infer(message string) types.Intent
}

// ActionDispatcher executes an intent for an owner.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, intent types.Intent, ownerID string) (string, *types.ToolCallRecord, error)
}

// ConversationStore is the persistence surface one turn needs.
type ConversationStore interface {
	GetOrCreateConversation(ctx context.Context, ownerID, convID string) (types.ConversationRecord, error)
	AppendMessage(ctx context.Context, convID, sender, content string) (types.MessageRecord, error)
	AppendAssistantTurn(ctx context.Context, convID, content string, calls []types.ToolCallRecord) (types.MessageRecord, error)
	AppendToolCall(ctx context.Context, messageID string, call types.ToolCallRecord) error
	GetHistory(ctx context.Context, convID string, limit int) ([]types.MessageRecord, error)
}

// Orchestrator wires the turn collaborators together.
type Orchestrator struct {
	store      ConversationStore
	extractor  IntentExtractor
	fallback   FallbackEngine
	dispatcher ActionDispatcher
	cfg        config.ChatConfig
}

// New builds an orchestrator. All collaborators are required except the
// extractor, which may be nil when no language model is configured; the
// fallback engine then handles every turn.
func New(store ConversationStore, extractor IntentExtractor, fallback FallbackEngine, dispatcher ActionDispatcher, cfg config.ChatConfig) *Orchestrator {
	return &Orchestrator{
		store:      store,
		extractor:  extractor,
		fallback:   fallback,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// ProcessMessage runs one turn for the owner. convRef selects an
// existing conversation; empty starts a new one. Input validation and
// conversation-lookup failures are returned before anything is written.
// Dispatch-time validation errors (user-correctable input) also
// interrupt the turn and surface to the caller; infrastructure failures
// instead degrade the reply and the turn completes.
func (o *Orchestrator) ProcessMessage(ctx context.Context, ownerID, convRef, raw string) (types.ChatResponse, error) {
	sanitized := sanitize.Clean(raw)
	if sanitized == "" {
		return types.ChatResponse{}, types.Validationf("message cannot be empty")
	}
	if utf8.RuneCountInString(sanitized) > o.cfg.MaxMessageChars {
		return types.ChatResponse{}, types.Validationf("message exceeds %d characters", o.cfg.MaxMessageChars)
	}

	conv, err := o.store.GetOrCreateConversation(ctx, ownerID, convRef)
	if err != nil {
		return types.ChatResponse{}, err
	}

	// History is captured before the new message so the prompt sees
	// prior turns and the current message separately.
	history, err := o.store.GetHistory(ctx, conv.ID, o.cfg.HistoryLimit)
	if err != nil {
		logging.ChatDebug("History fetch failed for %s: %v", conv.ID, err)
		history = nil
	}

	userMsg, err := o.store.AppendMessage(ctx, conv.ID, types.SenderUser, sanitized)
	if err != nil {
		return types.ChatResponse{}, types.Internal("append user message", err)
	}
	logging.Chat("Turn %s/%s: %q", ownerID, conv.ID, sanitized)

	intent := o.resolveIntent(ctx, sanitized, history)

	text, toolCall, dispatchErr := o.dispatcher.Dispatch(ctx, intent, ownerID)
	if dispatchErr != nil {
		// User-correctable input problems interrupt the turn and surface
		// directly; only infrastructure failures degrade the reply.
		if types.IsValidation(dispatchErr) {
			return types.ChatResponse{}, dispatchErr
		}
		text = degradedText(dispatchErr)
		logging.Chat("Dispatch of %s failed for %s: %v", intent.Action, ownerID, dispatchErr)
	}

	var calls []types.ToolCallRecord
	if toolCall != nil {
		calls = []types.ToolCallRecord{*toolCall}
	}

	assistantMsg, err := o.persistAssistantTurn(ctx, conv.ID, text, calls)
	if err != nil {
		// The user already has a response; losing the record is logged,
		// not surfaced.
		logging.ChatDebug("Assistant turn not persisted for %s: %v", conv.ID, err)
		assistantMsg = types.MessageRecord{Timestamp: userMsg.Timestamp}
	}

	return types.ChatResponse{
		ConversationID: conv.ID,
		Response:       text,
		ToolCalls:      calls,
		Timestamp:      assistantMsg.Timestamp,
	}, nil
}

// resolveIntent consults the extractor first and falls back to the rule
// engine when the extractor does not commit to anything.
func (o *Orchestrator) resolveIntent(ctx context.Context, message string, history []types.MessageRecord) types.Intent {
	if o.extractor != nil {
		intent := o.extractor.Extract(ctx, message, history)
		if !intent.Uncommitted() {
			return intent
		}
		logging.ChatDebug("Extractor uncommitted, consulting rules for %q", message)
	}
	return o.fallback.Infer(message)
}

// persistAssistantTurn writes the assistant message and its tool calls
// per the configured strategy: "single" ties their fates in one
// transaction, "isolated" writes the message first and records tool
// calls best-effort so an audit failure cannot lose the reply.
func (o *Orchestrator) persistAssistantTurn(ctx context.Context, convID, text string, calls []types.ToolCallRecord) (types.MessageRecord, error) {
	if o.cfg.ToolCallPersistence == config.ToolCallPersistSingle {
		return o.store.AppendAssistantTurn(ctx, convID, text, calls)
	}

	msg, err := o.store.AppendMessage(ctx, convID, types.SenderAssistant, text)
	if err != nil {
		return types.MessageRecord{}, err
	}
	for _, call := range calls {
		if err := o.store.AppendToolCall(ctx, msg.ID, call); err != nil {
			logging.ChatDebug("Tool call not recorded on %s: %v", msg.ID, err)
		}
	}
	msg.ToolCalls = calls
	return msg, nil
}

// degradedText maps a non-validation dispatch failure to the user-facing
// reply.
func degradedText(err error) string {
	if types.IsNotFound(err) {
		return notFoundReply
	}
	return degradedReply
}
