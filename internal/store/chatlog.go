package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskchat/internal/logging"
	"taskchat/internal/types"
)

// conversationTitleChars caps the title derived from the first message.
const conversationTitleChars = 50

// GetOrCreateConversation returns the conversation identified by convID,
// or creates a fresh one when convID is empty. A convID that does not
// exist for this owner is NotFound, whether it is absent or owned by
// someone else.
func (s *LocalStore) GetOrCreateConversation(ctx context.Context, ownerID, convID string) (types.ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if convID != "" {
		return s.getConversation(ctx, ownerID, convID)
	}

	now := time.Now().UTC()
	conv := types.ConversationRecord{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, created_at, updated_at)
		 VALUES (?, ?, '', ?, ?)`,
		conv.ID, conv.OwnerID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return types.ConversationRecord{}, fmt.Errorf("failed to create conversation: %w", err)
	}

	logging.ChatDebug("Created conversation %s for owner %s", conv.ID, ownerID)
	return conv, nil
}

// GetConversation returns one conversation scoped to the owner.
func (s *LocalStore) GetConversation(ctx context.Context, ownerID, convID string) (types.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getConversation(ctx, ownerID, convID)
}

func (s *LocalStore) getConversation(ctx context.Context, ownerID, convID string) (types.ConversationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at
		 FROM conversations WHERE id = ? AND owner_id = ?`, convID, ownerID)

	var conv types.ConversationRecord
	err := row.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ConversationRecord{}, types.NotFound("conversation", convID)
	}
	if err != nil {
		return types.ConversationRecord{}, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the owner's conversations ordered by recency.
// limit <= 0 means no limit.
func (s *LocalStore) ListConversations(ctx context.Context, ownerID string, limit, offset int) ([]types.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at
		 FROM conversations WHERE owner_id = ?
		 ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var convs []types.ConversationRecord
	for rows.Next() {
		var conv types.ConversationRecord
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// AppendMessage records one message in the conversation and bumps the
// conversation's recency. The first user message also titles the
// conversation.
func (s *LocalStore) AppendMessage(ctx context.Context, convID, sender, content string) (types.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := types.MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Sender:         sender,
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_type, content, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Sender, msg.Content, msg.Timestamp)
	if err != nil {
		return types.MessageRecord{}, fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.Timestamp, convID); err != nil {
		logging.StoreDebug("Failed to bump conversation %s: %v", convID, err)
	}
	if sender == types.SenderUser {
		title := content
		if len(title) > conversationTitleChars {
			title = title[:conversationTitleChars]
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE conversations SET title = ? WHERE id = ? AND title = ''`, title, convID); err != nil {
			logging.StoreDebug("Failed to title conversation %s: %v", convID, err)
		}
	}

	return msg, nil
}

// GetHistory returns the most recent messages of the conversation in
// chronological order. limit <= 0 means all messages.
func (s *LocalStore) GetHistory(ctx context.Context, convID string, limit int) ([]types.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender_type, content, timestamp FROM (
			SELECT id, conversation_id, sender_type, content, timestamp, rowid AS rid
			FROM messages WHERE conversation_id = ?
			ORDER BY timestamp DESC, rowid DESC LIMIT ?
		 ) ORDER BY timestamp ASC, rid ASC`,
		convID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListMessages returns all messages of the conversation in chronological
// order with their tool calls attached. Ownership is checked first.
func (s *LocalStore) ListMessages(ctx context.Context, ownerID, convID string) ([]types.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getConversation(ctx, ownerID, convID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender_type, content, timestamp
		 FROM messages WHERE conversation_id = ?
		 ORDER BY timestamp ASC, rowid ASC`, convID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		calls, err := s.toolCallsFor(ctx, msgs[i].ID)
		if err != nil {
			return nil, err
		}
		msgs[i].ToolCalls = calls
	}
	return msgs, nil
}

// AppendAssistantTurn records the assistant message and its tool calls
// in one transaction: either the whole turn is persisted or none of it.
func (s *LocalStore) AppendAssistantTurn(ctx context.Context, convID, content string, calls []types.ToolCallRecord) (types.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.MessageRecord{}, fmt.Errorf("failed to begin turn: %w", err)
	}
	defer tx.Rollback()

	msg := types.MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Sender:         types.SenderAssistant,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		ToolCalls:      calls,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_type, content, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Sender, msg.Content, msg.Timestamp)
	if err != nil {
		return types.MessageRecord{}, fmt.Errorf("failed to insert message: %w", err)
	}

	for _, call := range calls {
		params, err := json.Marshal(call.Parameters)
		if err != nil {
			return types.MessageRecord{}, fmt.Errorf("failed to encode tool-call parameters: %w", err)
		}
		result, err := json.Marshal(call.Result)
		if err != nil {
			return types.MessageRecord{}, fmt.Errorf("failed to encode tool-call result: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tool_calls (message_id, tool_name, parameters, result, executed_at)
			 VALUES (?, ?, ?, ?, ?)`,
			msg.ID, call.ToolName, string(params), string(result), call.ExecutedAt)
		if err != nil {
			return types.MessageRecord{}, fmt.Errorf("failed to insert tool call: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.Timestamp, convID); err != nil {
		return types.MessageRecord{}, fmt.Errorf("failed to bump conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.MessageRecord{}, fmt.Errorf("failed to commit turn: %w", err)
	}
	return msg, nil
}

// AppendToolCall records one executed tool call against a message.
func (s *LocalStore) AppendToolCall(ctx context.Context, messageID string, call types.ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	params, err := json.Marshal(call.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode tool-call parameters: %w", err)
	}
	result, err := json.Marshal(call.Result)
	if err != nil {
		return fmt.Errorf("failed to encode tool-call result: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (message_id, tool_name, parameters, result, executed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		messageID, call.ToolName, string(params), string(result), call.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to insert tool call: %w", err)
	}
	return nil
}

func (s *LocalStore) toolCallsFor(ctx context.Context, messageID string) ([]types.ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_name, parameters, result, executed_at
		 FROM tool_calls WHERE message_id = ? ORDER BY id ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool calls: %w", err)
	}
	defer rows.Close()

	var calls []types.ToolCallRecord
	for rows.Next() {
		var call types.ToolCallRecord
		var params, result string
		if err := rows.Scan(&call.ToolName, &params, &result, &call.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &call.Parameters); err != nil {
			logging.StoreDebug("Corrupt tool-call parameters on message %s: %v", messageID, err)
			call.Parameters = map[string]interface{}{}
		}
		if err := json.Unmarshal([]byte(result), &call.Result); err != nil {
			logging.StoreDebug("Corrupt tool-call result on message %s: %v", messageID, err)
			call.Result = map[string]interface{}{}
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]types.MessageRecord, error) {
	var msgs []types.MessageRecord
	for rows.Next() {
		var msg types.MessageRecord
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
