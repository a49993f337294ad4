package store

import (
	"context"
	"testing"
	"time"

	"taskchat/internal/config"
	"taskchat/internal/types"
)

func TestGetOrCreateConversationFresh(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	conv, err := s.GetOrCreateConversation(ctx, "u1", "")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("New conversation should get an id")
	}

	again, err := s.GetOrCreateConversation(ctx, "u1", conv.ID)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if again.ID != conv.ID {
		t.Errorf("Expected same conversation, got %s", again.ID)
	}
}

func TestGetOrCreateConversationForeignIsNotFound(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	conv, _ := s.GetOrCreateConversation(ctx, "u1", "")
	_, err := s.GetOrCreateConversation(ctx, "u2", conv.ID)
	if !types.IsNotFound(err) {
		t.Fatalf("Foreign conversation must look absent, got %v", err)
	}
}

func TestAppendMessageAndHistory(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	conv, _ := s.GetOrCreateConversation(ctx, "u1", "")
	if _, err := s.AppendMessage(ctx, conv.ID, types.SenderUser, "add task cooking"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if _, err := s.AppendMessage(ctx, conv.ID, types.SenderAssistant, "I've added the task 'cooking' to your list."); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	history, err := s.GetHistory(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(history))
	}
	if history[0].Sender != types.SenderUser || history[1].Sender != types.SenderAssistant {
		t.Errorf("History out of order: %+v", history)
	}
}

func TestGetHistoryLimitKeepsMostRecent(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	conv, _ := s.GetOrCreateConversation(ctx, "u1", "")
	contents := []string{"first", "second", "third", "fourth"}
	for _, c := range contents {
		s.AppendMessage(ctx, conv.ID, types.SenderUser, c)
		time.Sleep(2 * time.Millisecond)
	}

	history, err := s.GetHistory(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(history))
	}
	if history[0].Content != "third" || history[1].Content != "fourth" {
		t.Errorf("Expected the two most recent in order, got %+v", history)
	}
}

func TestFirstUserMessageTitlesConversation(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	conv, _ := s.GetOrCreateConversation(ctx, "u1", "")
	s.AppendMessage(ctx, conv.ID, types.SenderUser, "add task buy groceries")
	s.AppendMessage(ctx, conv.ID, types.SenderUser, "list tasks")

	got, _ := s.GetConversation(ctx, "u1", conv.ID)
	if got.Title != "add task buy groceries" {
		t.Errorf("Expected first message as title, got %q", got.Title)
	}
}

func TestConversationTitleTruncated(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	long := ""
	for i := 0; i < 20; i++ {
		long += "abcdefghij"
	}
	conv, _ := s.GetOrCreateConversation(ctx, "u1", "")
	s.AppendMessage(ctx, conv.ID, types.SenderUser, long)

	got, _ := s.GetConversation(ctx, "u1", conv.ID)
	if len(got.Title) != conversationTitleChars {
		t.Errorf("Expected %d-char title, got %d", conversationTitleChars, len(got.Title))
	}
}

func TestListConversationsScopedAndPaged(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.GetOrCreateConversation(ctx, "u1", "")
		time.Sleep(2 * time.Millisecond)
	}
	s.GetOrCreateConversation(ctx, "u2", "")

	all, err := s.ListConversations(ctx, "u1", 0, 0)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 conversations, got %d", len(all))
	}

	page, err := s.ListConversations(ctx, "u1", 2, 1)
	if err != nil {
		t.Fatalf("ListConversations paged failed: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("Expected 2 conversations on page, got %d", len(page))
	}
}

func TestToolCallRoundTrip(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	conv, _ := s.GetOrCreateConversation(ctx, "u1", "")
	s.AppendMessage(ctx, conv.ID, types.SenderUser, "add task cooking")
	msg, _ := s.AppendMessage(ctx, conv.ID, types.SenderAssistant, "I've added the task 'cooking' to your list.")

	call := types.ToolCallRecord{
		ToolName:   "add_task",
		Parameters: map[string]interface{}{"title": "cooking"},
		Result:     map[string]interface{}{"task_id": "t-1", "title": "cooking"},
		ExecutedAt: time.Now().UTC(),
	}
	if err := s.AppendToolCall(ctx, msg.ID, call); err != nil {
		t.Fatalf("AppendToolCall failed: %v", err)
	}

	msgs, err := s.ListMessages(ctx, "u1", conv.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}

	assistant := msgs[1]
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(assistant.ToolCalls))
	}
	got := assistant.ToolCalls[0]
	if got.ToolName != "add_task" {
		t.Errorf("Unexpected tool name %q", got.ToolName)
	}
	if got.Parameters["title"] != "cooking" {
		t.Errorf("Parameters lost: %v", got.Parameters)
	}
	if got.Result["task_id"] != "t-1" {
		t.Errorf("Result lost: %v", got.Result)
	}
}

func TestAppendAssistantTurnAtomic(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	conv, _ := s.GetOrCreateConversation(ctx, "u1", "")
	s.AppendMessage(ctx, conv.ID, types.SenderUser, "complete task 1")

	msg, err := s.AppendAssistantTurn(ctx, conv.ID, "I've marked the task 'cooking' as completed.",
		[]types.ToolCallRecord{{
			ToolName:   "complete_task",
			Parameters: map[string]interface{}{"task_id": "1"},
			Result:     map[string]interface{}{"completed": true},
			ExecutedAt: time.Now().UTC(),
		}})
	if err != nil {
		t.Fatalf("AppendAssistantTurn failed: %v", err)
	}
	if msg.Sender != types.SenderAssistant {
		t.Errorf("Unexpected sender %q", msg.Sender)
	}

	msgs, err := s.ListMessages(ctx, "u1", conv.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	last := msgs[len(msgs)-1]
	if len(last.ToolCalls) != 1 || last.ToolCalls[0].ToolName != "complete_task" {
		t.Errorf("Tool call not persisted with the turn: %+v", last.ToolCalls)
	}
}

func TestListMessagesForeignConversation(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	conv, _ := s.GetOrCreateConversation(ctx, "u1", "")
	_, err := s.ListMessages(ctx, "u2", conv.ID)
	if !types.IsNotFound(err) {
		t.Fatalf("Foreign conversation messages must be not-found, got %v", err)
	}
}
