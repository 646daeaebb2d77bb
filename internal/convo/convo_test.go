package convo

import (
	"context"
	"testing"

	"github.com/bloxbuddy/wizard/internal/answer"
	"github.com/bloxbuddy/wizard/internal/testutil"
)

func TestResolveConversationFindOrCreate(t *testing.T) {
	s := NewStore(testutil.OpenTestDB(t))
	ctx := context.Background()

	first, err := s.ResolveConversation(ctx, "session_u1_1_abc", "u1", "How do leaderboards work?")
	if err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}
	if first.Title != "How do leaderboards work?" {
		t.Errorf("title = %q", first.Title)
	}

	second, err := s.ResolveConversation(ctx, "session_u1_1_abc", "u1", "different title")
	if err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}
	if second.ID != first.ID {
		t.Error("same session resolved to a different conversation")
	}
	if second.Title != first.Title {
		t.Error("existing conversation title was overwritten")
	}
}

func TestSaveAndLoadHistory(t *testing.T) {
	s := NewStore(testutil.OpenTestDB(t))
	ctx := context.Background()

	conv, err := s.ResolveConversation(ctx, "session_u1_1_abc", "u1", "first question")
	if err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}

	citations := []answer.Citation{{
		Title:        "Leaderboard Tutorial",
		Timestamp:    "2:15",
		VideoURL:     "https://www.youtube.com/watch?v=abc123",
		TimestampURL: "https://www.youtube.com/watch?v=abc123&t=135s",
		Relevance:    0.92,
	}}

	if _, err := s.SaveMessage(ctx, conv.ID, "user", "first question", nil); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := s.SaveMessage(ctx, conv.ID, "assistant", "the answer", citations); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	history, err := s.LoadHistory(ctx, "session_u1_1_abc", 10)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Error("history not in chronological order")
	}
	if len(history[1].Citations) != 1 {
		t.Fatalf("citations not persisted: %+v", history[1])
	}
	if history[1].Citations[0].TimestampURL != "https://www.youtube.com/watch?v=abc123&t=135s" {
		t.Errorf("citation url = %q", history[1].Citations[0].TimestampURL)
	}
}

func TestLoadHistoryUnknownSession(t *testing.T) {
	s := NewStore(testutil.OpenTestDB(t))
	history, err := s.LoadHistory(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if history != nil {
		t.Errorf("expected no history, got %d messages", len(history))
	}
}

func TestLoadHistoryLimitKeepsNewest(t *testing.T) {
	s := NewStore(testutil.OpenTestDB(t))
	ctx := context.Background()

	conv, err := s.ResolveConversation(ctx, "sess", "u1", "")
	if err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}
	for _, content := range []string{"one", "two", "three", "four"} {
		if _, err := s.SaveMessage(ctx, conv.ID, "user", content, nil); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	history, err := s.LoadHistory(ctx, "sess", 2)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d", len(history))
	}
	if history[0].Content != "three" || history[1].Content != "four" {
		t.Errorf("wrong window: %q, %q", history[0].Content, history[1].Content)
	}
}

func TestListConversations(t *testing.T) {
	s := NewStore(testutil.OpenTestDB(t))
	ctx := context.Background()

	a, err := s.ResolveConversation(ctx, "sess-a", "u1", "first")
	if err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}
	if _, err := s.ResolveConversation(ctx, "sess-b", "u1", "second"); err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}
	if _, err := s.ResolveConversation(ctx, "sess-c", "u2", "other user"); err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}

	// A new message bumps conversation a to the top.
	if _, err := s.SaveMessage(ctx, a.ID, "user", "follow up", nil); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	convs, err := s.ListConversations(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("conversations = %d", len(convs))
	}
	if convs[0].ID != a.ID {
		t.Error("most recently active conversation not first")
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	s := NewStore(testutil.OpenTestDB(t))
	ctx := context.Background()

	conv, err := s.ResolveConversation(ctx, "sess", "u1", "q")
	if err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}
	if _, err := s.SaveMessage(ctx, conv.ID, "user", "q", nil); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	if err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chat_messages`).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Errorf("messages survived the cascade: %d", count)
	}

	if err := s.DeleteConversation(ctx, conv.ID); err == nil {
		t.Error("expected error deleting a missing conversation")
	}
}
