// Package convo persists conversations and messages to sqlite. It is
// the durable counterpart of the in-memory session table: sessions
// expire, rows here do not.
package convo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bloxbuddy/wizard/internal/answer"
)

// Conversation is one durable conversation row.
type Conversation struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// StoredMessage is one durable message row.
type StoredMessage struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Role           string            `json:"role"`
	Content        string            `json:"content"`
	Citations      []answer.Citation `json:"citations,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Store reads and writes conversation rows.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ResolveConversation finds the conversation for a session id or
// creates it. The first user message becomes the title, truncated.
func (s *Store) ResolveConversation(ctx context.Context, sessionID, userID, title string) (*Conversation, error) {
	conv, err := s.findBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	now := time.Now()
	conv = &Conversation{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		UserID:        userID,
		Title:         truncateTitle(title),
		LastMessageAt: now,
		CreatedAt:     now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_conversations (id, session_id, user_id, title, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.SessionID, conv.UserID, nullableString(conv.Title),
		conv.LastMessageAt.UnixMilli(), conv.CreatedAt.UnixMilli())
	if err != nil {
		// Concurrent create on the same session loses the race; read
		// the winner back.
		if existing, findErr := s.findBySession(ctx, sessionID); findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) findBySession(ctx context.Context, sessionID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, user_id, COALESCE(title, ''), last_message_at, created_at
		FROM chat_conversations WHERE session_id = ?`, sessionID)

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return conv, nil
}

// SaveMessage appends a message and bumps the conversation's
// last_message_at.
func (s *Store) SaveMessage(ctx context.Context, conversationID, role, content string, citations []answer.Citation) (*StoredMessage, error) {
	msg := &StoredMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Citations:      citations,
		CreatedAt:      time.Now(),
	}

	var citationsJSON sql.NullString
	if len(citations) > 0 {
		data, err := json.Marshal(citations)
		if err != nil {
			return nil, fmt.Errorf("failed to encode citations: %w", err)
		}
		citationsJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, conversation_id, role, content, citations_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, citationsJSON, msg.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE chat_conversations SET last_message_at = ? WHERE id = ?`,
		msg.CreatedAt.UnixMilli(), msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

// LoadHistory returns the most recent messages for a session in
// chronological order. limit<=0 means no limit.
func (s *Store) LoadHistory(ctx context.Context, sessionID string, limit int) ([]StoredMessage, error) {
	conv, err := s.findBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}

	query := `
		SELECT id, conversation_id, role, content, citations_json, created_at
		FROM chat_messages WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC`
	args := []any{conv.ID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []StoredMessage
	for rows.Next() {
		var msg StoredMessage
		var citationsJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &citationsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdAt)
		if citationsJSON.Valid {
			if err := json.Unmarshal([]byte(citationsJSON.String), &msg.Citations); err != nil {
				return nil, fmt.Errorf("failed to decode citations: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListConversations returns a user's conversations, most recent first.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	query := `
		SELECT id, session_id, user_id, COALESCE(title, ''), last_message_at, created_at
		FROM chat_conversations WHERE user_id = ?
		ORDER BY last_message_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, *conv)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation; messages go with it via
// the cascading foreign key.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_conversations WHERE id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var lastMessageAt, createdAt int64
	if err := row.Scan(&conv.ID, &conv.SessionID, &conv.UserID, &conv.Title, &lastMessageAt, &createdAt); err != nil {
		return nil, err
	}
	conv.LastMessageAt = time.UnixMilli(lastMessageAt)
	conv.CreatedAt = time.UnixMilli(createdAt)
	return &conv, nil
}

func nullableString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func truncateTitle(title string) string {
	title = strings.TrimSpace(title)
	if len(title) > 80 {
		title = title[:77] + "..."
	}
	return title
}
