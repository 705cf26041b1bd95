package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
	"github.com/airtai/fastagency-sub000/pkg/relay"
)

// Team status values of a chat.
const (
	TeamStatusInProgress = "inprogress"
	TeamStatusCompleted  = "completed"
)

// Chat is one conversation thread.
type Chat struct {
	UUID             string    `json:"uuid"`
	UserID           int64     `json:"userId"`
	TeamStatus       string    `json:"teamStatus"`
	IsChatTerminated bool      `json:"isChatTerminated"`
	SmartSuggestions []string  `json:"smartSuggestions"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ErrChatOwnedByOther is returned when a user starts a conversation in a
// chat that belongs to someone else.
var ErrChatOwnedByOther = apperrors.New(apperrors.ErrCodeAuthorization, "chat belongs to another user")

// Conversation is one agent reply within a chat.
type Conversation struct {
	ID                       int64     `json:"id"`
	ChatUUID                 string    `json:"chatUuid"`
	Message                  string    `json:"message"`
	AgentConversationHistory string    `json:"agentConversationHistory"`
	IsLoading                bool      `json:"isLoading"`
	UpdatedAt                time.Time `json:"updatedAt"`
}

// StartConversation makes sure the chat exists and is in progress, then
// inserts a loading conversation row for the agent's reply.
func (s *Store) StartConversation(ctx context.Context, chatUUID string, userID int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreClosed
	}
	chatUUID = strings.TrimSpace(chatUUID)
	if chatUUID == "" {
		return 0, fmt.Errorf("chat uuid is required")
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO chats (uuid, user_id, team_status, is_chat_terminated, smart_suggestions, created_at, updated_at)
		VALUES (?, ?, ?, ?, '[]', ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET team_status = excluded.team_status,
			is_chat_terminated = excluded.is_chat_terminated, updated_at = excluded.updated_at
		WHERE chats.user_id = excluded.user_id
	`), chatUUID, userID, TeamStatusInProgress, false, now, now)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "upsert chat").WithContext("chat_uuid", chatUUID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "upsert chat").WithContext("chat_uuid", chatUUID)
	}
	if affected == 0 {
		return 0, ErrChatOwnedByOther
	}

	var id int64
	if err := tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO conversations (chat_uuid, role, message, agent_conversation_history, is_loading, created_at, updated_at)
		VALUES (?, 'agent', '', '', ?, ?, ?)
		RETURNING id
	`), chatUUID, true, now, now).Scan(&id); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "insert conversation").WithContext("chat_uuid", chatUUID)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "commit conversation")
	}
	return id, nil
}

// PersistTurn records the end of a turn: the conversation row stops loading
// and gets the final message and streamed history, the chat is marked
// completed. Both updates commit together. It implements relay.Persister.
func (s *Store) PersistTurn(ctx context.Context, turn relay.Turn) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	suggestions := turn.SmartSuggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	encoded, err := json.Marshal(suggestions)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode smart suggestions")
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE conversations
		SET is_loading = ?, message = ?, agent_conversation_history = ?, updated_at = ?
		WHERE id = ?
	`), false, turn.Message, turn.History, now, turn.ConversationID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "update conversation").
			WithContext("conversation_id", turn.ConversationID)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE chats
		SET team_status = ?, is_chat_terminated = ?, smart_suggestions = ?, updated_at = ?
		WHERE uuid = ?
	`), TeamStatusCompleted, turn.Terminated, string(encoded), now, turn.ThreadID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "update chat").
			WithContext("thread_id", turn.ThreadID)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStorageWrite, "commit turn")
	}
	return nil
}

// ChatOwner returns the user that owns chatUUID. found is false when the
// chat does not exist yet.
func (s *Store) ChatOwner(ctx context.Context, chatUUID string) (userID int64, found bool, err error) {
	if s == nil || s.db == nil {
		return 0, false, ErrStoreClosed
	}
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT user_id FROM chats WHERE uuid = ?`), chatUUID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "load chat owner").WithContext("chat_uuid", chatUUID)
	}
	return userID, true, nil
}

// GetChat loads a chat by uuid.
func (s *Store) GetChat(ctx context.Context, uuid string) (*Chat, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	var c Chat
	var suggestions string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT uuid, user_id, team_status, is_chat_terminated, smart_suggestions, updated_at
		FROM chats WHERE uuid = ?
	`), uuid).Scan(&c.UUID, &c.UserID, &c.TeamStatus, &c.IsChatTerminated, &suggestions, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "load chat").WithContext("chat_uuid", uuid)
	}
	if err := json.Unmarshal([]byte(suggestions), &c.SmartSuggestions); err != nil {
		c.SmartSuggestions = []string{}
	}
	return &c, nil
}

// GetConversation loads a conversation row by id.
func (s *Store) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	var c Conversation
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, chat_uuid, message, agent_conversation_history, is_loading, updated_at
		FROM conversations WHERE id = ?
	`), id).Scan(&c.ID, &c.ChatUUID, &c.Message, &c.AgentConversationHistory, &c.IsLoading, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "load conversation").WithContext("conversation_id", id)
	}
	return &c, nil
}
