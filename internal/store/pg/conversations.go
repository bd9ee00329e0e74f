package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/convoflowhq/convoflow/internal/model"
)

// ConversationStore owns conversation rows in Postgres.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) GetBySender(ctx context.Context, senderID, postID string) (*model.Conversation, error) {
	c := &model.Conversation{}
	var activeSession, username, post, parent sql.NullString
	var confirmed sql.NullBool
	var paused sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, account_id, platform, channel, active_session_id,
		       sender_id, sender_username, post_id, parent_id, is_confirmed,
		       paused_until, last_message_at, created_at
		FROM conversations
		WHERE sender_id = $1 AND coalesce(post_id, '') = $2`,
		senderID, postID).Scan(
		&c.ID, &c.ClientID, &c.AccountID, &c.Platform, &c.Channel, &activeSession,
		&c.SenderID, &username, &post, &parent, &confirmed,
		&paused, &c.LastMessageAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation for sender %s: %w", senderID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation for sender %s: %w", senderID, err)
	}
	c.ActiveSessionID = activeSession.String
	c.SenderUsername = username.String
	c.PostID = post.String
	c.ParentID = parent.String
	if confirmed.Valid {
		c.IsConfirmed = &confirmed.Bool
	}
	if paused.Valid {
		c.PausedUntil = &paused.Time
	}
	return c, nil
}

func (s *ConversationStore) Create(ctx context.Context, conv *model.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, client_id, account_id, platform, channel, sender_id,
			 sender_username, post_id, parent_id, last_message_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, nullif($7, ''), nullif($8, ''), nullif($9, ''), $10, $11)`,
		conv.ID, conv.ClientID, conv.AccountID, conv.Platform, conv.Channel, conv.SenderID,
		conv.SenderUsername, conv.PostID, conv.ParentID, conv.LastMessageAt, conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("create conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (s *ConversationStore) BindSession(ctx context.Context, convID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET active_session_id = nullif($2, '') WHERE id = $1`,
		convID, sessionID)
	if err != nil {
		return fmt.Errorf("bind session on conversation %s: %w", convID, err)
	}
	return nil
}

func (s *ConversationStore) SetPause(ctx context.Context, convID string, until *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET paused_until = $2 WHERE id = $1`, convID, until)
	if err != nil {
		return fmt.Errorf("set pause on conversation %s: %w", convID, err)
	}
	return nil
}

func (s *ConversationStore) SetConfirmed(ctx context.Context, convID string, confirmed bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET is_confirmed = $2 WHERE id = $1`, convID, confirmed)
	if err != nil {
		return fmt.Errorf("set confirmed on conversation %s: %w", convID, err)
	}
	return nil
}

func (s *ConversationStore) TouchLastMessage(ctx context.Context, convID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = $2 WHERE id = $1`, convID, at)
	if err != nil {
		return fmt.Errorf("touch conversation %s: %w", convID, err)
	}
	return nil
}
