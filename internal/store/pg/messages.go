package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/convoflowhq/convoflow/internal/model"
)

// MessageStore owns conversation messages in Postgres.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Create(ctx context.Context, msg *model.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
			(id, conversation_id, content, content_type, source_url, external_id,
			 sent_by, is_deleted, session_id, received_at)
		VALUES ($1, $2, $3, $4, nullif($5, ''), $6, $7, false, nullif($8, ''), $9)`,
		msg.ID, msg.ConvID, msg.Content, msg.ContentType, msg.SourceURL, msg.ExternalID,
		msg.SentBy, msg.SessionID, msg.ReceivedAt)
	if err != nil {
		return fmt.Errorf("create message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *MessageStore) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE external_id = $1`, externalID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check message %s: %w", externalID, err)
	}
	return true, nil
}

func (s *MessageStore) MarkDeleted(ctx context.Context, externalID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_deleted = true, deleted_at = now() WHERE external_id = $1`,
		externalID)
	if err != nil {
		return fmt.Errorf("mark message %s deleted: %w", externalID, err)
	}
	return nil
}

func (s *MessageStore) ListRecent(ctx context.Context, convID string, limit int) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, content, content_type, coalesce(source_url, ''),
		       external_id, sent_by, is_deleted, coalesce(session_id, ''), received_at
		FROM messages
		WHERE conversation_id = $1 AND NOT is_deleted
		ORDER BY received_at DESC
		LIMIT $2`, convID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", convID, err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConvID, &m.Content, &m.ContentType, &m.SourceURL,
			&m.ExternalID, &m.SentBy, &m.IsDeleted, &m.SessionID, &m.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *MessageStore) BindSession(ctx context.Context, messageID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET session_id = $2 WHERE id = $1`, messageID, sessionID)
	if err != nil {
		return fmt.Errorf("bind session on message %s: %w", messageID, err)
	}
	return nil
}
