package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/convoflowhq/convoflow/internal/model"
)

// SessionStore owns workflow sessions in Postgres. Updates use the version
// column for optimistic concurrency: two concurrent read-modify-write cycles
// for the same session cannot both win.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, session *model.Session) error {
	state, err := json.Marshal(session.State)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(id, workflow_id, workflow_key, conversation_id, status, stage,
			 state, result, version, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		session.ID, session.WorkflowID, session.WorkflowKey, session.ConvID,
		session.Status, session.Stage, state, nullableRaw(session.Result),
		session.Version, session.StartedAt)
	if err != nil {
		return fmt.Errorf("create session %s: %w", session.ID, err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, workflow_key, conversation_id, status, stage,
		       state, result, version, started_at, ended_at
		FROM sessions WHERE id = $1`, sessionID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return session, nil
}

// GetLatestByConversation finds the most recently started session of a
// conversation, terminal ones included.
func (s *SessionStore) GetLatestByConversation(ctx context.Context, convID string) (*model.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, workflow_key, conversation_id, status, stage,
		       state, result, version, started_at, ended_at
		FROM sessions WHERE conversation_id = $1
		ORDER BY started_at DESC LIMIT 1`, convID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("latest session for conversation %s: %w", convID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest session for conversation %s: %w", convID, err)
	}
	return session, nil
}

func scanSession(row *sql.Row) (*model.Session, error) {
	session := &model.Session{}
	var state, result []byte
	var ended sql.NullTime
	err := row.Scan(
		&session.ID, &session.WorkflowID, &session.WorkflowKey, &session.ConvID,
		&session.Status, &session.Stage, &state, &result,
		&session.Version, &session.StartedAt, &ended)
	if err != nil {
		return nil, err
	}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &session.State); err != nil {
			return nil, fmt.Errorf("decode session state: %w", err)
		}
	}
	if len(result) > 0 {
		session.Result = json.RawMessage(result)
	}
	if ended.Valid {
		session.EndedAt = &ended.Time
	}
	return session, nil
}

func (s *SessionStore) Update(ctx context.Context, session *model.Session) error {
	state, err := json.Marshal(session.State)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = $2, stage = $3, state = $4, result = $5,
			ended_at = $6, version = version + 1
		WHERE id = $1 AND version = $7`,
		session.ID, session.Status, session.Stage, state, nullableRaw(session.Result),
		session.EndedAt, session.Version)
	if err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("session %s at version %d: %w", session.ID, session.Version, model.ErrVersionConflict)
	}
	session.Version++
	return nil
}

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
