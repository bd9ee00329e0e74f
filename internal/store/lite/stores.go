package lite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/convoflowhq/convoflow/internal/model"
)

// ClientStore loads tenants from SQLite.
type ClientStore struct{ db *sql.DB }

func NewClientStore(db *sql.DB) *ClientStore { return &ClientStore{db: db} }

func (s *ClientStore) Get(ctx context.Context, clientID string) (*model.Client, error) {
	c := &model.Client{}
	var dynamic sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_name, industry, business_location, business_description,
		       business_hours, contact_options, dynamic_information,
		       is_active, created_at, updated_at
		FROM clients WHERE id = ?`, clientID).Scan(
		&c.ID, &c.BusinessName, &c.Industry, &c.BusinessLocation, &c.BusinessDesc,
		&c.BusinessHours, &c.ContactOptions, &dynamic,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("client %s: %w", clientID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get client %s: %w", clientID, err)
	}
	c.DynamicInformation = dynamic.String

	if c.Credentials, err = loadCredentials(ctx, s.db, clientID); err != nil {
		return nil, err
	}
	if c.Workflows, err = loadWorkflowsByClient(ctx, s.db, clientID); err != nil {
		return nil, err
	}
	if c.Events, err = loadEvents(ctx, s.db, clientID); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ClientStore) GetBindingByAccount(ctx context.Context, accountID string, platform model.Platform) (*model.PlatformBinding, error) {
	b := &model.PlatformBinding{}
	var question sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, platform, account_id, requires_confirmation, confirmation_question
		FROM platform_bindings WHERE account_id = ? AND platform = ?`,
		accountID, platform).Scan(
		&b.ID, &b.ClientID, &b.Platform, &b.AccountID, &b.RequiresConfirmation, &question)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("binding for account %s on %s: %w", accountID, platform, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get binding for account %s: %w", accountID, err)
	}
	b.ConfirmationQuestion = question.String

	if b.Credentials, err = loadCredentials(ctx, s.db, b.ClientID); err != nil {
		return nil, err
	}
	return b, nil
}

func loadCredentials(ctx context.Context, db *sql.DB, clientID string) ([]model.Credential, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, client_id, type, value, expires_at, created_at
		FROM credentials WHERE client_id = ?`, clientID)
	if err != nil {
		return nil, fmt.Errorf("load credentials for %s: %w", clientID, err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		var c model.Credential
		var expires sql.NullTime
		if err := rows.Scan(&c.ID, &c.ClientID, &c.Type, &c.Value, &expires, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		if expires.Valid {
			c.ExpiresAt = &expires.Time
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func loadEvents(ctx context.Context, db *sql.DB, clientID string) ([]model.BizEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, client_id, event_name, coalesce(description, ''), coalesce(recurrence, ''),
		       start_date, end_date
		FROM client_events WHERE client_id = ?`, clientID)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", clientID, err)
	}
	defer rows.Close()

	var events []model.BizEvent
	for rows.Next() {
		var e model.BizEvent
		var start, end sql.NullTime
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Name, &e.Description, &e.Recurrence, &start, &end); err != nil {
			return nil, fmt.Errorf("scan client event: %w", err)
		}
		if start.Valid {
			e.StartDate = &start.Time
		}
		if end.Valid {
			e.EndDate = &end.Time
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// WorkflowStore loads workflows and actions from SQLite.
type WorkflowStore struct{ db *sql.DB }

func NewWorkflowStore(db *sql.DB) *WorkflowStore { return &WorkflowStore{db: db} }

func (s *WorkflowStore) Get(ctx context.Context, workflowID string) (*model.Workflow, error) {
	w := &model.Workflow{}
	var useCase sql.NullString
	var cfg []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, key, name, use_case, is_active, configuration, created_at, updated_at
		FROM workflows WHERE id = ?`, workflowID).Scan(
		&w.ID, &w.ClientID, &w.Key, &w.Name, &useCase, &w.IsActive, &cfg, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", workflowID, err)
	}
	w.UseCase = useCase.String
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &w.Configuration); err != nil {
			return nil, fmt.Errorf("decode workflow %s configuration: %w", w.ID, err)
		}
	}
	if err := attachVariantsAndPolicies(ctx, s.db, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *WorkflowStore) Actions(ctx context.Context, workflowID string) ([]model.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, kind, coalesce(use_case, ''), is_active,
		       configuration, created_at, updated_at
		FROM workflow_actions WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load actions for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var actions []model.Action
	for rows.Next() {
		var a model.Action
		var cfg []byte
		if err := rows.Scan(&a.ID, &a.WorkflowID, &a.Kind, &a.UseCase, &a.IsActive,
			&cfg, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Config = json.RawMessage(cfg)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func loadWorkflowsByClient(ctx context.Context, db *sql.DB, clientID string) ([]model.Workflow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, client_id, key, name, coalesce(use_case, ''), is_active,
		       configuration, created_at, updated_at
		FROM workflows WHERE client_id = ? ORDER BY created_at`, clientID)
	if err != nil {
		return nil, fmt.Errorf("load workflows for %s: %w", clientID, err)
	}
	defer rows.Close()

	var workflows []model.Workflow
	for rows.Next() {
		w := model.Workflow{}
		var cfg []byte
		if err := rows.Scan(&w.ID, &w.ClientID, &w.Key, &w.Name, &w.UseCase, &w.IsActive,
			&cfg, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &w.Configuration); err != nil {
				return nil, fmt.Errorf("decode workflow %s configuration: %w", w.ID, err)
			}
		}
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range workflows {
		if err := attachVariantsAndPolicies(ctx, db, &workflows[i]); err != nil {
			return nil, err
		}
	}
	return workflows, nil
}

func attachVariantsAndPolicies(ctx context.Context, db *sql.DB, w *model.Workflow) error {
	vrows, err := db.QueryContext(ctx, `
		SELECT id, workflow_id, platform, channel, override_configuration, is_active
		FROM workflow_variants WHERE workflow_id = ?`, w.ID)
	if err != nil {
		return fmt.Errorf("load variants for %s: %w", w.ID, err)
	}
	defer vrows.Close()
	for vrows.Next() {
		var v model.WorkflowVariant
		var platform, channel sql.NullString
		var override []byte
		if err := vrows.Scan(&v.ID, &v.WorkflowID, &platform, &channel, &override, &v.IsActive); err != nil {
			return fmt.Errorf("scan variant: %w", err)
		}
		if platform.Valid {
			p := model.Platform(platform.String)
			v.Platform = &p
		}
		if channel.Valid {
			c := model.Channel(channel.String)
			v.Channel = &c
		}
		v.Override = json.RawMessage(override)
		w.Variants = append(w.Variants, v)
	}
	if err := vrows.Err(); err != nil {
		return err
	}

	prows, err := db.QueryContext(ctx, `
		SELECT id, workflow_id, platform, channel, is_allowed
		FROM workflow_policies WHERE workflow_id = ?`, w.ID)
	if err != nil {
		return fmt.Errorf("load policies for %s: %w", w.ID, err)
	}
	defer prows.Close()
	for prows.Next() {
		var p model.WorkflowPolicy
		var platform, channel sql.NullString
		if err := prows.Scan(&p.ID, &p.WorkflowID, &platform, &channel, &p.IsAllowed); err != nil {
			return fmt.Errorf("scan policy: %w", err)
		}
		if platform.Valid {
			pl := model.Platform(platform.String)
			p.Platform = &pl
		}
		if channel.Valid {
			ch := model.Channel(channel.String)
			p.Channel = &ch
		}
		w.Policies = append(w.Policies, p)
	}
	return prows.Err()
}

// ConversationStore owns conversation rows in SQLite.
type ConversationStore struct{ db *sql.DB }

func NewConversationStore(db *sql.DB) *ConversationStore { return &ConversationStore{db: db} }

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
		WHERE sender_id = ? AND coalesce(post_id, '') = ?`,
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
		VALUES (?, ?, ?, ?, ?, ?, nullif(?, ''), nullif(?, ''), nullif(?, ''), ?, ?)`,
		conv.ID, conv.ClientID, conv.AccountID, conv.Platform, conv.Channel, conv.SenderID,
		conv.SenderUsername, conv.PostID, conv.ParentID, conv.LastMessageAt, conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("create conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (s *ConversationStore) BindSession(ctx context.Context, convID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET active_session_id = nullif(?, '') WHERE id = ?`,
		sessionID, convID)
	if err != nil {
		return fmt.Errorf("bind session on conversation %s: %w", convID, err)
	}
	return nil
}

func (s *ConversationStore) SetPause(ctx context.Context, convID string, until *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET paused_until = ? WHERE id = ?`, until, convID)
	if err != nil {
		return fmt.Errorf("set pause on conversation %s: %w", convID, err)
	}
	return nil
}

func (s *ConversationStore) SetConfirmed(ctx context.Context, convID string, confirmed bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET is_confirmed = ? WHERE id = ?`, confirmed, convID)
	if err != nil {
		return fmt.Errorf("set confirmed on conversation %s: %w", convID, err)
	}
	return nil
}

func (s *ConversationStore) TouchLastMessage(ctx context.Context, convID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`, at, convID)
	if err != nil {
		return fmt.Errorf("touch conversation %s: %w", convID, err)
	}
	return nil
}

// MessageStore owns conversation messages in SQLite.
type MessageStore struct{ db *sql.DB }

func NewMessageStore(db *sql.DB) *MessageStore { return &MessageStore{db: db} }

func (s *MessageStore) Create(ctx context.Context, msg *model.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
			(id, conversation_id, content, content_type, source_url, external_id,
			 sent_by, is_deleted, session_id, received_at)
		VALUES (?, ?, ?, ?, nullif(?, ''), ?, ?, 0, nullif(?, ''), ?)`,
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
		`SELECT 1 FROM messages WHERE external_id = ?`, externalID).Scan(&one)
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
		`UPDATE messages SET is_deleted = 1, deleted_at = ? WHERE external_id = ?`,
		time.Now(), externalID)
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
		WHERE conversation_id = ? AND is_deleted = 0
		ORDER BY received_at DESC
		LIMIT ?`, convID, limit)
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
		`UPDATE messages SET session_id = ? WHERE id = ?`, sessionID, messageID)
	if err != nil {
		return fmt.Errorf("bind session on message %s: %w", messageID, err)
	}
	return nil
}

// SessionStore owns workflow sessions in SQLite, with the same optimistic
// version check as the Postgres implementation.
type SessionStore struct{ db *sql.DB }

func NewSessionStore(db *sql.DB) *SessionStore { return &SessionStore{db: db} }

func (s *SessionStore) Create(ctx context.Context, session *model.Session) error {
	state, err := json.Marshal(session.State)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(id, workflow_id, workflow_key, conversation_id, status, stage,
			 state, result, version, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.WorkflowID, session.WorkflowKey, session.ConvID,
		session.Status, session.Stage, string(state), rawOrNil(session.Result),
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
		FROM sessions WHERE id = ?`, sessionID))
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
		FROM sessions WHERE conversation_id = ?
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
	var state string
	var result sql.NullString
	var ended sql.NullTime
	err := row.Scan(
		&session.ID, &session.WorkflowID, &session.WorkflowKey, &session.ConvID,
		&session.Status, &session.Stage, &state, &result,
		&session.Version, &session.StartedAt, &ended)
	if err != nil {
		return nil, err
	}
	if state != "" {
		if err := json.Unmarshal([]byte(state), &session.State); err != nil {
			return nil, fmt.Errorf("decode session state: %w", err)
		}
	}
	if result.Valid {
		session.Result = json.RawMessage(result.String)
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
			status = ?, stage = ?, state = ?, result = ?,
			ended_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		session.Status, session.Stage, string(state), rawOrNil(session.Result),
		session.EndedAt, session.ID, session.Version)
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

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// DecisionStore appends router decision audit records in SQLite.
type DecisionStore struct{ db *sql.DB }

func NewDecisionStore(db *sql.DB) *DecisionStore { return &DecisionStore{db: db} }

func (s *DecisionStore) Create(ctx context.Context, rec *model.DecisionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_records
			(id, workflow_id, conversation_id, message_id, score, reason, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkflowID, rec.ConvID, rec.MessageID, rec.Score, rec.Reason,
		rec.Message, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create decision record %s: %w", rec.ID, err)
	}
	return nil
}
