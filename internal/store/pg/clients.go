package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/convoflowhq/convoflow/internal/model"
)

// ClientStore loads tenants from Postgres.
type ClientStore struct {
	db *sql.DB
}

func NewClientStore(db *sql.DB) *ClientStore {
	return &ClientStore{db: db}
}

func (s *ClientStore) Get(ctx context.Context, clientID string) (*model.Client, error) {
	c := &model.Client{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_name, industry, business_location, business_description,
		       business_hours, contact_options, coalesce(dynamic_information, ''),
		       is_active, created_at, updated_at
		FROM clients WHERE id = $1`, clientID).Scan(
		&c.ID, &c.BusinessName, &c.Industry, &c.BusinessLocation, &c.BusinessDesc,
		&c.BusinessHours, &c.ContactOptions, &c.DynamicInformation,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("client %s: %w", clientID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get client %s: %w", clientID, err)
	}

	if c.Credentials, err = s.loadCredentials(ctx, clientID); err != nil {
		return nil, err
	}
	if c.Workflows, err = loadWorkflowsByClient(ctx, s.db, clientID); err != nil {
		return nil, err
	}
	if c.Events, err = s.loadEvents(ctx, clientID); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ClientStore) GetBindingByAccount(ctx context.Context, accountID string, platform model.Platform) (*model.PlatformBinding, error) {
	b := &model.PlatformBinding{}
	var question sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, platform, account_id, requires_confirmation, confirmation_question
		FROM platform_bindings WHERE account_id = $1 AND platform = $2`,
		accountID, platform).Scan(
		&b.ID, &b.ClientID, &b.Platform, &b.AccountID, &b.RequiresConfirmation, &question)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("binding for account %s on %s: %w", accountID, platform, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get binding for account %s: %w", accountID, err)
	}
	b.ConfirmationQuestion = question.String

	if b.Credentials, err = s.loadCredentials(ctx, b.ClientID); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *ClientStore) loadCredentials(ctx context.Context, clientID string) ([]model.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, type, value, expires_at, created_at
		FROM credentials WHERE client_id = $1`, clientID)
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

func (s *ClientStore) loadEvents(ctx context.Context, clientID string) ([]model.BizEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, event_name, coalesce(description, ''), coalesce(recurrence, ''),
		       start_date, end_date
		FROM client_events WHERE client_id = $1`, clientID)
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
