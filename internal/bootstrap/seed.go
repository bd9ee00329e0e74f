// Package bootstrap seeds a first tenant so a fresh install has something to
// orchestrate: one client, one credential, one platform binding and one
// workflow with a default reply action.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/convoflowhq/convoflow/internal/model"
)

// Dialect selects the placeholder style of the target database.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) bind(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// SeedInput describes the tenant to create.
type SeedInput struct {
	BusinessName        string
	Industry            string
	BusinessDescription string

	Platform        model.Platform
	AccountID       string
	CredentialType  model.CredentialType
	CredentialValue string

	RequiresConfirmation bool
	ConfirmationQuestion string

	WorkflowKey  string
	WorkflowName string
	UseCase      string
}

// SeedResult reports the created row ids.
type SeedResult struct {
	ClientID   string
	BindingID  string
	WorkflowID string
}

// Seed inserts the tenant in one transaction. It fails when the account id
// is already bound on the platform rather than overwriting an existing
// tenant.
func Seed(ctx context.Context, db *sql.DB, d Dialect, in SeedInput) (*SeedResult, error) {
	if in.BusinessName == "" || in.AccountID == "" || in.WorkflowKey == "" {
		return nil, fmt.Errorf("business name, account id and workflow key are required")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin seed tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res := &SeedResult{
		ClientID:   uuid.NewString(),
		BindingID:  uuid.NewString(),
		WorkflowID: uuid.NewString(),
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO clients (id, business_name, industry, business_description, is_active, created_at, updated_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		d.bind(1), d.bind(2), d.bind(3), d.bind(4), d.bind(5), d.bind(6), d.bind(7)),
		res.ClientID, in.BusinessName, in.Industry, in.BusinessDescription, true, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert client: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO credentials (id, client_id, type, value, created_at)
		 VALUES (%s, %s, %s, %s, %s)`,
		d.bind(1), d.bind(2), d.bind(3), d.bind(4), d.bind(5)),
		uuid.NewString(), res.ClientID, string(in.CredentialType), in.CredentialValue, now)
	if err != nil {
		return nil, fmt.Errorf("insert credential: %w", err)
	}

	var question any
	if in.ConfirmationQuestion != "" {
		question = in.ConfirmationQuestion
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO platform_bindings (id, client_id, platform, account_id, requires_confirmation, confirmation_question)
		 VALUES (%s, %s, %s, %s, %s, %s)`,
		d.bind(1), d.bind(2), d.bind(3), d.bind(4), d.bind(5), d.bind(6)),
		res.BindingID, res.ClientID, string(in.Platform), in.AccountID, in.RequiresConfirmation, question)
	if err != nil {
		return nil, fmt.Errorf("insert platform binding: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO workflows (id, client_id, key, name, use_case, is_active, configuration, created_at, updated_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		d.bind(1), d.bind(2), d.bind(3), d.bind(4), d.bind(5), d.bind(6), d.bind(7), d.bind(8), d.bind(9)),
		res.WorkflowID, res.ClientID, in.WorkflowKey, in.WorkflowName, in.UseCase, true, "{}", now, now)
	if err != nil {
		return nil, fmt.Errorf("insert workflow: %w", err)
	}

	// Every workflow needs at least a reply action to answer customers.
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO workflow_actions (id, workflow_id, kind, is_active, configuration, created_at, updated_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		d.bind(1), d.bind(2), d.bind(3), d.bind(4), d.bind(5), d.bind(6), d.bind(7)),
		uuid.NewString(), res.WorkflowID, string(model.ActionReply), true, "{}", now, now)
	if err != nil {
		return nil, fmt.Errorf("insert reply action: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit seed tx: %w", err)
	}
	return res, nil
}
