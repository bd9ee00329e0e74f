package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/convoflowhq/convoflow/internal/model"
)

// WorkflowStore loads workflows, variants, policies, and actions.
type WorkflowStore struct {
	db *sql.DB
}

func NewWorkflowStore(db *sql.DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

func (s *WorkflowStore) Get(ctx context.Context, workflowID string) (*model.Workflow, error) {
	w, err := scanWorkflow(s.db.QueryRowContext(ctx, `
		SELECT id, client_id, key, name, coalesce(use_case, ''), is_active,
		       configuration, created_at, updated_at
		FROM workflows WHERE id = $1`, workflowID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", workflowID, err)
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
		FROM workflow_actions WHERE workflow_id = $1`, workflowID)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*model.Workflow, error) {
	w := &model.Workflow{}
	var cfg []byte
	if err := row.Scan(&w.ID, &w.ClientID, &w.Key, &w.Name, &w.UseCase, &w.IsActive,
		&cfg, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &w.Configuration); err != nil {
			return nil, fmt.Errorf("decode workflow %s configuration: %w", w.ID, err)
		}
	}
	return w, nil
}

func loadWorkflowsByClient(ctx context.Context, db *sql.DB, clientID string) ([]model.Workflow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, client_id, key, name, coalesce(use_case, ''), is_active,
		       configuration, created_at, updated_at
		FROM workflows WHERE client_id = $1 ORDER BY created_at`, clientID)
	if err != nil {
		return nil, fmt.Errorf("load workflows for %s: %w", clientID, err)
	}
	defer rows.Close()

	var workflows []model.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, *w)
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
		FROM workflow_variants WHERE workflow_id = $1`, w.ID)
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
		FROM workflow_policies WHERE workflow_id = $1`, w.ID)
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
