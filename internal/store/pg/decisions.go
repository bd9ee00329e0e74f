package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/convoflowhq/convoflow/internal/model"
)

// DecisionStore appends router decision audit records.
type DecisionStore struct {
	db *sql.DB
}

func NewDecisionStore(db *sql.DB) *DecisionStore {
	return &DecisionStore{db: db}
}

func (s *DecisionStore) Create(ctx context.Context, rec *model.DecisionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_records
			(id, workflow_id, conversation_id, message_id, score, reason, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.WorkflowID, rec.ConvID, rec.MessageID, rec.Score, rec.Reason,
		rec.Message, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create decision record %s: %w", rec.ID, err)
	}
	return nil
}
