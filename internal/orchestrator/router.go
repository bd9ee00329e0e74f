package orchestrator

import (
	"context"
	"fmt"

	"github.com/convoflowhq/convoflow/internal/generation"
	"github.com/convoflowhq/convoflow/internal/model"
)

// route picks the workflow for this turn. A nil workflow with nil error
// means no workflow is eligible.
func (o *Orchestrator) route(ctx context.Context, client *model.Client, conv *model.Conversation, msg *model.Message, text string) (*model.Workflow, error) {
	// Sticky session: an active bound session owns the conversation.
	if conv.HasSession() {
		session, err := o.stores.Sessions.Get(ctx, conv.ActiveSessionID)
		if err != nil {
			return nil, fmt.Errorf("conversation %s references session %s: %w",
				conv.ID, conv.ActiveSessionID, model.ErrSessionCorrupt)
		}
		wf, err := o.stores.Workflows.Get(ctx, session.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("session %s references workflow %s: %w",
				session.ID, session.WorkflowID, err)
		}
		o.log.Debug("sticky routing",
			"conversation", conv.ID, "session", session.ID, "workflow", wf.Key)
		return wf, nil
	}

	// Policy filter.
	var eligible []*model.Workflow
	for i := range client.Workflows {
		w := &client.Workflows[i]
		if !w.IsActive {
			continue
		}
		if model.PolicyAllows(w.Policies, conv.Platform, conv.Channel) {
			eligible = append(eligible, w)
		}
	}

	switch len(eligible) {
	case 0:
		return nil, nil
	case 1:
		o.log.Debug("auto-selected sole eligible workflow",
			"conversation", conv.ID, "workflow", eligible[0].Key)
		return eligible[0], nil
	}

	// Decision model over the eligible set.
	candidates := make([]generation.WorkflowCandidate, len(eligible))
	byKey := make(map[string]*model.Workflow, len(eligible))
	for i, w := range eligible {
		candidates[i] = generation.WorkflowCandidate{Key: w.Key, Name: w.Name, UseCase: w.UseCase}
		byKey[w.Key] = w
	}
	hist, err := o.historyForRouting(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	decision, err := o.gen.DecideWorkflow(ctx, generation.BusinessContextFor(client), candidates, hist, text)
	if err != nil {
		return nil, fmt.Errorf("workflow decision for conversation %s: %w", conv.ID, err)
	}

	chosen, ok := byKey[decision.WorkflowKey]
	if !ok {
		o.log.Warn("decision named unknown workflow, falling back to first candidate",
			"conversation", conv.ID, "returned_key", decision.WorkflowKey, "fallback", eligible[0].Key)
		chosen = eligible[0]
	} else {
		o.log.Debug("workflow decided",
			"conversation", conv.ID, "workflow", chosen.Key,
			"score", decision.Score, "reason", decision.Reason)
	}

	rec := &model.DecisionRecord{
		ID:         o.newID(),
		WorkflowID: chosen.ID,
		ConvID:     conv.ID,
		MessageID:  msg.ID,
		Score:      decision.Score,
		Reason:     decision.Reason,
		Message:    text,
		CreatedAt:  o.now(),
	}
	if err := o.stores.Decisions.Create(ctx, rec); err != nil {
		// The audit record must not block the turn.
		o.log.Error("failed to persist decision record",
			"conversation", conv.ID, "error", err)
	}
	return chosen, nil
}

func (o *Orchestrator) historyForRouting(ctx context.Context, convID string) ([]generation.Turn, error) {
	msgs, err := o.stores.Messages.ListRecent(ctx, convID, 10)
	if err != nil {
		return nil, err
	}
	turns := make([]generation.Turn, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		turns = append(turns, generation.Turn{Actor: msgs[i].SentBy, Text: msgs[i].Content})
	}
	return turns, nil
}
