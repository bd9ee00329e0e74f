package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/convoflowhq/convoflow/internal/actions"
	"github.com/convoflowhq/convoflow/internal/generation"
	"github.com/convoflowhq/convoflow/internal/model"
)

const historyLimit = 20

// history loads recent conversation messages in chronological order.
func (e *Engine) history(ctx context.Context, convID string) ([]generation.Turn, error) {
	msgs, err := e.Stores.Messages.ListRecent(ctx, convID, historyLimit)
	if err != nil {
		return nil, err
	}
	turns := make([]generation.Turn, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		turns = append(turns, generation.Turn{Actor: msgs[i].SentBy, Text: msgs[i].Content})
	}
	return turns, nil
}

// sendAndLog delivers a reply and records it as an agent message.
func (e *Engine) sendAndLog(ctx context.Context, t *Turn, text string) error {
	err := e.Replier.Send(ctx, actions.ReplyDelivery{
		Platform:   t.Conversation.Platform,
		Channel:    t.Conversation.Channel,
		Credential: t.Credential,
		TargetID:   t.TargetID,
		Text:       text,
	})
	if err != nil {
		e.Log.Error("reply delivery failed",
			"conversation", t.Conversation.ID, "platform", t.Conversation.Platform, "error", err)
		return err
	}
	now := e.Now()
	msg := &model.Message{
		ID:          e.NewID(),
		ConvID:      t.Conversation.ID,
		Content:     text,
		ContentType: model.ContentText,
		ExternalID:  e.NewID(),
		SentBy:      model.ActorAgent,
		SessionID:   t.Conversation.ActiveSessionID,
		ReceivedAt:  now,
	}
	if err := e.Stores.Messages.Create(ctx, msg); err != nil {
		return fmt.Errorf("record agent message: %w", err)
	}
	return e.Stores.Conversations.TouchLastMessage(ctx, t.Conversation.ID, now)
}

// getOrCreateSession returns the bound session, creating one at the first
// stage when the conversation has none. A dangling binding is corruption.
func (e *Engine) getOrCreateSession(ctx context.Context, t *Turn, firstStage string) (*model.Session, error) {
	if t.Conversation.HasSession() {
		session, err := e.Stores.Sessions.Get(ctx, t.Conversation.ActiveSessionID)
		if err != nil {
			return nil, fmt.Errorf("conversation %s references session %s: %w",
				t.Conversation.ID, t.Conversation.ActiveSessionID, model.ErrSessionCorrupt)
		}
		return session, nil
	}

	// Ending a session clears the binding, so a returning customer arrives
	// here unbound. The terminal session stays authoritative for this
	// workflow: resume its re-contact ladder instead of starting over.
	last, err := e.Stores.Sessions.GetLatestByConversation(ctx, t.Conversation.ID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	if last != nil && last.Status.Terminal() && last.WorkflowKey == t.Workflow.Key {
		return last, nil
	}

	session := &model.Session{
		ID:          e.NewID(),
		WorkflowID:  t.Workflow.ID,
		WorkflowKey: t.Workflow.Key,
		ConvID:      t.Conversation.ID,
		Status:      model.SessionStarted,
		Stage:       firstStage,
		StartedAt:   e.Now(),
	}
	if err := e.Stores.Sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	if err := e.Stores.Conversations.BindSession(ctx, t.Conversation.ID, session.ID); err != nil {
		return nil, err
	}
	if t.MessageID != "" {
		if err := e.Stores.Messages.BindSession(ctx, t.MessageID, session.ID); err != nil {
			return nil, err
		}
	}
	t.Conversation.ActiveSessionID = session.ID
	e.Log.Info("session created",
		"session", session.ID, "conversation", t.Conversation.ID, "workflow", t.Workflow.Key)
	return session, nil
}

// stageIndex returns the position of a stage in the declared order, or -1.
func stageIndex(stages []string, stage string) int {
	for i, s := range stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// advanceStage moves the session forward in the declared stage order.
// Regressions and unknown stages are refused.
func advanceStage(session *model.Session, stages []string, next string) error {
	from := stageIndex(stages, session.Stage)
	to := stageIndex(stages, next)
	if to < 0 {
		return fmt.Errorf("unknown stage %q", next)
	}
	if from >= 0 && to < from {
		return fmt.Errorf("stage %q would regress from %q", next, session.Stage)
	}
	session.Stage = next
	return nil
}

// endSession marks the session terminal and clears the conversation binding.
func (e *Engine) endSession(ctx context.Context, t *Turn, session *model.Session, status model.SessionStatus) error {
	now := e.Now()
	session.Status = status
	session.EndedAt = &now
	if err := e.Stores.Sessions.Update(ctx, session); err != nil {
		return err
	}
	if err := e.Stores.Conversations.BindSession(ctx, t.Conversation.ID, ""); err != nil {
		return err
	}
	t.Conversation.ActiveSessionID = ""
	e.Log.Info("session ended", "session", session.ID, "status", status)
	return nil
}

// collectFields runs one data-gathering turn for a stage.
//
// When initial is true (first entry to the stage) it sends the request
// message and performs no extraction. Otherwise it extracts values for the
// still-missing fields, replies asking for whatever remains, and reports
// done=true once nothing is missing. The returned slice is the merged
// captured set; the caller persists it.
func (e *Engine) collectFields(ctx context.Context, t *Turn, cfg model.WorkflowConfig, required []model.RequiredField, existing []model.RetrievedField, initial bool, requestContext string) (merged []model.RetrievedField, done bool, err error) {
	remaining := model.FilterSatisfied(required, existing)
	hist, err := e.history(ctx, t.Conversation.ID)
	if err != nil {
		return existing, false, err
	}
	business := generation.BusinessContextFor(t.Client)

	if initial {
		text, err := e.Gen.Reply(ctx, generation.ReplyInput{
			Business:    business,
			Config:      cfg,
			History:     hist,
			Message:     t.Text,
			Instruction: initialRequestInstruction(remaining, requestContext),
		})
		if err != nil {
			return existing, false, err
		}
		if err := e.sendAndLog(ctx, t, text); err != nil {
			return existing, false, err
		}
		return existing, false, nil
	}

	extracted, err := e.Gen.ExtractFields(ctx, remaining, hist, t.Text, cfg.ModelTier)
	if err != nil {
		return existing, false, err
	}
	retrieved, missing := model.ClassifyFields(remaining, extracted)
	merged = model.MergeFields(existing, retrieved)

	if len(missing) > 0 {
		text, err := e.Gen.Reply(ctx, generation.ReplyInput{
			Business:    business,
			Config:      cfg,
			History:     hist,
			Message:     t.Text,
			Instruction: followUpInstruction(missing),
		})
		if err != nil {
			return merged, false, err
		}
		if err := e.sendAndLog(ctx, t, text); err != nil {
			return merged, false, err
		}
		return merged, false, nil
	}
	return merged, true, nil
}

func initialRequestInstruction(fields []model.RequiredField, extra string) string {
	s := "Ask the customer for the following information: " + fieldKeys(fields) + "."
	if extra != "" {
		s += " " + extra
	}
	return s
}

func followUpInstruction(missing []model.RequiredField) string {
	return "The customer still needs to provide: " + fieldKeys(missing) + ". Ask only for these."
}

func fieldKeys(fields []model.RequiredField) string {
	s := ""
	for i, f := range fields {
		if i > 0 {
			s += ", "
		}
		s += f.Key
	}
	return s
}

// rawResult stores an external response as the session result. Non-JSON
// bodies are wrapped as a JSON string so the column stays valid.
func rawResult(body string) json.RawMessage {
	if json.Valid([]byte(body)) {
		return json.RawMessage(body)
	}
	wrapped, _ := json.Marshal(body)
	return wrapped
}

// fieldsToMap flattens captured fields for template rendering and submission.
func fieldsToMap(fields []model.RetrievedField) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}

// recontact handles a turn arriving on a terminal session. COMPLETED or
// FAILED: acknowledge, re-alert the human team, mark REALERTED. REALERTED:
// report handoff=true so the caller exits to the default workflow.
func (e *Engine) recontact(ctx context.Context, t *Turn, session *model.Session, cfg model.WorkflowConfig, alert *model.AlertConfig) (handled, handoff bool, err error) {
	switch session.Status {
	case model.SessionCompleted, model.SessionFailed:
		hist, err := e.history(ctx, t.Conversation.ID)
		if err != nil {
			return true, false, err
		}
		text, err := e.Gen.Reply(ctx, generation.ReplyInput{
			Business:    generation.BusinessContextFor(t.Client),
			Config:      cfg,
			History:     hist,
			Message:     t.Text,
			Instruction: "The customer's information was already received and the team was notified. Acknowledge the new message and reassure them someone will follow up.",
		})
		if err != nil {
			return true, false, err
		}
		if err := e.sendAndLog(ctx, t, text); err != nil {
			return true, false, err
		}
		if alert != nil {
			e.Alerter.Notify(ctx, *alert, fmt.Sprintf(
				"Customer in conversation %s reached out again after their %s session ended (%s). Latest message: %s",
				t.Conversation.ID, t.Workflow.Key, session.Status, t.Text))
		}
		session.Status = model.SessionRealerted
		if err := e.Stores.Sessions.Update(ctx, session); err != nil {
			return true, false, err
		}
		e.Log.Info("session realerted", "session", session.ID, "conversation", t.Conversation.ID)
		return true, false, nil
	case model.SessionRealerted:
		return true, true, nil
	}
	return false, false, nil
}
