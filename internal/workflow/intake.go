package workflow

import (
	"context"
	"fmt"

	"github.com/convoflowhq/convoflow/internal/generation"
	"github.com/convoflowhq/convoflow/internal/model"
)

var intakeStages = []string{"confirm_data", "capture_data", "send_data", "complete"}

var intakeRequiredActions = []model.ActionKind{
	model.ActionAlert,
	model.ActionExecuteExternal,
	model.ActionCaptureData,
	model.ActionReply,
}

// Intake is the CRM-style data-collection workflow: confirm a small set of
// identifying fields, capture the full field list, submit to the external
// system.
type Intake struct {
	e        *Engine
	fallback *Concierge
}

func NewIntake(e *Engine, fallback *Concierge) *Intake {
	return &Intake{e: e, fallback: fallback}
}

func (w *Intake) Key() string { return model.WorkflowIntake }

func (w *Intake) Handle(ctx context.Context, t *Turn) error {
	e := w.e
	rawActions, err := e.Stores.Workflows.Actions(ctx, t.Workflow.ID)
	if err != nil {
		return err
	}
	set, err := model.ResolveActionSet(rawActions, intakeRequiredActions)
	if err != nil {
		e.Log.Warn("intake workflow misconfigured, skipping",
			"workflow", t.Workflow.ID, "error", err)
		return nil
	}

	cfg, err := t.Workflow.EffectiveConfig(t.Conversation.Platform, t.Conversation.Channel)
	if err != nil {
		e.Log.Warn("workflow variant override undecodable, using base config",
			"workflow", t.Workflow.ID, "error", err)
	}

	session, err := e.getOrCreateSession(ctx, t, intakeStages[0])
	if err != nil {
		return err
	}

	if session.Status.Terminal() {
		handled, handoff, err := e.recontact(ctx, t, session, cfg, set.Alert)
		if err != nil {
			return err
		}
		if handoff {
			t.RoutingContext = fmt.Sprintf(
				"The customer already completed the %s process and was re-alerted once; continue the conversation normally.", t.Workflow.Name)
			return w.fallback.Handle(ctx, t)
		}
		if handled {
			return nil
		}
	}

	switch session.Stage {
	case "confirm_data":
		return w.confirmData(ctx, t, session, cfg, set)
	case "capture_data":
		return w.captureData(ctx, t, session, cfg, set, false)
	case "send_data":
		// Submission runs chained from capture_data; direct entry means a
		// prior submission attempt died mid-flight.
		e.Log.Error("session stuck in send_data stage",
			"session", session.ID, "conversation", t.Conversation.ID)
		e.Alerter.Notify(ctx, *set.Alert, fmt.Sprintf(
			"Session %s for conversation %s is stuck in the submission stage and needs manual review.",
			session.ID, t.Conversation.ID))
		return nil
	default:
		e.Log.Error("unknown intake stage",
			"stage", session.Stage, "session", session.ID)
		e.Alerter.Notify(ctx, *set.Alert, fmt.Sprintf(
			"Session %s for conversation %s reached unknown stage %q and needs manual review.",
			session.ID, t.Conversation.ID, session.Stage))
		return nil
	}
}

func (w *Intake) confirmData(ctx context.Context, t *Turn, session *model.Session, cfg model.WorkflowConfig, set *model.ActionSet) error {
	e := w.e
	initial := session.Status == model.SessionStarted

	merged, done, err := e.collectFields(ctx, t, cfg,
		set.Capture.ConfirmationRequiredFields, session.State.ConfirmedFields,
		initial, set.Capture.ConfirmationContext)
	if err != nil {
		return err
	}
	session.State.ConfirmedFields = merged
	if initial {
		session.Status = model.SessionProcessing
		return e.Stores.Sessions.Update(ctx, session)
	}
	if !done {
		return e.Stores.Sessions.Update(ctx, session)
	}

	e.Log.Info("confirmation fields complete, advancing",
		"session", session.ID, "stage", "capture_data")
	if err := advanceStage(session, intakeStages, "capture_data"); err != nil {
		return err
	}
	if err := e.Stores.Sessions.Update(ctx, session); err != nil {
		return err
	}
	// Chained progression: open the capture stage on the same turn.
	return w.captureData(ctx, t, session, cfg, set, true)
}

func (w *Intake) captureData(ctx context.Context, t *Turn, session *model.Session, cfg model.WorkflowConfig, set *model.ActionSet, initial bool) error {
	e := w.e

	merged, done, err := e.collectFields(ctx, t, cfg,
		set.Capture.CaptureRequiredFields, session.State.CapturedFields,
		initial, "Acknowledge the information received so far and request all of these fields.")
	if err != nil {
		return err
	}
	if initial {
		return nil
	}
	session.State.CapturedFields = merged
	if !done {
		return e.Stores.Sessions.Update(ctx, session)
	}

	e.Log.Info("capture fields complete, submitting",
		"session", session.ID, "conversation", t.Conversation.ID)
	if err := advanceStage(session, intakeStages, "send_data"); err != nil {
		return err
	}
	if err := e.Stores.Sessions.Update(ctx, session); err != nil {
		return err
	}
	return w.sendData(ctx, t, session, cfg, set)
}

func (w *Intake) sendData(ctx context.Context, t *Turn, session *model.Session, cfg model.WorkflowConfig, set *model.ActionSet) error {
	e := w.e
	hist, err := e.history(ctx, t.Conversation.ID)
	if err != nil {
		return err
	}
	business := generation.BusinessContextFor(t.Client)
	fields := fieldsToMap(model.MergeFields(session.State.ConfirmedFields, session.State.CapturedFields))

	summary, err := e.Gen.Summarize(ctx, business, fields, hist)
	if err != nil {
		return err
	}
	summary = fmt.Sprintf("Conversation: %s\n%s", t.Conversation.ID, summary)

	result, err := e.Caller.Execute(ctx, *set.Execute, fields, summary)
	if err != nil {
		e.Log.Error("external submission failed",
			"session", session.ID, "conversation", t.Conversation.ID, "error", err)

		e.Alerter.Notify(ctx, *set.Alert, fmt.Sprintf(
			"Customer completed the %s flow but the data submission failed. They may already exist in the system or it may be unavailable.\n\nSummary:\n%s",
			t.Workflow.Name, summary))

		session.State.FailureResponse = err.Error()
		if err := advanceStage(session, intakeStages, "complete"); err != nil {
			return err
		}
		if err := e.endSession(ctx, t, session, model.SessionFailed); err != nil {
			return err
		}

		apology, genErr := e.Gen.Reply(ctx, generation.ReplyInput{
			Business:    business,
			Config:      cfg,
			History:     hist,
			Message:     t.Text,
			Instruction: "Saving the customer's information failed, possibly because they already exist in the system. Apologize and let them know the person in charge has been alerted.",
		})
		if genErr != nil {
			return genErr
		}
		return e.sendAndLog(ctx, t, apology)
	}

	session.Result = rawResult(result)
	if err := advanceStage(session, intakeStages, "complete"); err != nil {
		return err
	}
	if err := e.endSession(ctx, t, session, model.SessionCompleted); err != nil {
		return err
	}
	e.Log.Info("intake submission accepted",
		"session", session.ID, "conversation", t.Conversation.ID)

	ack, err := e.Gen.Reply(ctx, generation.ReplyInput{
		Business:    business,
		Config:      cfg,
		History:     hist,
		Message:     t.Text,
		Instruction: "All requested information was received and recorded. Acknowledge the customer, confirm the process is complete and that someone will contact them about next steps.",
	})
	if err != nil {
		return err
	}
	return e.sendAndLog(ctx, t, ack)
}
