package workflow

import (
	"context"
	"fmt"

	"github.com/convoflowhq/convoflow/internal/generation"
	"github.com/convoflowhq/convoflow/internal/model"
)

var bookingStages = []string{"confirm_data", "check_availability", "manage_booking", "send_confirmation"}

var bookingRequiredActions = []model.ActionKind{
	model.ActionVerifyExternal,
	model.ActionCaptureData,
	model.ActionReply,
	model.ActionAlert,
}

// Booking collects the data needed for a reservation, verifies availability
// against the external booking system, gathers the remaining booking details
// and confirms.
type Booking struct {
	e        *Engine
	fallback *Concierge
}

func NewBooking(e *Engine, fallback *Concierge) *Booking {
	return &Booking{e: e, fallback: fallback}
}

func (w *Booking) Key() string { return model.WorkflowBooking }

func (w *Booking) Handle(ctx context.Context, t *Turn) error {
	e := w.e
	rawActions, err := e.Stores.Workflows.Actions(ctx, t.Workflow.ID)
	if err != nil {
		return err
	}
	set, err := model.ResolveActionSet(rawActions, bookingRequiredActions)
	if err != nil {
		e.Log.Warn("booking workflow misconfigured, skipping",
			"workflow", t.Workflow.ID, "error", err)
		return nil
	}

	cfg, err := t.Workflow.EffectiveConfig(t.Conversation.Platform, t.Conversation.Channel)
	if err != nil {
		e.Log.Warn("workflow variant override undecodable, using base config",
			"workflow", t.Workflow.ID, "error", err)
	}

	session, err := e.getOrCreateSession(ctx, t, bookingStages[0])
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
				"The customer already went through the %s process and was re-alerted once; continue the conversation normally.", t.Workflow.Name)
			return w.fallback.Handle(ctx, t)
		}
		if handled {
			return nil
		}
	}

	switch session.Stage {
	case "confirm_data":
		return w.confirmData(ctx, t, session, cfg, set)
	case "check_availability":
		// The availability check runs chained from confirm_data and never
		// waits for user input; landing here means it died mid-flight.
		return w.fail(ctx, t, session, cfg, set,
			"Availability check orphaned for session "+session.ID+". Manual intervention may be required to assist the user.",
			"The reservation could not be completed because of an internal problem. Apologize, and share the booking link so the customer can book directly."+bookingLinkHint(set))
	case "manage_booking":
		return w.manageBooking(ctx, t, session, cfg, set, false)
	case "send_confirmation":
		// Confirmation runs chained from manage_booking; direct entry means a
		// prior attempt died mid-flight.
		e.Log.Error("session stuck in send_confirmation stage",
			"session", session.ID, "conversation", t.Conversation.ID)
		e.Alerter.Notify(ctx, *set.Alert, fmt.Sprintf(
			"Session %s for conversation %s is stuck in the confirmation stage and needs manual review.",
			session.ID, t.Conversation.ID))
		return nil
	default:
		e.Log.Error("unknown booking stage",
			"stage", session.Stage, "session", session.ID)
		e.Alerter.Notify(ctx, *set.Alert, fmt.Sprintf(
			"Session %s for conversation %s reached unknown stage %q and needs manual review.",
			session.ID, t.Conversation.ID, session.Stage))
		return nil
	}
}

func (w *Booking) confirmData(ctx context.Context, t *Turn, session *model.Session, cfg model.WorkflowConfig, set *model.ActionSet) error {
	e := w.e
	initial := session.Status == model.SessionStarted

	merged, done, err := e.collectFields(ctx, t, cfg,
		set.Capture.ConfirmationRequiredFields, session.State.ConfirmedFields,
		initial, "This starts a booking process; the information is needed to check availability.")
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

	e.Log.Info("availability fields complete, checking",
		"session", session.ID, "conversation", t.Conversation.ID)
	if err := advanceStage(session, bookingStages, "check_availability"); err != nil {
		return err
	}
	if err := e.Stores.Sessions.Update(ctx, session); err != nil {
		return err
	}
	return w.checkAvailability(ctx, t, session, cfg, set)
}

func (w *Booking) checkAvailability(ctx context.Context, t *Turn, session *model.Session, cfg model.WorkflowConfig, set *model.ActionSet) error {
	e := w.e
	_, err := e.Caller.Verify(ctx, *set.Verify, fieldsToMap(session.State.ConfirmedFields))
	if err != nil {
		return w.fail(ctx, t, session, cfg, set,
			fmt.Sprintf("Availability check failed for session %s: %v. Please review the conversation and assist the user manually.", session.ID, err),
			"The requested slot is unavailable so the reservation cannot be completed. Apologize, and share the booking link so the customer can try themselves."+bookingLinkHint(set))
	}

	e.Log.Info("availability confirmed, collecting booking details",
		"session", session.ID, "conversation", t.Conversation.ID)
	if err := advanceStage(session, bookingStages, "manage_booking"); err != nil {
		return err
	}
	if err := e.Stores.Sessions.Update(ctx, session); err != nil {
		return err
	}
	return w.manageBooking(ctx, t, session, cfg, set, true)
}

func (w *Booking) manageBooking(ctx context.Context, t *Turn, session *model.Session, cfg model.WorkflowConfig, set *model.ActionSet, initial bool) error {
	e := w.e

	merged, done, err := e.collectFields(ctx, t, cfg,
		set.Capture.CaptureRequiredFields, session.State.CapturedFields,
		initial, set.Capture.ConfirmationContext)
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

	if err := advanceStage(session, bookingStages, "send_confirmation"); err != nil {
		return err
	}
	if err := e.Stores.Sessions.Update(ctx, session); err != nil {
		return err
	}
	return w.sendConfirmation(ctx, t, session, cfg, set)
}

func (w *Booking) sendConfirmation(ctx context.Context, t *Turn, session *model.Session, cfg model.WorkflowConfig, set *model.ActionSet) error {
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
	e.Alerter.Notify(ctx, *set.Alert, fmt.Sprintf(
		"New booking request confirmed for conversation %s.\n\n%s", t.Conversation.ID, summary))

	if err := e.endSession(ctx, t, session, model.SessionCompleted); err != nil {
		return err
	}
	e.Log.Info("booking confirmed", "session", session.ID, "conversation", t.Conversation.ID)

	ack, err := e.Gen.Reply(ctx, generation.ReplyInput{
		Business:    business,
		Config:      cfg,
		History:     hist,
		Message:     t.Text,
		Instruction: "The booking details are complete and the team was notified. Confirm the reservation request to the customer and thank them.",
	})
	if err != nil {
		return err
	}
	return e.sendAndLog(ctx, t, ack)
}

// fail alerts the team, apologizes to the customer and ends the session as
// FAILED with the conversation unbound.
func (w *Booking) fail(ctx context.Context, t *Turn, session *model.Session, cfg model.WorkflowConfig, set *model.ActionSet, alertMessage, replyInstruction string) error {
	e := w.e
	e.Log.Warn("booking failure path",
		"session", session.ID, "conversation", t.Conversation.ID, "alert", alertMessage)

	e.Alerter.Notify(ctx, *set.Alert, alertMessage)

	hist, err := e.history(ctx, t.Conversation.ID)
	if err != nil {
		return err
	}
	apology, err := e.Gen.Reply(ctx, generation.ReplyInput{
		Business:    generation.BusinessContextFor(t.Client),
		Config:      cfg,
		History:     hist,
		Message:     t.Text,
		Instruction: replyInstruction,
	})
	if err != nil {
		return err
	}
	if err := e.sendAndLog(ctx, t, apology); err != nil {
		return err
	}
	return e.endSession(ctx, t, session, model.SessionFailed)
}

func bookingLinkHint(set *model.ActionSet) string {
	if set.Verify != nil && set.Verify.BookingLink != "" {
		return " Booking link: " + set.Verify.BookingLink
	}
	return ""
}
