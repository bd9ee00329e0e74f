package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/convoflowhq/convoflow/internal/generation"
	"github.com/convoflowhq/convoflow/internal/model"
)

// escalationPause is how long a conversation stays paused after an
// escalation.
const escalationPause = 12 * time.Hour

// Concierge is the default conversational workflow: every turn is triaged
// into a direct reply, a reply plus human alert, or an escalation that
// pauses the conversation.
type Concierge struct {
	e *Engine
}

func NewConcierge(e *Engine) *Concierge { return &Concierge{e: e} }

func (w *Concierge) Key() string { return model.WorkflowConcierge }

func (w *Concierge) Handle(ctx context.Context, t *Turn) error {
	e := w.e
	rawActions, err := e.Stores.Workflows.Actions(ctx, t.Workflow.ID)
	if err != nil {
		return err
	}
	set, err := model.ResolveActionSet(rawActions, []model.ActionKind{model.ActionReply})
	if err != nil {
		e.Log.Warn("concierge workflow misconfigured, skipping",
			"workflow", t.Workflow.ID, "error", err)
		return nil
	}

	cfg, err := t.Workflow.EffectiveConfig(t.Conversation.Platform, t.Conversation.Channel)
	if err != nil {
		e.Log.Warn("workflow variant override undecodable, using base config",
			"workflow", t.Workflow.ID, "error", err)
	}
	hist, err := e.history(ctx, t.Conversation.ID)
	if err != nil {
		return err
	}
	business := generation.BusinessContextFor(t.Client)

	// A reply-only configuration needs no triage call.
	action := "reply"
	reason := ""
	if set.Has(model.ActionAlert) || set.Has(model.ActionEscalate) {
		decision, err := e.Gen.DecideAction(ctx, business, hist, t.Text)
		if err != nil {
			return err
		}
		e.Log.Debug("turn triaged",
			"conversation", t.Conversation.ID, "action", decision.Action,
			"score", decision.Score, "reason", decision.Reason)
		reason = decision.Reason

		switch decision.Action {
		case "reply", "alert", "escalate":
			action = decision.Action
		default:
			e.Log.Error("triage returned unknown action, replying",
				"action", decision.Action, "conversation", t.Conversation.ID)
		}
		if action == "alert" && !set.Has(model.ActionAlert) {
			action = "reply"
		}
		if action == "escalate" && !set.Has(model.ActionAlert) {
			e.Log.Warn("escalation requires an alert action, replying instead",
				"conversation", t.Conversation.ID)
			action = "reply"
		}
	}

	switch action {
	case "alert":
		w.alert(ctx, t, set, reason)
		return w.reply(ctx, t, cfg, business, hist, "")
	case "escalate":
		return w.escalate(ctx, t, cfg, set, business, reason, hist)
	default:
		return w.reply(ctx, t, cfg, business, hist, "")
	}
}

func (w *Concierge) reply(ctx context.Context, t *Turn, cfg model.WorkflowConfig, business generation.BusinessContext, hist []generation.Turn, instruction string) error {
	if instruction == "" && t.RoutingContext != "" {
		instruction = "You were handed this conversation from another workflow with the following context: " + t.RoutingContext
	}
	text, err := w.e.Gen.Reply(ctx, generation.ReplyInput{
		Business:    business,
		Config:      cfg,
		History:     hist,
		Message:     t.Text,
		Instruction: instruction,
	})
	if err != nil {
		return err
	}
	return w.e.sendAndLog(ctx, t, text)
}

func (w *Concierge) alert(ctx context.Context, t *Turn, set *model.ActionSet, reason string) {
	w.e.Alerter.Notify(ctx, *set.Alert, fmt.Sprintf(
		"Conversation %s needs a follow-up.\nCustomer: %s\nReason: %s\nLatest message: %s",
		t.Conversation.ID, customerLabel(t), reason, t.Text))
}

func (w *Concierge) escalate(ctx context.Context, t *Turn, cfg model.WorkflowConfig, set *model.ActionSet, business generation.BusinessContext, reason string, hist []generation.Turn) error {
	e := w.e
	until := e.Now().Add(escalationPause)
	if err := e.Stores.Conversations.SetPause(ctx, t.Conversation.ID, &until); err != nil {
		return err
	}
	e.Log.Info("conversation escalated",
		"conversation", t.Conversation.ID, "paused_until", until, "reason", reason)

	e.Alerter.Notify(ctx, *set.Alert, fmt.Sprintf(
		"Conversation %s escalated.\nCustomer: %s\n%s\nAutomated replies are paused for %s.",
		t.Conversation.ID, customerLabel(t), reason, escalationPause))

	return w.reply(ctx, t, cfg, business, hist,
		"The conversation was escalated to a person. Let the customer know someone will take over shortly and that automated replies are paused.")
}

// customerLabel identifies the customer in alerts. WhatsApp sender ids are
// phone numbers; elsewhere prefer the username.
func customerLabel(t *Turn) string {
	if t.Conversation.Platform == model.PlatformWhatsapp {
		return "Number: " + t.Conversation.SenderID
	}
	if t.Conversation.SenderUsername != "" {
		return t.Conversation.SenderUsername
	}
	return "A customer of " + t.Client.BusinessName
}
