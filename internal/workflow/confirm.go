package workflow

import (
	"context"

	"github.com/convoflowhq/convoflow/internal/generation"
	"github.com/convoflowhq/convoflow/internal/model"
)

// confirmationFloor is the minimum classification confidence; anything below
// is treated as unrelated.
const confirmationFloor = 0.7

// ConfirmationAssistant resolves the confirmation tri-state of gated
// conversations. A "yes" means a person is already handling the customer, so
// automation stays off; a "no" opens the conversation to the normal
// workflows.
type ConfirmationAssistant struct {
	e *Engine
}

func NewConfirmationAssistant(e *Engine) *ConfirmationAssistant {
	return &ConfirmationAssistant{e: e}
}

func (w *ConfirmationAssistant) Key() string { return model.WorkflowConfirmAssist }

func (w *ConfirmationAssistant) Handle(ctx context.Context, t *Turn) error {
	e := w.e
	if t.Binding == nil || t.Binding.ConfirmationQuestion == "" {
		e.Log.Error("confirmation assistant invoked without a question",
			"conversation", t.Conversation.ID)
		return nil
	}
	question := t.Binding.ConfirmationQuestion

	hist, err := e.history(ctx, t.Conversation.ID)
	if err != nil {
		return err
	}
	// Only the last exchange matters for a confirmation answer.
	lastExchange := hist
	if len(lastExchange) > 2 {
		lastExchange = lastExchange[len(lastExchange)-2:]
	}

	verdict, err := e.Gen.ClassifyConfirmation(ctx, question, lastExchange)
	if err != nil {
		return err
	}
	answer := verdict.Answer
	if verdict.Confidence < confirmationFloor {
		answer = "unrelated"
	}

	switch answer {
	case "yes":
		e.Log.Info("conversation confirmed as handled, muting automation",
			"conversation", t.Conversation.ID)
		text, err := e.Gen.Reply(ctx, generation.ReplyInput{
			Business:    generation.BusinessContextFor(t.Client),
			History:     hist,
			Message:     t.Text,
			Instruction: "Acknowledge the customer's answer and let them know someone will be in touch on this conversation shortly.",
		})
		if err != nil {
			return err
		}
		if err := e.sendAndLog(ctx, t, text); err != nil {
			return err
		}
		return e.Stores.Conversations.SetConfirmed(ctx, t.Conversation.ID, false)
	case "no":
		text, err := e.Gen.Reply(ctx, generation.ReplyInput{
			Business:    generation.BusinessContextFor(t.Client),
			History:     hist,
			Message:     t.Text,
			Instruction: "Acknowledge the customer's answer and ask politely what you can help them with.",
		})
		if err != nil {
			return err
		}
		if err := e.sendAndLog(ctx, t, text); err != nil {
			return err
		}
		return e.Stores.Conversations.SetConfirmed(ctx, t.Conversation.ID, true)
	default:
		e.Log.Info("no confirmation answer found, asking",
			"conversation", t.Conversation.ID)
		text, err := e.Gen.Reply(ctx, generation.ReplyInput{
			Business:    generation.BusinessContextFor(t.Client),
			History:     hist,
			Message:     t.Text,
			Instruction: "Greet the customer and ask them to confirm the following question, matching the language of their message: " + question,
		})
		if err != nil {
			return err
		}
		return e.sendAndLog(ctx, t, text)
	}
}
