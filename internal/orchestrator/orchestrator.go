// Package orchestrator ties the pipeline together: eligibility gate,
// debounce window, workflow routing and job dispatch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/convoflowhq/convoflow/internal/generation"
	"github.com/convoflowhq/convoflow/internal/model"
	"github.com/convoflowhq/convoflow/internal/queue"
	"github.com/convoflowhq/convoflow/internal/registry"
	"github.com/convoflowhq/convoflow/internal/store"
	"github.com/convoflowhq/convoflow/internal/tracing"
	"github.com/convoflowhq/convoflow/internal/window"
	"github.com/convoflowhq/convoflow/internal/workflow"
)

// Orchestrator accepts normalized inbound events and drives them through
// gate, window, router and workflow execution.
type Orchestrator struct {
	log    *slog.Logger
	stores *store.Stores
	window *window.Coordinator
	gen    *generation.Service
	reg    *registry.Registry
	flows  *workflow.Registry

	// ingestPool runs the gate+window phase; flowPool runs routed workflow
	// turns.
	ingestPool *queue.Pool
	flowPool   *queue.Pool

	newID func() string
	now   func() time.Time
}

func New(log *slog.Logger, stores *store.Stores, win *window.Coordinator, gen *generation.Service, reg *registry.Registry, flows *workflow.Registry, ingestPool, flowPool *queue.Pool) *Orchestrator {
	return &Orchestrator{
		log:        log,
		stores:     stores,
		window:     win,
		gen:        gen,
		reg:        reg,
		flows:      flows,
		ingestPool: ingestPool,
		flowPool:   flowPool,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Ingest admits one inbound event onto the ingestion pool. The gate, window
// wait and routing run on a pool worker; this call returns immediately after
// admission.
func (o *Orchestrator) Ingest(ctx context.Context, ev model.InboundEvent) error {
	job := queue.Job{
		ID:       uuid.NewString(),
		TargetID: ev.TargetID,
	}
	// Processing outlives the webhook request that delivered the event.
	detached := context.WithoutCancel(ctx)
	return o.ingestPool.Submit(detached, job, func(ctx context.Context) error {
		return o.processEvent(ctx, ev)
	})
}

// skip records a soft skip: logged, broadcast, never an error.
func (o *Orchestrator) skip(ev model.InboundEvent, reason model.SkipReason, kv ...any) error {
	args := append([]any{"reason", reason, "account", ev.AccountID, "platform", ev.Platform, "external_id", ev.Metadata.ExternalID}, kv...)
	o.log.Info("event skipped", args...)
	o.reg.Broadcast(registry.Event{Type: registry.EventTurnSkipped, Detail: string(reason)})
	return nil
}

func (o *Orchestrator) processEvent(ctx context.Context, ev model.InboundEvent) (err error) {
	ctx, span := tracing.Start(ctx, "orchestrator.process_event",
		attribute.String("platform", string(ev.Platform)),
		attribute.String("channel", string(ev.Channel)),
		attribute.String("account_id", ev.AccountID))
	defer func() { tracing.End(span, err) }()

	// 1. Event kind.
	switch ev.EventType {
	case model.EventDeleted:
		if err := o.stores.Messages.MarkDeleted(ctx, ev.Metadata.ExternalID); err != nil {
			return err
		}
		return o.skip(ev, model.SkipUnsupportedEvent, "event_type", ev.EventType)
	case model.EventUpdated:
		return o.skip(ev, model.SkipUnsupportedEvent, "event_type", ev.EventType)
	case model.EventCreated:
	default:
		return o.skip(ev, model.SkipUnsupportedEvent, "event_type", ev.EventType)
	}

	// 2. Idempotency.
	seen, err := o.stores.Messages.ExistsByExternalID(ctx, ev.Metadata.ExternalID)
	if err != nil {
		return err
	}
	if seen {
		return o.skip(ev, model.SkipDuplicateMessage)
	}

	// 3. Platform binding and credential.
	binding, err := o.stores.Clients.GetBindingByAccount(ctx, ev.AccountID, ev.Platform)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return o.skip(ev, model.SkipNoBinding)
		}
		return err
	}
	cred := model.FindCredential(binding.Credentials, model.RequiredCredential(ev.Platform, ev.Channel))
	if cred == nil || cred.Expired(o.now()) {
		return o.skip(ev, model.SkipNoCredential, "client", binding.ClientID)
	}

	// 4. Client.
	client, err := o.stores.Clients.Get(ctx, binding.ClientID)
	if err != nil {
		return err
	}
	if !client.IsActive {
		return o.skip(ev, model.SkipInactiveClient, "client", client.ID)
	}
	if !client.HasActiveWorkflows() {
		return o.skip(ev, model.SkipNoWorkflows, "client", client.ID)
	}

	// 5. Conversation, pause handling.
	conv, err := o.getOrCreateConversation(ctx, client, ev)
	if err != nil {
		return err
	}
	if conv.PausedUntil != nil {
		if conv.PausedUntil.After(o.now()) {
			return o.skip(ev, model.SkipPausedConversation, "conversation", conv.ID)
		}
		if err := o.stores.Conversations.SetPause(ctx, conv.ID, nil); err != nil {
			return err
		}
		conv.PausedUntil = nil
		o.log.Info("pause elapsed, cleared", "conversation", conv.ID)
	}

	// Debounce window (direct messages only). Comments are one-shot.
	text := ev.Content.Text
	claimed := false
	if ev.Channel == model.ChannelDirectMessage {
		outcome, err := o.window.Collect(ctx, conv.ID, text, conv.HasSession())
		if err != nil {
			return err
		}
		if outcome.Buffered {
			o.reg.Broadcast(registry.Event{
				Type:           registry.EventTurnBuffered,
				ClientID:       client.ID,
				ConversationID: conv.ID,
			})
			return nil
		}
		text = outcome.MergedText
		claimed = true
	}
	// The processing claim must clear no matter how the turn ends.
	cleanup := func() {
		if !claimed {
			return
		}
		if err := o.window.DeleteProcessingKey(context.WithoutCancel(ctx), conv.ID); err != nil {
			o.log.Error("failed to clear processing claim", "conversation", conv.ID, "error", err)
		}
	}

	// 6. Record the merged turn.
	msg := &model.Message{
		ID:          o.newID(),
		ConvID:      conv.ID,
		Content:     text,
		ContentType: ev.Content.Type,
		SourceURL:   ev.Content.SourceURL,
		ExternalID:  ev.Metadata.ExternalID,
		SentBy:      model.ActorUser,
		SessionID:   conv.ActiveSessionID,
		ReceivedAt:  o.now(),
	}
	if err := o.stores.Messages.Create(ctx, msg); err != nil {
		cleanup()
		return err
	}
	if err := o.stores.Conversations.TouchLastMessage(ctx, conv.ID, msg.ReceivedAt); err != nil {
		cleanup()
		return err
	}

	o.reg.Broadcast(registry.Event{
		Type:           registry.EventTurnAccepted,
		ClientID:       client.ID,
		ConversationID: conv.ID,
	})

	turn := &workflow.Turn{
		Client:       client,
		Binding:      binding,
		Conversation: conv,
		Credential:   cred,
		TargetID:     ev.TargetID,
		Text:         text,
		MessageID:    msg.ID,
	}

	// Confirmation gating.
	if binding.RequiresConfirmation {
		if conv.IsConfirmed == nil {
			o.log.Info("conversation unconfirmed, routing to confirmation assistant",
				"conversation", conv.ID)
			turn.Workflow = &model.Workflow{
				ClientID: client.ID,
				Key:      model.WorkflowConfirmAssist,
				Name:     "Confirmation Assistant",
			}
			return o.dispatch(ctx, turn, cleanup)
		}
		if !*conv.IsConfirmed {
			cleanup()
			return o.skip(ev, model.SkipUnconfirmed, "conversation", conv.ID)
		}
	}

	// 7. Route.
	wf, err := o.route(ctx, client, conv, msg, text)
	if err != nil {
		cleanup()
		return err
	}
	if wf == nil {
		cleanup()
		return o.skip(ev, model.SkipNoEligibleWorkflow, "conversation", conv.ID)
	}
	turn.Workflow = wf

	o.reg.Broadcast(registry.Event{
		Type:           registry.EventWorkflowRouted,
		ClientID:       client.ID,
		ConversationID: conv.ID,
		WorkflowKey:    wf.Key,
	})
	return o.dispatch(ctx, turn, cleanup)
}

// dispatch hands the turn to the workflow pool. cleanup runs when the turn
// finishes, success or not.
func (o *Orchestrator) dispatch(ctx context.Context, turn *workflow.Turn, cleanup func()) error {
	job := queue.Job{
		ID:             o.newID(),
		ConversationID: turn.Conversation.ID,
		ClientID:       turn.Client.ID,
		WorkflowID:     turn.Workflow.ID,
		WorkflowKey:    turn.Workflow.Key,
		TargetID:       turn.TargetID,
		CredentialID:   turn.Credential.ID,
		MessageID:      turn.MessageID,
		Text:           turn.Text,
	}
	err := o.flowPool.Submit(ctx, job, func(ctx context.Context) error {
		defer cleanup()
		err := o.flows.Dispatch(ctx, turn)
		if turn.Conversation.ActiveSessionID == "" && err == nil {
			o.reg.Broadcast(registry.Event{
				Type:           registry.EventSessionEnded,
				ClientID:       turn.Client.ID,
				ConversationID: turn.Conversation.ID,
				WorkflowKey:    turn.Workflow.Key,
			})
		}
		return err
	})
	if err != nil {
		cleanup()
		return fmt.Errorf("submit workflow job: %w", err)
	}
	return nil
}

// getOrCreateConversation finds the thread for this sender (and post, for
// comments) or opens a new one.
func (o *Orchestrator) getOrCreateConversation(ctx context.Context, client *model.Client, ev model.InboundEvent) (*model.Conversation, error) {
	conv, err := o.stores.Conversations.GetBySender(ctx, ev.Metadata.Sender.ID, ev.Metadata.PostID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	now := o.now()
	conv = &model.Conversation{
		ID:             o.newID(),
		ClientID:       client.ID,
		AccountID:      ev.AccountID,
		Platform:       ev.Platform,
		Channel:        ev.Channel,
		SenderID:       ev.Metadata.Sender.ID,
		SenderUsername: ev.Metadata.Sender.Username,
		PostID:         ev.Metadata.PostID,
		ParentID:       ev.Metadata.ParentID,
		LastMessageAt:  now,
		CreatedAt:      now,
	}
	if err := o.stores.Conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	o.log.Info("conversation created",
		"conversation", conv.ID, "client", client.ID, "platform", ev.Platform, "channel", ev.Channel)
	return conv, nil
}
