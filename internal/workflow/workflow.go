// Package workflow implements the per-conversation session state machines.
// Each handler owns one workflow key; the registry dispatches a routed turn
// to its handler.
package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/convoflowhq/convoflow/internal/actions"
	"github.com/convoflowhq/convoflow/internal/generation"
	"github.com/convoflowhq/convoflow/internal/model"
	"github.com/convoflowhq/convoflow/internal/store"
	"github.com/convoflowhq/convoflow/internal/tracing"
)

// Turn is one merged unit of user input, already past the eligibility gate
// and the debounce window.
type Turn struct {
	Client       *model.Client
	Binding      *model.PlatformBinding
	Conversation *model.Conversation
	Workflow     *model.Workflow
	Credential   *model.Credential

	// TargetID is the platform-side reply target (sender id for DMs,
	// comment id for comments).
	TargetID string
	// Text is the merged turn text.
	Text string
	// MessageID is the stored inbound message row.
	MessageID string
	// RoutingContext explains a handoff from another workflow, empty
	// otherwise.
	RoutingContext string
}

// Handler processes one turn for one workflow key.
type Handler interface {
	Key() string
	Handle(ctx context.Context, t *Turn) error
}

// Engine bundles the collaborators every handler needs.
type Engine struct {
	Log     *slog.Logger
	Stores  *store.Stores
	Gen     *generation.Service
	Replier *actions.Replier
	Alerter *actions.Alerter
	Caller  *actions.Caller

	NewID func() string
	Now   func() time.Time
}

func NewEngine(log *slog.Logger, stores *store.Stores, gen *generation.Service, replier *actions.Replier, alerter *actions.Alerter, caller *actions.Caller) *Engine {
	return &Engine{
		Log:     log,
		Stores:  stores,
		Gen:     gen,
		Replier: replier,
		Alerter: alerter,
		Caller:  caller,
		NewID:   uuid.NewString,
		Now:     time.Now,
	}
}

// Registry maps workflow keys to handlers.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(e *Engine) *Registry {
	concierge := NewConcierge(e)
	return &Registry{handlers: map[string]Handler{
		model.WorkflowConcierge:     concierge,
		model.WorkflowIntake:        NewIntake(e, concierge),
		model.WorkflowBooking:       NewBooking(e, concierge),
		model.WorkflowConfirmAssist: NewConfirmationAssistant(e),
	}}
}

// Register adds or replaces the handler for its key.
func (r *Registry) Register(h Handler) { r.handlers[h.Key()] = h }

// Lookup returns the handler for a workflow key, or nil.
func (r *Registry) Lookup(key string) Handler { return r.handlers[key] }

// Dispatch routes the turn to its workflow's handler.
func (r *Registry) Dispatch(ctx context.Context, t *Turn) error {
	h := r.Lookup(t.Workflow.Key)
	if h == nil {
		return &UnknownWorkflowError{Key: t.Workflow.Key}
	}
	ctx, span := tracing.Start(ctx, "workflow.run",
		attribute.String("workflow_key", t.Workflow.Key),
		attribute.String("conversation_id", t.Conversation.ID))
	err := h.Handle(ctx, t)
	tracing.End(span, err)
	return err
}

// UnknownWorkflowError reports a routed turn for a key with no handler.
type UnknownWorkflowError struct{ Key string }

func (e *UnknownWorkflowError) Error() string { return "no handler for workflow key " + e.Key }
