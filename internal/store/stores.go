// Package store defines the persistence interfaces of the orchestration
// engine. Postgres (managed mode) and SQLite (standalone mode) back the same
// interfaces; see the pg and lite subpackages.
package store

import (
	"context"
	"time"

	"github.com/convoflowhq/convoflow/internal/model"
)

// ClientStore loads tenants with their credentials and workflows.
type ClientStore interface {
	// Get returns the client with credentials and workflows (including
	// variants and policies) attached. model.ErrNotFound when absent.
	Get(ctx context.Context, clientID string) (*model.Client, error)

	// GetBindingByAccount resolves the platform binding for an account id,
	// credentials attached. model.ErrNotFound when absent.
	GetBindingByAccount(ctx context.Context, accountID string, platform model.Platform) (*model.PlatformBinding, error)
}

// ConversationStore owns conversation rows.
type ConversationStore interface {
	// GetBySender finds a conversation by sender and optional post id.
	// model.ErrNotFound when absent.
	GetBySender(ctx context.Context, senderID, postID string) (*model.Conversation, error)

	Create(ctx context.Context, conv *model.Conversation) error

	// BindSession sets or clears (empty id) the active session binding.
	BindSession(ctx context.Context, convID, sessionID string) error

	// SetPause sets or clears (nil) pausedUntil.
	SetPause(ctx context.Context, convID string, until *time.Time) error

	// SetConfirmed updates the confirmation tri-state.
	SetConfirmed(ctx context.Context, convID string, confirmed bool) error

	TouchLastMessage(ctx context.Context, convID string, at time.Time) error
}

// MessageStore owns conversation messages. ExternalID is the idempotency key.
type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) error

	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)

	// MarkDeleted flags the message with the given external id as deleted.
	// A missing message is not an error.
	MarkDeleted(ctx context.Context, externalID string) error

	// ListRecent returns up to limit messages of a conversation,
	// newest first.
	ListRecent(ctx context.Context, convID string, limit int) ([]model.Message, error)

	// BindSession attaches a message to a session after the fact.
	BindSession(ctx context.Context, messageID, sessionID string) error
}

// SessionStore owns workflow sessions. Update enforces optimistic
// concurrency: the write succeeds only when the stored version matches
// session.Version, and increments it.
type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error

	// Get returns model.ErrNotFound when absent.
	Get(ctx context.Context, sessionID string) (*model.Session, error)

	// GetLatestByConversation returns the most recently started session of a
	// conversation, bound or not. model.ErrNotFound when the conversation
	// never had one.
	GetLatestByConversation(ctx context.Context, convID string) (*model.Session, error)

	// Update writes status/stage/state/result iff the stored version matches
	// session.Version; on success session.Version is incremented in place.
	// model.ErrVersionConflict on mismatch.
	Update(ctx context.Context, session *model.Session) error
}

// WorkflowStore loads workflows and their configured actions.
type WorkflowStore interface {
	// Get returns the workflow with variants and policies attached.
	Get(ctx context.Context, workflowID string) (*model.Workflow, error)

	// Actions returns all actions configured for a workflow.
	Actions(ctx context.Context, workflowID string) ([]model.Action, error)
}

// DecisionStore persists router decision audit records.
type DecisionStore interface {
	Create(ctx context.Context, rec *model.DecisionRecord) error
}

// Stores aggregates every store implementation for wiring.
type Stores struct {
	Clients       ClientStore
	Conversations ConversationStore
	Messages      MessageStore
	Sessions      SessionStore
	Workflows     WorkflowStore
	Decisions     DecisionStore
}
