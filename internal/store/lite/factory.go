// Package lite implements the store interfaces on SQLite for standalone
// (single-tenant, single-process) mode. The coordination kv store runs
// in-memory in this mode, so only durable entities live here.
package lite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/convoflowhq/convoflow/internal/store"
)

// Open opens (and bootstraps) the standalone SQLite database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer at a time; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("bootstrap sqlite schema: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by one SQLite database.
func NewStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Clients:       NewClientStore(db),
		Conversations: NewConversationStore(db),
		Messages:      NewMessageStore(db),
		Sessions:      NewSessionStore(db),
		Workflows:     NewWorkflowStore(db),
		Decisions:     NewDecisionStore(db),
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	id TEXT PRIMARY KEY,
	business_name TEXT NOT NULL,
	industry TEXT NOT NULL DEFAULT '',
	business_location TEXT NOT NULL DEFAULT '',
	business_description TEXT NOT NULL DEFAULT '',
	business_hours TEXT NOT NULL DEFAULT '',
	contact_options TEXT NOT NULL DEFAULT '',
	dynamic_information TEXT,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS client_events (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL REFERENCES clients(id),
	event_name TEXT NOT NULL,
	description TEXT,
	recurrence TEXT,
	start_date TIMESTAMP,
	end_date TIMESTAMP
);

CREATE TABLE IF NOT EXISTS credentials (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL REFERENCES clients(id),
	type TEXT NOT NULL,
	value TEXT NOT NULL,
	expires_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS platform_bindings (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL REFERENCES clients(id),
	platform TEXT NOT NULL,
	account_id TEXT NOT NULL,
	requires_confirmation INTEGER NOT NULL DEFAULT 0,
	confirmation_question TEXT,
	UNIQUE (account_id, platform)
);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL REFERENCES clients(id),
	account_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	channel TEXT NOT NULL,
	active_session_id TEXT,
	sender_id TEXT NOT NULL,
	sender_username TEXT,
	post_id TEXT,
	parent_id TEXT,
	is_confirmed INTEGER,
	paused_until TIMESTAMP,
	last_message_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_sender ON conversations(sender_id);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	content TEXT NOT NULL,
	content_type TEXT NOT NULL,
	source_url TEXT,
	external_id TEXT NOT NULL UNIQUE,
	sent_by TEXT NOT NULL,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	deleted_at TIMESTAMP,
	session_id TEXT,
	received_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, received_at);

CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL REFERENCES clients(id),
	key TEXT NOT NULL,
	name TEXT NOT NULL,
	use_case TEXT,
	is_active INTEGER NOT NULL DEFAULT 1,
	configuration TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_variants (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id),
	platform TEXT,
	channel TEXT,
	override_configuration TEXT NOT NULL DEFAULT '{}',
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS workflow_policies (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id),
	platform TEXT,
	channel TEXT,
	is_allowed INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_actions (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id),
	kind TEXT NOT NULL,
	use_case TEXT,
	is_active INTEGER NOT NULL DEFAULT 1,
	configuration TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	workflow_key TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	status TEXT NOT NULL,
	stage TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT '{}',
	result TEXT,
	version INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS decision_records (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	score REAL NOT NULL,
	reason TEXT NOT NULL,
	message TEXT,
	created_at TIMESTAMP NOT NULL
);
`
