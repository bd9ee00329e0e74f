// Package pg implements the store interfaces on Postgres (managed mode).
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/convoflowhq/convoflow/internal/store"
)

// OpenDB opens a Postgres connection pool via the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by one Postgres pool.
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
