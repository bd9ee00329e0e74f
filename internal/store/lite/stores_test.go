package lite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/convoflowhq/convoflow/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedConversation(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if _, err := db.ExecContext(ctx, `
		INSERT INTO clients (id, business_name, created_at, updated_at)
		VALUES ('client-1', 'Trattoria Roma', ?, ?)
		ON CONFLICT (id) DO NOTHING`, now, now); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	err := NewConversationStore(db).Create(ctx, &model.Conversation{
		ID:            id,
		ClientID:      "client-1",
		AccountID:     "acct-1",
		Platform:      model.PlatformInstagram,
		Channel:       model.ChannelDirectMessage,
		SenderID:      "sender-" + id,
		LastMessageAt: now,
		CreatedAt:     now,
	})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "conv-1")
	convs := NewConversationStore(db)

	got, err := convs.GetBySender(ctx, "sender-conv-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "conv-1" || got.Platform != model.PlatformInstagram {
		t.Errorf("conversation = %+v", got)
	}
	if got.HasSession() {
		t.Error("fresh conversation reports a session")
	}

	if _, err := convs.GetBySender(ctx, "nobody", ""); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing sender err = %v, want ErrNotFound", err)
	}

	until := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)
	if err := convs.SetPause(ctx, "conv-1", &until); err != nil {
		t.Fatal(err)
	}
	got, err = convs.GetBySender(ctx, "sender-conv-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.PausedUntil == nil || !got.PausedUntil.Equal(until) {
		t.Errorf("paused_until = %v, want %v", got.PausedUntil, until)
	}
	if err := convs.SetPause(ctx, "conv-1", nil); err != nil {
		t.Fatal(err)
	}
	got, _ = convs.GetBySender(ctx, "sender-conv-1", "")
	if got.PausedUntil != nil {
		t.Error("pause not cleared")
	}
}

func TestMessageIdempotencyKey(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "conv-1")
	msgs := NewMessageStore(db)

	msg := &model.Message{
		ID:          "msg-1",
		ConvID:      "conv-1",
		Content:     "hello",
		ContentType: model.ContentText,
		ExternalID:  "ig-123",
		SentBy:      model.ActorUser,
		ReceivedAt:  time.Now().UTC(),
	}
	if err := msgs.Create(ctx, msg); err != nil {
		t.Fatal(err)
	}

	exists, err := msgs.ExistsByExternalID(ctx, "ig-123")
	if err != nil || !exists {
		t.Errorf("exists = %v, %v; want true", exists, err)
	}
	exists, err = msgs.ExistsByExternalID(ctx, "ig-999")
	if err != nil || exists {
		t.Errorf("exists = %v, %v; want false", exists, err)
	}

	// The unique external_id column refuses a second insert outright.
	dup := *msg
	dup.ID = "msg-2"
	if err := msgs.Create(ctx, &dup); err == nil {
		t.Error("duplicate external id accepted")
	}
}

func TestListRecentSkipsDeleted(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "conv-1")
	msgs := NewMessageStore(db)

	base := time.Now().UTC().Truncate(time.Second)
	for i, ext := range []string{"e1", "e2", "e3"} {
		err := msgs.Create(ctx, &model.Message{
			ID:          "msg-" + ext,
			ConvID:      "conv-1",
			Content:     "m" + ext,
			ContentType: model.ContentText,
			ExternalID:  ext,
			SentBy:      model.ActorUser,
			ReceivedAt:  base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := msgs.MarkDeleted(ctx, "e2"); err != nil {
		t.Fatal(err)
	}

	got, err := msgs.ListRecent(ctx, "conv-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("listed %d messages, want 2", len(got))
	}
	// Newest first.
	if got[0].ExternalID != "e3" || got[1].ExternalID != "e1" {
		t.Errorf("order = %s, %s", got[0].ExternalID, got[1].ExternalID)
	}
}

func TestSessionVersionConflict(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sessions := NewSessionStore(db)

	s := &model.Session{
		ID:          "sess-1",
		WorkflowID:  "wf-1",
		WorkflowKey: "INTAKE",
		ConvID:      "conv-1",
		Status:      model.SessionStarted,
		Stage:       "RETRIEVE",
		State: model.SessionState{
			CapturedFields: []model.RetrievedField{{Key: "email", Value: "ana@example.com"}},
		},
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := sessions.Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	loaded, err := sessions.Get(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Version != 0 || len(loaded.State.CapturedFields) != 1 {
		t.Errorf("loaded = %+v", loaded)
	}

	loaded.Status = model.SessionProcessing
	if err := sessions.Update(ctx, loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.Version != 1 {
		t.Errorf("version after update = %d, want 1", loaded.Version)
	}

	// A writer holding the old version loses.
	stale := *s
	stale.Status = model.SessionFailed
	if err := sessions.Update(ctx, &stale); !errors.Is(err, model.ErrVersionConflict) {
		t.Errorf("stale update err = %v, want ErrVersionConflict", err)
	}

	// The winning write is the one persisted.
	final, err := sessions.Get(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.SessionProcessing || final.Version != 1 {
		t.Errorf("final = status %s version %d", final.Status, final.Version)
	}
}

func TestSessionLatestByConversation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sessions := NewSessionStore(db)

	base := time.Now().UTC().Truncate(time.Second)
	ended := base.Add(time.Minute)
	older := &model.Session{
		ID: "sess-old", WorkflowID: "wf-1", WorkflowKey: "INTAKE", ConvID: "conv-1",
		Status: model.SessionCompleted, Stage: "complete",
		StartedAt: base, EndedAt: &ended,
	}
	newer := &model.Session{
		ID: "sess-new", WorkflowID: "wf-1", WorkflowKey: "INTAKE", ConvID: "conv-1",
		Status: model.SessionFailed, Stage: "complete",
		StartedAt: base.Add(time.Hour),
	}
	for _, s := range []*model.Session{older, newer} {
		if err := sessions.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	got, err := sessions.GetLatestByConversation(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "sess-new" || got.Status != model.SessionFailed {
		t.Errorf("latest = %s (%s), want sess-new (FAILED)", got.ID, got.Status)
	}

	if _, err := sessions.GetLatestByConversation(ctx, "conv-none"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSessionGetMissing(t *testing.T) {
	db := openTestDB(t)
	if _, err := NewSessionStore(db).Get(context.Background(), "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
