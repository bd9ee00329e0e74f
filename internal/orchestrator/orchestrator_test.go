package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/convoflowhq/convoflow/internal/generation"
	"github.com/convoflowhq/convoflow/internal/kv"
	"github.com/convoflowhq/convoflow/internal/model"
	"github.com/convoflowhq/convoflow/internal/queue"
	"github.com/convoflowhq/convoflow/internal/registry"
	"github.com/convoflowhq/convoflow/internal/store"
	"github.com/convoflowhq/convoflow/internal/window"
	"github.com/convoflowhq/convoflow/internal/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// In-memory store fakes.

type fakeClients struct {
	clients  map[string]*model.Client
	bindings map[string]*model.PlatformBinding
}

func (f *fakeClients) Get(ctx context.Context, clientID string) (*model.Client, error) {
	c, ok := f.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", clientID, model.ErrNotFound)
	}
	return c, nil
}

func (f *fakeClients) GetBindingByAccount(ctx context.Context, accountID string, platform model.Platform) (*model.PlatformBinding, error) {
	b, ok := f.bindings[accountID]
	if !ok || b.Platform != platform {
		return nil, fmt.Errorf("binding for %s: %w", accountID, model.ErrNotFound)
	}
	return b, nil
}

type fakeConversations struct {
	mu       sync.Mutex
	bySender map[string]*model.Conversation
}

func convKey(senderID, postID string) string { return senderID + "|" + postID }

func (f *fakeConversations) GetBySender(ctx context.Context, senderID, postID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.bySender[convKey(senderID, postID)]
	if !ok {
		return nil, fmt.Errorf("conversation for %s: %w", senderID, model.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConversations) Create(ctx context.Context, conv *model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *conv
	f.bySender[convKey(conv.SenderID, conv.PostID)] = &cp
	return nil
}

func (f *fakeConversations) find(convID string) *model.Conversation {
	for _, c := range f.bySender {
		if c.ID == convID {
			return c
		}
	}
	return nil
}

func (f *fakeConversations) BindSession(ctx context.Context, convID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.find(convID); c != nil {
		c.ActiveSessionID = sessionID
	}
	return nil
}

func (f *fakeConversations) SetPause(ctx context.Context, convID string, until *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.find(convID); c != nil {
		c.PausedUntil = until
	}
	return nil
}

func (f *fakeConversations) SetConfirmed(ctx context.Context, convID string, confirmed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.find(convID); c != nil {
		c.IsConfirmed = &confirmed
	}
	return nil
}

func (f *fakeConversations) TouchLastMessage(ctx context.Context, convID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.find(convID); c != nil {
		c.LastMessageAt = at
	}
	return nil
}

type fakeMessages struct {
	mu         sync.Mutex
	byExternal map[string]*model.Message
	deleted    map[string]bool
}

func (f *fakeMessages) Create(ctx context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byExternal[msg.ExternalID]; ok {
		return fmt.Errorf("message %s: %w", msg.ExternalID, model.ErrConflict)
	}
	cp := *msg
	f.byExternal[msg.ExternalID] = &cp
	return nil
}

func (f *fakeMessages) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byExternal[externalID]
	return ok, nil
}

func (f *fakeMessages) MarkDeleted(ctx context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[externalID] = true
	return nil
}

func (f *fakeMessages) ListRecent(ctx context.Context, convID string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.byExternal {
		if m.ConvID == convID && len(out) < limit {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMessages) BindSession(ctx context.Context, messageID, sessionID string) error {
	return nil
}

type fakeSessions struct {
	sessions map[string]*model.Session
}

func (f *fakeSessions) Create(ctx context.Context, s *model.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessions) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	return s, nil
}

func (f *fakeSessions) GetLatestByConversation(ctx context.Context, convID string) (*model.Session, error) {
	var latest *model.Session
	for _, s := range f.sessions {
		if s.ConvID != convID {
			continue
		}
		if latest == nil || s.StartedAt.After(latest.StartedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("latest session for conversation %s: %w", convID, model.ErrNotFound)
	}
	return latest, nil
}

func (f *fakeSessions) Update(ctx context.Context, s *model.Session) error {
	f.sessions[s.ID] = s
	return nil
}

type fakeWorkflows struct {
	workflows map[string]*model.Workflow
}

func (f *fakeWorkflows) Get(ctx context.Context, workflowID string) (*model.Workflow, error) {
	w, ok := f.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, model.ErrNotFound)
	}
	return w, nil
}

func (f *fakeWorkflows) Actions(ctx context.Context, workflowID string) ([]model.Action, error) {
	return nil, nil
}

type fakeDecisions struct {
	mu   sync.Mutex
	recs []*model.DecisionRecord
}

func (f *fakeDecisions) Create(ctx context.Context, rec *model.DecisionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

// stubGen satisfies generation.Client with canned output.
type stubGen struct{ content string }

func (s *stubGen) Complete(ctx context.Context, req generation.Request) (string, error) {
	return s.content, nil
}
func (s *stubGen) Name() string { return "stub" }

// recordingHandler captures dispatched turns.
type recordingHandler struct {
	key   string
	mu    sync.Mutex
	turns []*workflow.Turn
}

func (h *recordingHandler) Key() string { return h.key }

func (h *recordingHandler) Handle(ctx context.Context, t *workflow.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

type fixture struct {
	orch     *Orchestrator
	clients  *fakeClients
	convs    *fakeConversations
	msgs     *fakeMessages
	sessions *fakeSessions
	wfs      *fakeWorkflows
	decs     *fakeDecisions
	kv       *kv.Memory
	handler  *recordingHandler
	flowPool *queue.Pool
}

const testWorkflowKey = "LEADGEN"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := testLogger()

	f := &fixture{
		clients:  &fakeClients{clients: map[string]*model.Client{}, bindings: map[string]*model.PlatformBinding{}},
		convs:    &fakeConversations{bySender: map[string]*model.Conversation{}},
		msgs:     &fakeMessages{byExternal: map[string]*model.Message{}, deleted: map[string]bool{}},
		sessions: &fakeSessions{sessions: map[string]*model.Session{}},
		wfs:      &fakeWorkflows{workflows: map[string]*model.Workflow{}},
		decs:     &fakeDecisions{},
		kv:       kv.NewMemory(),
		handler:  &recordingHandler{key: testWorkflowKey},
	}
	stores := &store.Stores{
		Clients:       f.clients,
		Conversations: f.convs,
		Messages:      f.msgs,
		Sessions:      f.sessions,
		Workflows:     f.wfs,
		Decisions:     f.decs,
	}

	win := window.New(f.kv, window.Config{
		SessionWindowTTL: time.Second,
		ColdWindowTTL:    time.Second,
		SessionSleep:     5 * time.Millisecond,
		ColdSleep:        5 * time.Millisecond,
		ExtensionGrace:   2 * time.Millisecond,
		ClaimPollBase:    2 * time.Millisecond,
		ClaimPollMax:     3,
	})
	gen := generation.NewService(&stubGen{content: `{}`}, nil)
	reg := registry.New(log)

	flows := workflow.NewRegistry(workflow.NewEngine(log, stores, gen, nil, nil, nil))
	flows.Register(f.handler)

	ingestPool := queue.NewPool("ingest-test", log, 4, 1000)
	f.flowPool = queue.NewPool("flow-test", log, 4, 1000)

	f.orch = New(log, stores, win, gen, reg, flows, ingestPool, f.flowPool)

	// Default tenant: one active client with one eligible workflow.
	wf := model.Workflow{
		ID:       "wf-1",
		ClientID: "client-1",
		Key:      testWorkflowKey,
		Name:     "Lead Capture",
		IsActive: true,
	}
	f.wfs.workflows["wf-1"] = &wf
	f.clients.clients["client-1"] = &model.Client{
		ID:           "client-1",
		BusinessName: "Trattoria Roma",
		IsActive:     true,
		Workflows:    []model.Workflow{wf},
	}
	f.clients.bindings["acct-1"] = &model.PlatformBinding{
		ID:        "bind-1",
		ClientID:  "client-1",
		Platform:  model.PlatformInstagram,
		AccountID: "acct-1",
		Credentials: []model.Credential{{
			ID:       "cred-1",
			ClientID: "client-1",
			Type:     model.CredentialAppAccessToken,
			Value:    "token",
		}},
	}
	return f
}

func dmEvent(externalID, text string) model.InboundEvent {
	return model.InboundEvent{
		AccountID: "acct-1",
		EventType: model.EventCreated,
		TargetID:  "sender-1",
		Content:   model.EventContent{Text: text, Type: model.ContentText},
		Timestamp: time.Now(),
		Platform:  model.PlatformInstagram,
		Channel:   model.ChannelDirectMessage,
		Metadata: model.EventMetadata{
			ExternalID: externalID,
			Sender:     model.EventSender{ID: "sender-1", Username: "ana"},
		},
	}
}

func TestProcessEventAcceptsAndDispatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.orch.processEvent(ctx, dmEvent("ext-1", "hi, do you have a table tonight?")); err != nil {
		t.Fatal(err)
	}
	f.flowPool.Wait()

	if f.handler.count() != 1 {
		t.Fatalf("handler invoked %d times, want 1", f.handler.count())
	}
	turn := f.handler.turns[0]
	if turn.Text != "hi, do you have a table tonight?" {
		t.Errorf("turn text = %q", turn.Text)
	}
	if turn.Workflow.Key != testWorkflowKey {
		t.Errorf("routed workflow = %s", turn.Workflow.Key)
	}

	msg, ok := f.msgs.byExternal["ext-1"]
	if !ok {
		t.Fatal("inbound message not persisted")
	}
	conv := f.convs.find(msg.ConvID)
	if conv == nil {
		t.Fatal("conversation not created")
	}
	if conv.SenderID != "sender-1" || conv.Platform != model.PlatformInstagram {
		t.Errorf("conversation = %+v", conv)
	}

	// The processing claim is released once the turn finishes.
	held, err := f.kv.Exists(ctx, "process:"+conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if held {
		t.Error("processing claim not released after dispatch")
	}
}

func TestProcessEventDuplicateSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.orch.processEvent(ctx, dmEvent("ext-1", "first")); err != nil {
		t.Fatal(err)
	}
	f.flowPool.Wait()

	// Redelivery of the same platform message id.
	if err := f.orch.processEvent(ctx, dmEvent("ext-1", "first")); err != nil {
		t.Fatal(err)
	}
	f.flowPool.Wait()

	if f.handler.count() != 1 {
		t.Errorf("duplicate dispatched: handler ran %d times", f.handler.count())
	}
	if len(f.msgs.byExternal) != 1 {
		t.Errorf("stored %d messages, want 1", len(f.msgs.byExternal))
	}
}

func TestProcessEventDeletedEventMarksMessage(t *testing.T) {
	f := newFixture(t)
	ev := dmEvent("ext-1", "")
	ev.EventType = model.EventDeleted

	if err := f.orch.processEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if !f.msgs.deleted["ext-1"] {
		t.Error("deletion event did not mark the message")
	}
	if f.handler.count() != 0 {
		t.Error("deletion event dispatched a turn")
	}
}

func TestProcessEventNoBindingSkipped(t *testing.T) {
	f := newFixture(t)
	ev := dmEvent("ext-1", "hello")
	ev.AccountID = "unknown-account"

	if err := f.orch.processEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if f.handler.count() != 0 || len(f.convs.bySender) != 0 {
		t.Error("unbound account produced work")
	}
}

func TestProcessEventExpiredCredentialSkipped(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-time.Hour)
	f.clients.bindings["acct-1"].Credentials[0].ExpiresAt = &past

	if err := f.orch.processEvent(context.Background(), dmEvent("ext-1", "hello")); err != nil {
		t.Fatal(err)
	}
	if f.handler.count() != 0 {
		t.Error("expired credential dispatched a turn")
	}
}

func TestProcessEventInactiveClientSkipped(t *testing.T) {
	f := newFixture(t)
	f.clients.clients["client-1"].IsActive = false

	if err := f.orch.processEvent(context.Background(), dmEvent("ext-1", "hello")); err != nil {
		t.Fatal(err)
	}
	if f.handler.count() != 0 {
		t.Error("inactive client dispatched a turn")
	}
}

func TestProcessEventPausedConversationSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.orch.processEvent(ctx, dmEvent("ext-1", "first")); err != nil {
		t.Fatal(err)
	}
	f.flowPool.Wait()

	msg := f.msgs.byExternal["ext-1"]
	future := time.Now().Add(time.Hour)
	if err := f.convs.SetPause(ctx, msg.ConvID, &future); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.processEvent(ctx, dmEvent("ext-2", "second")); err != nil {
		t.Fatal(err)
	}
	f.flowPool.Wait()

	if f.handler.count() != 1 {
		t.Errorf("paused conversation dispatched: handler ran %d times", f.handler.count())
	}
	conv := f.convs.find(msg.ConvID)
	if conv.PausedUntil == nil {
		t.Error("active pause was cleared")
	}
}

func TestProcessEventElapsedPauseCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.orch.processEvent(ctx, dmEvent("ext-1", "first")); err != nil {
		t.Fatal(err)
	}
	f.flowPool.Wait()

	msg := f.msgs.byExternal["ext-1"]
	past := time.Now().Add(-time.Minute)
	if err := f.convs.SetPause(ctx, msg.ConvID, &past); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.processEvent(ctx, dmEvent("ext-2", "second")); err != nil {
		t.Fatal(err)
	}
	f.flowPool.Wait()

	if f.handler.count() != 2 {
		t.Errorf("handler ran %d times, want 2", f.handler.count())
	}
	if conv := f.convs.find(msg.ConvID); conv.PausedUntil != nil {
		t.Error("elapsed pause not cleared")
	}
}

func TestProcessEventUnconfirmedRoutesToAssistant(t *testing.T) {
	f := newFixture(t)
	f.clients.bindings["acct-1"].RequiresConfirmation = true
	assistant := &recordingHandler{key: model.WorkflowConfirmAssist}
	f.orch.flows.Register(assistant)

	if err := f.orch.processEvent(context.Background(), dmEvent("ext-1", "hello")); err != nil {
		t.Fatal(err)
	}
	f.flowPool.Wait()

	if assistant.count() != 1 {
		t.Fatalf("confirmation assistant ran %d times, want 1", assistant.count())
	}
	if f.handler.count() != 0 {
		t.Error("unconfirmed conversation reached the business workflow")
	}
}

func TestProcessEventDeclinedConfirmationSkipped(t *testing.T) {
	f := newFixture(t)
	f.clients.bindings["acct-1"].RequiresConfirmation = true
	ctx := context.Background()

	// Seed a conversation that explicitly declined automated handling.
	declined := false
	now := time.Now()
	if err := f.convs.Create(ctx, &model.Conversation{
		ID:            "conv-1",
		ClientID:      "client-1",
		AccountID:     "acct-1",
		Platform:      model.PlatformInstagram,
		Channel:       model.ChannelDirectMessage,
		SenderID:      "sender-1",
		IsConfirmed:   &declined,
		LastMessageAt: now,
		CreatedAt:     now,
	}); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.processEvent(ctx, dmEvent("ext-1", "hello")); err != nil {
		t.Fatal(err)
	}
	f.flowPool.Wait()

	if f.handler.count() != 0 {
		t.Error("declined conversation dispatched a turn")
	}
}

func TestRouteStickySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sessions.sessions["sess-1"] = &model.Session{
		ID:         "sess-1",
		WorkflowID: "wf-1",
		ConvID:     "conv-1",
		Status:     model.SessionStarted,
	}
	conv := &model.Conversation{
		ID:              "conv-1",
		ClientID:        "client-1",
		ActiveSessionID: "sess-1",
		Platform:        model.PlatformInstagram,
		Channel:         model.ChannelDirectMessage,
	}
	client := f.clients.clients["client-1"]

	wf, err := f.orch.route(ctx, client, conv, &model.Message{ID: "m1"}, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if wf == nil || wf.ID != "wf-1" {
		t.Errorf("sticky route returned %+v", wf)
	}
}

func TestRouteCorruptSessionBinding(t *testing.T) {
	f := newFixture(t)
	conv := &model.Conversation{
		ID:              "conv-1",
		ActiveSessionID: "ghost",
		Platform:        model.PlatformInstagram,
		Channel:         model.ChannelDirectMessage,
	}
	_, err := f.orch.route(context.Background(), f.clients.clients["client-1"], conv, &model.Message{ID: "m1"}, "hi")
	if !errors.Is(err, model.ErrSessionCorrupt) {
		t.Errorf("err = %v, want ErrSessionCorrupt", err)
	}
}

func TestRouteDecisionRecordsAuditTrail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second := model.Workflow{
		ID:       "wf-2",
		ClientID: "client-1",
		Key:      "SUPPORT",
		Name:     "Support",
		IsActive: true,
	}
	client := f.clients.clients["client-1"]
	client.Workflows = append(client.Workflows, second)
	f.orch.gen = generation.NewService(&stubGen{
		content: `{"workflowKey":"SUPPORT","score":0.8,"reason":"asks about an order"}`,
	}, nil)

	conv := &model.Conversation{
		ID:       "conv-1",
		ClientID: "client-1",
		Platform: model.PlatformInstagram,
		Channel:  model.ChannelDirectMessage,
	}
	wf, err := f.orch.route(ctx, client, conv, &model.Message{ID: "m1"}, "where is my order?")
	if err != nil {
		t.Fatal(err)
	}
	if wf.Key != "SUPPORT" {
		t.Errorf("routed to %s, want SUPPORT", wf.Key)
	}
	if len(f.decs.recs) != 1 {
		t.Fatalf("recorded %d decisions, want 1", len(f.decs.recs))
	}
	rec := f.decs.recs[0]
	if rec.WorkflowID != "wf-2" || rec.Score != 0.8 {
		t.Errorf("decision record = %+v", rec)
	}
}

func TestRouteDecisionFallsBackOnUnknownKey(t *testing.T) {
	f := newFixture(t)

	second := model.Workflow{ID: "wf-2", ClientID: "client-1", Key: "SUPPORT", IsActive: true}
	client := f.clients.clients["client-1"]
	client.Workflows = append(client.Workflows, second)
	f.orch.gen = generation.NewService(&stubGen{
		content: `{"workflowKey":"TELEPORT","score":0.9,"reason":"nonsense"}`,
	}, nil)

	conv := &model.Conversation{
		ID:       "conv-1",
		Platform: model.PlatformInstagram,
		Channel:  model.ChannelDirectMessage,
	}
	wf, err := f.orch.route(context.Background(), client, conv, &model.Message{ID: "m1"}, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if wf.Key != testWorkflowKey {
		t.Errorf("fallback routed to %s, want first candidate %s", wf.Key, testWorkflowKey)
	}
}

func TestRouteNoEligibleWorkflow(t *testing.T) {
	f := newFixture(t)
	client := f.clients.clients["client-1"]
	client.Workflows[0].Policies = []model.WorkflowPolicy{{
		Platform:  platformPtr(model.PlatformInstagram),
		IsAllowed: false,
	}}

	conv := &model.Conversation{
		ID:       "conv-1",
		Platform: model.PlatformInstagram,
		Channel:  model.ChannelDirectMessage,
	}
	wf, err := f.orch.route(context.Background(), client, conv, &model.Message{ID: "m1"}, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if wf != nil {
		t.Errorf("denied platform still routed to %s", wf.Key)
	}
}

func platformPtr(p model.Platform) *model.Platform { return &p }
