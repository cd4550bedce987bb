package router

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/deskline-ops/triagebot/internal/chatapi"
	"github.com/deskline-ops/triagebot/internal/config"
	"github.com/deskline-ops/triagebot/internal/lifecycle"
	"github.com/deskline-ops/triagebot/internal/roles"
	"github.com/deskline-ops/triagebot/internal/store"
)

type sent struct {
	chatRef, text, replyTo string
	buttons                chatapi.ButtonSet
}

type edited struct {
	chatRef, messageID, text string
	buttons                  chatapi.ButtonSet
}

type fakeAdapter struct {
	sent      []sent
	edited    []edited
	pinned    []string
	unpinned  []string
	callbacks []string
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Send(ctx context.Context, chatRef, text, replyTo string, buttons chatapi.ButtonSet) (string, error) {
	f.sent = append(f.sent, sent{chatRef, text, replyTo, buttons})
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeAdapter) Edit(ctx context.Context, chatRef, messageID, text string, buttons chatapi.ButtonSet) error {
	f.edited = append(f.edited, edited{chatRef, messageID, text, buttons})
	return nil
}

func (f *fakeAdapter) Pin(ctx context.Context, chatRef, messageID string) error {
	f.pinned = append(f.pinned, messageID)
	return nil
}

func (f *fakeAdapter) Unpin(ctx context.Context, chatRef, messageID string) error {
	f.unpinned = append(f.unpinned, messageID)
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, ackText string, alert bool) error {
	f.callbacks = append(f.callbacks, ackText)
	return nil
}

type fixture struct {
	store   *store.Store
	engine  *lifecycle.Engine
	adapter *fakeAdapter
	router  *Router
	group   *store.Group
	dept1   store.Department
	dept2   store.Department
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "triage.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	c, err := s.GetOrCreateCompany(ctx, "Acme")
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	g, err := s.CreateGroup(ctx, c.ID, "C1")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := s.ActivateGroup(ctx, g.ID); err != nil {
		t.Fatalf("activate group: %v", err)
	}
	depts, err := s.ListDepartments(ctx, c.ID)
	if err != nil || len(depts) != 2 {
		t.Fatalf("list departments: %v (%d)", err, len(depts))
	}
	if err := s.AddDepartmentMember(ctx, depts[0].ID, "agent1"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	adapter := &fakeAdapter{}
	engine := lifecycle.New(s)
	resolver := roles.NewResolver(s)
	rt := New(s, resolver, engine, adapter, config.AdminConfig{PlatformAdminIDs: []string{"admin1"}})

	return &fixture{store: s, engine: engine, adapter: adapter, router: rt, group: g, dept1: depts[0], dept2: depts[1]}
}

func TestHandleNewIssueRequiresReply(t *testing.T) {
	f := newFixture(t)
	evt := chatapi.Event{Kind: chatapi.EventCommand, ChatRef: "C1", UserID: "reporter", Command: "new_issue"}

	f.router.Handle(context.Background(), evt)

	if len(f.adapter.sent) != 1 {
		t.Fatalf("expected one alert reply, got %d", len(f.adapter.sent))
	}
}

func TestHandleNewIssueCreatesIncidentAndPinsSelectionMenu(t *testing.T) {
	f := newFixture(t)
	evt := chatapi.Event{
		Kind: chatapi.EventCommand, ChatRef: "C1", UserID: "reporter", Handle: "@reporter",
		Command: "new_issue", ReplyToID: "M1", ReplyToText: "the printer is on fire",
	}

	f.router.Handle(context.Background(), evt)

	if len(f.adapter.sent) != 1 {
		t.Fatalf("expected one department selection message, got %d", len(f.adapter.sent))
	}
	if len(f.adapter.pinned) != 1 {
		t.Fatalf("expected the selection message to be pinned, got %d", len(f.adapter.pinned))
	}
	if len(f.adapter.sent[0].buttons) != 1 || len(f.adapter.sent[0].buttons[0]) != 2 {
		t.Fatalf("expected a button per department, got %v", f.adapter.sent[0].buttons)
	}
}

func (f *fixture) createIncident(t *testing.T) *store.Incident {
	t.Helper()
	inc, err := f.engine.CreateIncident(context.Background(), f.group.ID, f.group.CompanyID, "reporter", "@reporter", "the printer is on fire", "M1")
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	return inc
}

func TestHandleCallbackSelectDepartmentAssignsAndPings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := f.createIncident(t)
	if err := f.store.AddDepartmentMember(ctx, f.dept1.ID, "agent1"); err != nil {
		t.Fatalf("add roster member: %v", err)
	}

	evt := chatapi.Event{
		Kind: chatapi.EventCallback, ChatRef: "C1", UserID: "reporter", MessageID: "M2",
		CallbackID: "cb1", CallbackData: fmt.Sprintf("select_department:%s:%d", inc.IncidentID, f.dept1.ID),
	}
	f.router.Handle(ctx, evt)

	updated, err := f.store.GetIncident(ctx, inc.IncidentID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if updated.Status != store.AwaitingClaim {
		t.Fatalf("expected Awaiting_Claim, got %s", updated.Status)
	}
	if len(f.adapter.edited) != 1 {
		t.Fatalf("expected the pinned message edited once, got %d", len(f.adapter.edited))
	}
	if len(f.adapter.sent) != 1 {
		t.Fatalf("expected a department ping, got %d", len(f.adapter.sent))
	}
}

func TestHandleCallbackSelectDepartmentDeniesNonReporter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := f.createIncident(t)

	evt := chatapi.Event{
		Kind: chatapi.EventCallback, ChatRef: "C1", UserID: "someone-else", MessageID: "M2",
		CallbackID: "cb1", CallbackData: fmt.Sprintf("select_department:%s:%d", inc.IncidentID, f.dept1.ID),
	}
	f.router.Handle(ctx, evt)

	updated, err := f.store.GetIncident(ctx, inc.IncidentID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if updated.Status != store.AwaitingDepartment {
		t.Fatalf("expected the incident untouched, got %s", updated.Status)
	}
	if len(f.adapter.edited) != 0 {
		t.Fatalf("expected no edit on denial, got %d", len(f.adapter.edited))
	}
}

func TestHandleCallbackClaimReleaseAndResolveFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := f.createIncident(t)

	assignEvt := chatapi.Event{
		Kind: chatapi.EventCallback, ChatRef: "C1", UserID: "reporter", MessageID: "M2",
		CallbackID: "cb1", CallbackData: fmt.Sprintf("select_department:%s:%d", inc.IncidentID, f.dept1.ID),
	}
	f.router.Handle(ctx, assignEvt)

	claimEvt := chatapi.Event{
		Kind: chatapi.EventCallback, ChatRef: "C1", UserID: "agent1", MessageID: "M2",
		CallbackID: "cb2", CallbackData: fmt.Sprintf("claim:%s", inc.IncidentID),
	}
	f.router.Handle(ctx, claimEvt)

	updated, err := f.store.GetIncident(ctx, inc.IncidentID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if updated.Status != store.InProgress {
		t.Fatalf("expected In_Progress after claim, got %s", updated.Status)
	}

	resolveEvt := chatapi.Event{
		Kind: chatapi.EventCallback, ChatRef: "C1", UserID: "agent1", Handle: "@agent1", MessageID: "M2",
		CallbackID: "cb3", CallbackData: fmt.Sprintf("resolve:%s", inc.IncidentID),
	}
	f.router.Handle(ctx, resolveEvt)

	updated, err = f.store.GetIncident(ctx, inc.IncidentID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if updated.Status != store.AwaitingSummary {
		t.Fatalf("expected Awaiting_Summary after resolve request, got %s", updated.Status)
	}

	summaryEvt := chatapi.Event{
		Kind: chatapi.EventMessage, ChatRef: "C1", UserID: "agent1", Handle: "@agent1",
		Text:        "replaced the fuser assembly",
		ReplyToText: fmt.Sprintf("Please send the resolution summary for incident.\nID: %s", inc.IncidentID),
	}
	f.router.Handle(ctx, summaryEvt)

	updated, err = f.store.GetIncident(ctx, inc.IncidentID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if updated.Status != store.Resolved {
		t.Fatalf("expected Resolved after summary reply, got %s", updated.Status)
	}
	if len(f.adapter.unpinned) != 1 {
		t.Fatalf("expected the incident message unpinned on resolve, got %d", len(f.adapter.unpinned))
	}
}

func TestHandleCallbackClaimDeniesNonDepartmentMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := f.createIncident(t)

	assignEvt := chatapi.Event{
		Kind: chatapi.EventCallback, ChatRef: "C1", UserID: "reporter", MessageID: "M2",
		CallbackID: "cb1", CallbackData: fmt.Sprintf("select_department:%s:%d", inc.IncidentID, f.dept1.ID),
	}
	f.router.Handle(ctx, assignEvt)

	claimEvt := chatapi.Event{
		Kind: chatapi.EventCallback, ChatRef: "C1", UserID: "agent2", MessageID: "M2",
		CallbackID: "cb2", CallbackData: fmt.Sprintf("claim:%s", inc.IncidentID),
	}
	f.router.Handle(ctx, claimEvt)

	updated, err := f.store.GetIncident(ctx, inc.IncidentID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if updated.Status != store.AwaitingClaim {
		t.Fatalf("expected claim to be denied, got %s", updated.Status)
	}
}

func TestHandleReportGatesOnPlatformAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, chatapi.Event{Kind: chatapi.EventCommand, ChatRef: "C1", UserID: "reporter", Command: "report"})
	if len(f.adapter.sent) != 1 {
		t.Fatalf("expected a denial message, got %d sends", len(f.adapter.sent))
	}

	f.router.Handle(ctx, chatapi.Event{Kind: chatapi.EventCommand, ChatRef: "C1", UserID: "admin1", Command: "report"})
	if len(f.adapter.sent) != 2 {
		t.Fatalf("expected the report stub message, got %d sends", len(f.adapter.sent))
	}
}

func TestExtractIncidentIDPrefersIDLine(t *testing.T) {
	text := "Resolution summary needed.\nID: 0042\nother text"
	if got := extractIncidentID(text); got != "0042" {
		t.Fatalf("expected 0042, got %q", got)
	}
}

func TestExtractIncidentIDFallsBackToDigitRun(t *testing.T) {
	text := "please resolve incident 0099 soon"
	if got := extractIncidentID(text); got != "0099" {
		t.Fatalf("expected 0099, got %q", got)
	}
}

func TestExtractIncidentIDEmptyWhenNoMatch(t *testing.T) {
	if got := extractIncidentID("no ids here"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
