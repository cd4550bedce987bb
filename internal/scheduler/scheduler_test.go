package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/deskline-ops/triagebot/internal/chatapi"
	"github.com/deskline-ops/triagebot/internal/clock"
	"github.com/deskline-ops/triagebot/internal/config"
	"github.com/deskline-ops/triagebot/internal/lifecycle"
	"github.com/deskline-ops/triagebot/internal/store"
)

type sentMessage struct {
	chatRef, text, replyTo string
}

type fakeAdapter struct {
	sent     []sentMessage
	edited   []sentMessage
	unpinned []string
	failText string
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Send(ctx context.Context, chatRef, text, replyTo string, buttons chatapi.ButtonSet) (string, error) {
	if f.failText != "" && text == f.failText {
		return "", errors.New("simulated delivery failure")
	}
	f.sent = append(f.sent, sentMessage{chatRef, text, replyTo})
	return "msg-" + chatRef, nil
}

func (f *fakeAdapter) Edit(ctx context.Context, chatRef, messageID, text string, buttons chatapi.ButtonSet) error {
	f.edited = append(f.edited, sentMessage{chatRef, text, messageID})
	return nil
}

func (f *fakeAdapter) Pin(ctx context.Context, chatRef, messageID string) error { return nil }

func (f *fakeAdapter) Unpin(ctx context.Context, chatRef, messageID string) error {
	f.unpinned = append(f.unpinned, messageID)
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, ackText string, alert bool) error {
	return nil
}

type fixture struct {
	store   *store.Store
	engine  *lifecycle.Engine
	adapter *fakeAdapter
	group   *store.Group
	dept1   store.Department
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
	if err != nil || len(depts) == 0 {
		t.Fatalf("list departments: %v (%d)", err, len(depts))
	}
	if err := s.AddDepartmentMember(ctx, depts[0].ID, "agent1"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	return &fixture{
		store:   s,
		engine:  lifecycle.New(s),
		adapter: &fakeAdapter{},
		group:   g,
		dept1:   depts[0],
	}
}

func (f *fixture) newScheduler(sla config.SLAConfig) *Scheduler {
	cfg := config.SchedulerConfig{ReminderMapCap: 1000}
	return New(cfg, sla, f.store, f.engine, f.adapter)
}

// Tests call the tick steps directly rather than through tick itself, since
// tick's file-lock guard is exercised by TestFileLockExcludesSecondHolder in lock_test.go and
// isn't worth wiring into every case here.

func TestNudgeUnclaimedSendsOnceForSameAssignmentSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, f.group.ID, f.group.CompanyID, "reporter", "Reporter", "the printer is on fire", "M1")
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	if _, err := f.engine.AssignDepartment(ctx, inc.IncidentID, f.dept1.ID, "reporter"); err != nil {
		t.Fatalf("assign department: %v", err)
	}

	// Negative threshold pushes the cutoff into the future so a
	// just-assigned incident already qualifies as overdue.
	sched := f.newScheduler(config.SLAConfig{UnclaimedNudgeMinutes: -1})

	sched.nudgeUnclaimed(ctx)
	sched.nudgeUnclaimed(ctx)

	if len(f.adapter.sent) != 1 {
		t.Fatalf("expected exactly one reminder, got %d", len(f.adapter.sent))
	}
}

func TestNudgeUnclaimedClearsAfterClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, f.group.ID, f.group.CompanyID, "reporter", "Reporter", "the printer is on fire", "M1")
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	if _, err := f.engine.AssignDepartment(ctx, inc.IncidentID, f.dept1.ID, "reporter"); err != nil {
		t.Fatalf("assign department: %v", err)
	}

	sched := f.newScheduler(config.SLAConfig{UnclaimedNudgeMinutes: -1})
	sched.nudgeUnclaimed(ctx)
	if len(f.adapter.sent) != 1 {
		t.Fatalf("expected one reminder before claim, got %d", len(f.adapter.sent))
	}

	if _, err := f.engine.Claim(ctx, inc.IncidentID, "agent1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	sched.clearReminder(inc.IncidentID)

	sched.nudgeUnclaimed(ctx)
	if len(f.adapter.sent) != 1 {
		t.Fatalf("expected no further reminder once claimed, got %d", len(f.adapter.sent))
	}
}

func TestCloseSummaryTimeoutsAutoClosesAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, f.group.ID, f.group.CompanyID, "reporter", "Reporter", "the printer is on fire", "M1")
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	if _, err := f.engine.AssignDepartment(ctx, inc.IncidentID, f.dept1.ID, "reporter"); err != nil {
		t.Fatalf("assign department: %v", err)
	}
	if _, err := f.engine.Claim(ctx, inc.IncidentID, "agent1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.engine.RequestResolution(ctx, inc.IncidentID, "agent1"); err != nil {
		t.Fatalf("request resolution: %v", err)
	}

	sched := f.newScheduler(config.SLAConfig{SummaryTimeoutMinutes: -1})
	sched.closeSummaryTimeouts(ctx)

	updated, err := f.store.GetIncident(ctx, inc.IncidentID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if updated.Status != store.Closed {
		t.Fatalf("expected Closed, got %s", updated.Status)
	}
	// No pinned message id was ever set on this incident, so the closed
	// message is sent fresh rather than edited in place, plus the
	// separate auto-close notice.
	if len(f.adapter.sent) != 2 {
		t.Fatalf("expected a closed message and an auto-close notice, got %d sends", len(f.adapter.sent))
	}
	if len(f.adapter.unpinned) != 0 {
		t.Fatalf("expected no unpin for an incident with no pinned message, got %d", len(f.adapter.unpinned))
	}

	sched.mu.Lock()
	_, stillReminded := sched.unclaimedReminded[inc.IncidentID]
	sched.mu.Unlock()
	if stillReminded {
		t.Fatalf("expected reminder entry cleared after auto-close")
	}
}

func TestCloseSummaryTimeoutsSkipsIncidentsNotAwaitingSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, f.group.ID, f.group.CompanyID, "reporter", "Reporter", "the printer is on fire", "M1")
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	if _, err := f.engine.AssignDepartment(ctx, inc.IncidentID, f.dept1.ID, "reporter"); err != nil {
		t.Fatalf("assign department: %v", err)
	}

	sched := f.newScheduler(config.SLAConfig{SummaryTimeoutMinutes: -1})
	sched.closeSummaryTimeouts(ctx)

	if len(f.adapter.sent) != 0 {
		t.Fatalf("expected no auto-close activity for an Awaiting_Claim incident, got %d sends", len(f.adapter.sent))
	}
}

func TestDrainNotificationsMarksSentAndFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	okID, badID := "n-ok", "n-bad"
	err := f.store.WriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := f.store.EnqueueNotificationTx(ctx, tx, okID, f.group.ID, "test", "delivered fine", clock.Now()); err != nil {
			return err
		}
		return f.store.EnqueueNotificationTx(ctx, tx, badID, f.group.ID, "test", "will not deliver", clock.Now())
	})
	if err != nil {
		t.Fatalf("enqueue notifications: %v", err)
	}

	sched := f.newScheduler(config.SLAConfig{})
	f.adapter.failText = "will not deliver"
	sched.drainNotifications(ctx)

	pending, err := f.store.ListPendingNotifications(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no notifications left pending after the drain attempt, got %d", len(pending))
	}
	if len(f.adapter.sent) != 1 {
		t.Fatalf("expected exactly one delivered notification, got %d", len(f.adapter.sent))
	}
}

func TestEvictRemindersClearsOverCap(t *testing.T) {
	f := newFixture(t)
	sched := f.newScheduler(config.SLAConfig{})
	sched.cfg.ReminderMapCap = 2

	sched.unclaimedReminded["a"] = clock.Now()
	sched.unclaimedReminded["b"] = clock.Now()
	sched.unclaimedReminded["c"] = clock.Now()

	sched.evictReminders()

	if len(sched.unclaimedReminded) != 0 {
		t.Fatalf("expected reminder cache cleared once over cap, got %d entries", len(sched.unclaimedReminded))
	}
}
