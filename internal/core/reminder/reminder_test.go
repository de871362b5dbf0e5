package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ogurasousui/codex-offboarding/internal/core/actor"
	"github.com/ogurasousui/codex-offboarding/internal/core/clearance"
	"github.com/ogurasousui/codex-offboarding/internal/core/employee"
	"github.com/ogurasousui/codex-offboarding/internal/core/employee/employeetest"
	"github.com/ogurasousui/codex-offboarding/internal/core/notification"
	"github.com/ogurasousui/codex-offboarding/internal/core/notification/notificationtest"
)

type stubClock struct {
	now time.Time
}

func (s *stubClock) Now() time.Time {
	return s.now
}

func (s *stubClock) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

type fakeStore struct {
	mu         sync.Mutex
	checklists []*clearance.Checklist
	claims     int
	listErr    error
	recordErr  error
}

func (f *fakeStore) ListWithPending(context.Context) ([]*clearance.Checklist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*clearance.Checklist, 0, len(f.checklists))
	for _, c := range f.checklists {
		if len(c.Pending()) == 0 {
			continue
		}
		clone := *c
		clone.Reminders = make(map[clearance.Department]clearance.ReminderState, len(c.Reminders))
		for k, v := range c.Reminders {
			clone.Reminders[k] = v
		}
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeStore) find(id string) *clearance.Checklist {
	for _, c := range f.checklists {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (f *fakeStore) RecordReminder(_ context.Context, checklistID string, d clearance.Department, at time.Time) (clearance.ReminderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return clearance.ReminderState{}, f.recordErr
	}
	c := f.find(checklistID)
	state := c.Reminders[d]
	state.Count++
	sent := at
	state.LastSentAt = &sent
	if state.FirstSentAt == nil {
		first := at
		state.FirstSentAt = &first
	}
	c.Reminders[d] = state
	return state, nil
}

func (f *fakeStore) ClaimEscalation(_ context.Context, checklistID string, d clearance.Department, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.find(checklistID)
	state := c.Reminders[d]
	if state.Escalated {
		return false, nil
	}
	f.claims++
	state.Escalated = true
	c.Reminders[d] = state
	return true, nil
}

func (f *fakeStore) state(checklistID string, d clearance.Department) clearance.ReminderState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(checklistID).Reminders[d]
}

type countingMetrics struct {
	reminders   map[string]int
	escalations map[string]int
}

func (m *countingMetrics) ReminderSent(d string)   { m.reminders[d]++ }
func (m *countingMetrics) EscalationSent(d string) { m.escalations[d]++ }

type fixture struct {
	scheduler *Scheduler
	store     *fakeStore
	clock     *stubClock
	notifier  *notificationtest.Recorder
	directory *employeetest.Directory
	metrics   *countingMetrics
}

// checklist は assigned に含まれる部門だけが PENDING のチェックリストを返します。
func checklist(id string, assigned map[clearance.Department]string) *clearance.Checklist {
	items := make([]clearance.Item, 0, len(clearance.Departments))
	for _, d := range clearance.Departments {
		status := clearance.ItemApproved
		if _, ok := assigned[d]; ok {
			status = clearance.ItemPending
		}
		items = append(items, clearance.Item{Department: d, Status: status, AssignedTo: assigned[d]})
	}
	return &clearance.Checklist{
		ID:            id,
		TerminationID: "sep-" + id,
		EmployeeID:    "emp-1",
		Items:         items,
		Reminders:     map[clearance.Department]clearance.ReminderState{},
	}
}

func newFixture(t *testing.T, checklists ...*clearance.Checklist) fixture {
	t.Helper()

	dir := employeetest.NewDirectory().
		Add(employee.Employee{ID: "emp-1"}).
		Add(employee.Employee{ID: "it-1"}, actor.CapSystemAdmin).
		Add(employee.Employee{ID: "it-2"}, actor.CapSystemAdmin).
		Add(employee.Employee{ID: "hr-1"}, actor.CapHRManager)
	store := &fakeStore{checklists: checklists}
	clock := &stubClock{now: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)}
	rec := notificationtest.NewRecorder()
	metrics := &countingMetrics{reminders: map[string]int{}, escalations: map[string]int{}}

	s, err := NewScheduler(Dependencies{
		Store:     store,
		Directory: dir,
		Notifier:  notification.NewDispatcher(rec, nil, nil),
		Clock:     clock,
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("NewScheduler returned error: %v", err)
	}
	return fixture{scheduler: s, store: store, clock: clock, notifier: rec, directory: dir, metrics: metrics}
}

func TestScheduler_RunPass_RoleFallbackRecipients(t *testing.T) {
	t.Parallel()

	f := newFixture(t, checklist("chk-1", map[clearance.Department]string{clearance.DepartmentIT: ""}))

	result, err := f.scheduler.RunPass(context.Background(), false)
	if err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if result.Checklists != 1 || result.Reminders != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	sent := f.notifier.OfKind(notification.KindClearanceReminder)
	if len(sent) != 2 || sent[0].Recipients[0] != "it-1" || sent[1].Recipients[0] != "it-2" {
		t.Fatalf("expected one reminder per system admin, got %+v", sent)
	}

	state := f.store.state("chk-1", clearance.DepartmentIT)
	if state.Count != 1 || state.FirstSentAt == nil || state.LastSentAt == nil {
		t.Fatalf("unexpected reminder state: %+v", state)
	}
	if f.metrics.reminders["IT"] != 2 {
		t.Fatalf("expected reminder metrics, got %+v", f.metrics.reminders)
	}
}

func TestScheduler_RunPass_AssignedRecipient(t *testing.T) {
	t.Parallel()

	f := newFixture(t, checklist("chk-1", map[clearance.Department]string{clearance.DepartmentLineManager: "mgr-1"}))

	if _, err := f.scheduler.RunPass(context.Background(), false); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	sent := f.notifier.OfKind(notification.KindClearanceReminder)
	if len(sent) != 1 || sent[0].Recipients[0] != "mgr-1" {
		t.Fatalf("expected assigned manager to be reminded, got %+v", sent)
	}
}

func TestScheduler_RunPass_NoRecipientsLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t, checklist("chk-1", map[clearance.Department]string{clearance.DepartmentFinance: ""}))

	result, err := f.scheduler.RunPass(context.Background(), false)
	if err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if result.Reminders != 0 || result.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if state := f.store.state("chk-1", clearance.DepartmentFinance); state.Count != 0 || state.FirstSentAt != nil {
		t.Fatalf("expected no state mutation, got %+v", state)
	}
}

func TestScheduler_RunPass_BackOffAndCap(t *testing.T) {
	t.Parallel()

	f := newFixture(t, checklist("chk-1", map[clearance.Department]string{clearance.DepartmentLineManager: "mgr-1"}))
	ctx := context.Background()

	counts := []int{}
	for i := 0; i < 3; i++ {
		if _, err := f.scheduler.RunPass(ctx, false); err != nil {
			t.Fatalf("RunPass returned error: %v", err)
		}
		counts = append(counts, len(f.notifier.OfKind(notification.KindClearanceReminder)))

		f.clock.advance(24 * time.Hour)
		if _, err := f.scheduler.RunPass(ctx, false); err != nil {
			t.Fatalf("RunPass returned error: %v", err)
		}
		if got := len(f.notifier.OfKind(notification.KindClearanceReminder)); got != counts[i] {
			t.Fatalf("expected back-off to suppress reminder, got %d sent", got)
		}
		f.clock.advance(48 * time.Hour)
	}
	if counts[0] != 1 || counts[1] != 2 || counts[2] != 3 {
		t.Fatalf("unexpected reminder progression: %v", counts)
	}

	if _, err := f.scheduler.RunPass(ctx, false); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if got := len(f.notifier.OfKind(notification.KindClearanceReminder)); got != 3 {
		t.Fatalf("expected cap of 3 reminders, got %d", got)
	}
	if state := f.store.state("chk-1", clearance.DepartmentLineManager); state.Count != 3 {
		t.Fatalf("expected count to stay at 3, got %d", state.Count)
	}
}

func TestScheduler_RunPass_ForceBypassesCap(t *testing.T) {
	t.Parallel()

	c := checklist("chk-1", map[clearance.Department]string{clearance.DepartmentLineManager: "mgr-1"})
	last := time.Date(2025, 5, 1, 7, 0, 0, 0, time.UTC)
	c.Reminders[clearance.DepartmentLineManager] = clearance.ReminderState{Count: 3, FirstSentAt: &last, LastSentAt: &last}
	f := newFixture(t, c)

	if _, err := f.scheduler.RunPass(context.Background(), false); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if got := len(f.notifier.OfKind(notification.KindClearanceReminder)); got != 0 {
		t.Fatalf("expected capped item to be skipped, got %d", got)
	}

	if _, err := f.scheduler.RunPass(context.Background(), true); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if got := len(f.notifier.OfKind(notification.KindClearanceReminder)); got != 1 {
		t.Fatalf("expected forced reminder, got %d", got)
	}
	if state := f.store.state("chk-1", clearance.DepartmentLineManager); state.Count != 4 {
		t.Fatalf("expected forced reminder to be counted, got %d", state.Count)
	}
}

func TestScheduler_RunPass_EscalatesOnceAfterThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(t, checklist("chk-1", map[clearance.Department]string{
		clearance.DepartmentLineManager: "mgr-1",
		clearance.DepartmentIT:          "",
	}))
	ctx := context.Background()

	for day := 0; day <= 12; day += 3 {
		if _, err := f.scheduler.RunPass(ctx, false); err != nil {
			t.Fatalf("RunPass returned error: %v", err)
		}
		escalations := f.notifier.OfKind(notification.KindClearanceEscalation)
		if day < 7 && len(escalations) != 0 {
			t.Fatalf("escalated too early on day %d", day)
		}
		f.clock.advance(72 * time.Hour)
	}

	escalations := f.notifier.OfKind(notification.KindClearanceEscalation)
	if len(escalations) != 2 {
		t.Fatalf("expected one escalation per pending item, got %d", len(escalations))
	}
	for _, n := range escalations {
		if len(n.Recipients) != 2 || n.Recipients[0] != "hr-1" || n.Recipients[1] != "mgr-1" {
			t.Fatalf("expected hr managers and line manager, got %v", n.Recipients)
		}
	}
	if f.store.claims != 2 {
		t.Fatalf("expected two escalation claims, got %d", f.store.claims)
	}
	if f.metrics.escalations["LINE_MANAGER"] != 1 || f.metrics.escalations["IT"] != 1 {
		t.Fatalf("unexpected escalation metrics: %+v", f.metrics.escalations)
	}
}

func TestScheduler_RunPass_FailureIsolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		checklist("chk-1", map[clearance.Department]string{clearance.DepartmentIT: ""}),
		checklist("chk-2", map[clearance.Department]string{clearance.DepartmentLineManager: "mgr-2"}),
	)
	f.notifier.FailFor["it-1"] = errors.New("mailbox full")

	result, err := f.scheduler.RunPass(context.Background(), false)
	if err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if result.Failures != 1 || result.Reminders != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	sent := f.notifier.OfKind(notification.KindClearanceReminder)
	got := map[string]bool{}
	for _, n := range sent {
		got[n.Recipients[0]] = true
	}
	if !got["it-2"] || !got["mgr-2"] || got["it-1"] {
		t.Fatalf("expected other recipients to be reminded, got %+v", got)
	}
}

func TestScheduler_RunPass_StoreErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, checklist("chk-1", map[clearance.Department]string{clearance.DepartmentLineManager: "mgr-1"}))
	f.store.recordErr = errors.New("write timeout")

	result, err := f.scheduler.RunPass(context.Background(), false)
	if err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}
	if result.Failures != 1 || result.Reminders != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	f.store.recordErr = nil
	f.store.listErr = errors.New("connection refused")
	if _, err := f.scheduler.RunPass(context.Background(), false); err == nil {
		t.Fatalf("expected list failure to be returned")
	}
}

func TestNewScheduler_InvalidPolicy(t *testing.T) {
	t.Parallel()

	_, err := NewScheduler(Dependencies{Policy: &Policy{MaxCount: 0, Interval: time.Hour, EscalateAfter: time.Hour}})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}
