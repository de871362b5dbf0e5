package clearance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ogurasousui/codex-offboarding/internal/core/actor"
	"github.com/ogurasousui/codex-offboarding/internal/core/audit"
	"github.com/ogurasousui/codex-offboarding/internal/core/employee"
	"github.com/ogurasousui/codex-offboarding/internal/core/employee/employeetest"
	"github.com/ogurasousui/codex-offboarding/internal/core/notification"
	"github.com/ogurasousui/codex-offboarding/internal/core/notification/notificationtest"
	"github.com/ogurasousui/codex-offboarding/internal/core/separation"
	"github.com/ogurasousui/codex-offboarding/internal/core/settlement"
)

type stubClock struct {
	now time.Time
}

func (s *stubClock) Now() time.Time {
	return s.now
}

type fakeChecklistRepo struct {
	mu         sync.Mutex
	checklists map[string]*Checklist
	sequence   int
	creates    int
	// conflict が true の場合 UpdateItem は競合として失敗します。
	conflict bool
}

func newFakeChecklistRepo() *fakeChecklistRepo {
	return &fakeChecklistRepo{checklists: make(map[string]*Checklist)}
}

func cloneChecklist(c *Checklist) *Checklist {
	out := *c
	out.Items = append([]Item(nil), c.Items...)
	out.Equipment = append([]Equipment(nil), c.Equipment...)
	out.Reminders = make(map[Department]ReminderState, len(c.Reminders))
	for k, v := range c.Reminders {
		out.Reminders[k] = v
	}
	return &out
}

func (r *fakeChecklistRepo) Create(_ context.Context, c *Checklist) (*Checklist, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.checklists {
		if existing.TerminationID == c.TerminationID {
			return cloneChecklist(existing), false, nil
		}
	}
	r.sequence++
	r.creates++
	stored := cloneChecklist(c)
	stored.ID = fmt.Sprintf("chk-%d", r.sequence)
	for i := range stored.Items {
		stored.Items[i].Version = 1
	}
	r.checklists[stored.ID] = stored
	return cloneChecklist(stored), true, nil
}

func (r *fakeChecklistRepo) FindByID(_ context.Context, id string) (*Checklist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.checklists[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneChecklist(c), nil
}

func (r *fakeChecklistRepo) FindByTermination(_ context.Context, terminationID string) (*Checklist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.checklists {
		if c.TerminationID == terminationID {
			return cloneChecklist(c), nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeChecklistRepo) UpdateItem(_ context.Context, checklistID string, item Item, expectedVersion int) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflict {
		return nil, ErrConcurrentUpdate
	}
	c, ok := r.checklists[checklistID]
	if !ok {
		return nil, ErrNotFound
	}
	stored, ok := c.Item(item.Department)
	if !ok {
		return nil, ErrDepartmentNotFound
	}
	if stored.Version != expectedVersion {
		return nil, ErrConcurrentUpdate
	}
	item.Version = expectedVersion + 1
	*stored = item
	out := item
	return &out, nil
}

func (r *fakeChecklistRepo) MarkEquipmentReturned(_ context.Context, checklistID string, returns []EquipmentReturn, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.checklists[checklistID]
	if !ok {
		return 0, ErrNotFound
	}
	count := 0
	for _, ret := range returns {
		for i := range c.Equipment {
			if c.Equipment[i].EquipmentID == ret.EquipmentID {
				returnedAt := at
				c.Equipment[i].Returned = true
				c.Equipment[i].Condition = ret.Condition
				c.Equipment[i].ReturnedAt = &returnedAt
				count++
			}
		}
	}
	return count, nil
}

func (r *fakeChecklistRepo) MarkCompleted(_ context.Context, checklistID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.checklists[checklistID]
	if !ok {
		return false, ErrNotFound
	}
	if c.CardReturned {
		return false, nil
	}
	completed := at
	c.CardReturned = true
	c.CompletedAt = &completed
	return true, nil
}

type fakeSeparations struct {
	mu       sync.Mutex
	requests map[string]*separation.Request
	approves int
}

func (f *fakeSeparations) FindByID(_ context.Context, id string) (*separation.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, separation.ErrNotFound
	}
	clone := *req
	return &clone, nil
}

func (f *fakeSeparations) MarkApproved(_ context.Context, id string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approves++
	req, ok := f.requests[id]
	if !ok {
		return false, separation.ErrNotFound
	}
	if req.Status == separation.StatusApproved {
		return false, nil
	}
	req.Status = separation.StatusApproved
	return true, nil
}

type fakeEquipment struct {
	records []Equipment
	err     error
}

func (f fakeEquipment) ReservationsFor(context.Context, string) ([]Equipment, error) {
	return f.records, f.err
}

// countingSettlement は terminationID ごとに最初の完了までを 1 回の claim として扱います。
type countingSettlement struct {
	mu       sync.Mutex
	calls    []string
	finished map[string]bool
	claimed  int
	failNext error
}

func (c *countingSettlement) TriggerSettlement(_ context.Context, employeeID, terminationID string) (*settlement.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, employeeID+"/"+terminationID)
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		return nil, err
	}
	rec := &settlement.Record{
		TerminationID: terminationID,
		EmployeeID:    employeeID,
		Status:        settlement.StatusQueued,
	}
	if c.finished[terminationID] {
		return &settlement.Outcome{Record: rec, AlreadyTriggered: true}, nil
	}
	if c.finished == nil {
		c.finished = make(map[string]bool)
	}
	c.finished[terminationID] = true
	c.claimed++
	return &settlement.Outcome{Record: rec, Resumed: len(c.calls) > 1}, nil
}

func (c *countingSettlement) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *countingSettlement) claims() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claimed
}

type memoryAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *memoryAudit) Append(_ context.Context, e *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memoryAudit) ListBySeparation(_ context.Context, id string) ([]*audit.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*audit.Event
	for _, e := range m.events {
		if e.SeparationID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryAudit) count(kind audit.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// savepointTx はセーブポイントの利用と巻き戻しを記録します。
type savepointTx struct {
	mu         sync.Mutex
	savepoints int
	rolledBack []error
}

func (t *savepointTx) WithinReadOnly(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (t *savepointTx) WithinReadWrite(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (t *savepointTx) WithinSavepoint(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.savepoints++
	if err != nil {
		t.rolledBack = append(t.rolledBack, err)
	}
	return err
}

type fixture struct {
	svc         *Service
	repo        *fakeChecklistRepo
	separations *fakeSeparations
	directory   *employeetest.Directory
	settlement  *countingSettlement
	notifier    *notificationtest.Recorder
	logs        *observer.ObservedLogs
}

type fixtureOption func(*Dependencies)

func withEquipment(e EquipmentHistory) fixtureOption {
	return func(d *Dependencies) { d.Equipment = e }
}

func withAudit(repo audit.Repository) fixtureOption {
	return func(d *Dependencies) { d.Audit = audit.NewRecorder(repo, nil) }
}

func withTx(tx TransactionManager) fixtureOption {
	return func(d *Dependencies) { d.Tx = tx }
}

func newFixture(t *testing.T, opts ...fixtureOption) fixture {
	t.Helper()

	dir := employeetest.NewDirectory().
		Add(employee.Employee{ID: "emp-1", Name: "Taro"}).
		Add(employee.Employee{ID: "mgr-1"}).
		Add(employee.Employee{ID: "head-1"}, actor.CapDepartmentHead).
		Add(employee.Employee{ID: "it-1"}, actor.CapSystemAdmin).
		Add(employee.Employee{ID: "fin-1"}, actor.CapFinance).
		Add(employee.Employee{ID: "ops-1"}, actor.CapHROperations).
		Add(employee.Employee{ID: "hr-1"}, actor.CapHRManager)
	dir.SetManager("emp-1", "mgr-1")

	seps := &fakeSeparations{requests: map[string]*separation.Request{
		"sep-1": {ID: "sep-1", EmployeeID: "emp-1", Initiator: separation.InitiatorEmployee, Status: separation.StatusApproved},
		"sep-2": {ID: "sep-2", EmployeeID: "emp-1", Initiator: separation.InitiatorEmployee, Status: separation.StatusPending},
	}}
	repo := newFakeChecklistRepo()
	stl := &countingSettlement{}
	rec := notificationtest.NewRecorder()
	core, logs := observer.New(zapcore.InfoLevel)

	deps := Dependencies{
		Repo:        repo,
		Separations: seps,
		Directory:   dir,
		Settlement:  stl,
		Notifier:    notification.NewDispatcher(rec, nil, nil),
		Clock:       &stubClock{now: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)},
		Logger:      zap.New(core),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return fixture{
		svc:         NewService(deps),
		repo:        repo,
		separations: seps,
		directory:   dir,
		settlement:  stl,
		notifier:    rec,
		logs:        logs,
	}
}

func (f fixture) mustChecklist(t *testing.T) *Checklist {
	t.Helper()
	c, err := f.svc.CreateChecklist(context.Background(), "sep-1")
	if err != nil {
		t.Fatalf("CreateChecklist returned error: %v", err)
	}
	return c
}

func (f fixture) approve(t *testing.T, checklistID string, d Department, who actor.Actor) *UpdateItemResult {
	t.Helper()
	res, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{
		ChecklistID: checklistID,
		Department:  d,
		Status:      ItemApproved,
		Actor:       who,
	})
	if err != nil {
		t.Fatalf("approve %s returned error: %v", d, err)
	}
	return res
}

func TestService_CreateChecklist_SeedsFivePendingItems(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withEquipment(fakeEquipment{records: []Equipment{{EquipmentID: "laptop-1", Name: "Laptop"}}}))
	c := f.mustChecklist(t)

	if len(c.Items) != len(Departments) {
		t.Fatalf("expected %d items, got %d", len(Departments), len(c.Items))
	}
	for _, item := range c.Items {
		if item.Status != ItemPending {
			t.Fatalf("expected PENDING items, got %+v", item)
		}
	}
	if c.LineManager() != "mgr-1" {
		t.Fatalf("expected line manager to be assigned, got %q", c.LineManager())
	}
	if c.ManagerOutcome != employee.ManagerResolved {
		t.Fatalf("expected resolved manager outcome, got %q", c.ManagerOutcome)
	}
	if len(c.Equipment) != 1 || c.Equipment[0].EquipmentID != "laptop-1" {
		t.Fatalf("expected equipment to be seeded, got %+v", c.Equipment)
	}
}

func TestService_CreateChecklist_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := f.mustChecklist(t)
	second := f.mustChecklist(t)

	if first.ID != second.ID {
		t.Fatalf("expected same checklist, got %s and %s", first.ID, second.ID)
	}
	if f.repo.creates != 1 {
		t.Fatalf("expected exactly one checklist, got %d", f.repo.creates)
	}
	if len(second.Items) != len(Departments) {
		t.Fatalf("items duplicated: %+v", second.Items)
	}
}

func TestService_CreateChecklist_RequiresApprovedSeparation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.svc.CreateChecklist(context.Background(), "sep-2"); !errors.Is(err, ErrSeparationNotApproved) {
		t.Fatalf("expected ErrSeparationNotApproved, got %v", err)
	}
	if _, err := f.svc.CreateChecklist(context.Background(), "missing"); !errors.Is(err, separation.ErrNotFound) {
		t.Fatalf("expected separation.ErrNotFound, got %v", err)
	}
}

func TestService_CreateChecklist_ManagerUnresolved(t *testing.T) {
	t.Parallel()

	tx := &savepointTx{}
	f := newFixture(t, withEquipment(fakeEquipment{err: errors.New("onboarding store offline")}), withTx(tx))
	f.directory.ResolveErr = errors.New("org chart unavailable")

	c := f.mustChecklist(t)
	if tx.savepoints != 2 || len(tx.rolledBack) != 2 {
		t.Fatalf("expected both lookups to roll back to their own savepoints, got %+v", tx)
	}
	if c.ManagerOutcome != employee.ManagerUnresolved {
		t.Fatalf("expected unresolved manager outcome, got %q", c.ManagerOutcome)
	}
	if c.LineManager() != "" {
		t.Fatalf("expected no line manager assignment, got %q", c.LineManager())
	}
	if len(c.Equipment) != 0 {
		t.Fatalf("expected empty equipment list, got %+v", c.Equipment)
	}

	entries := f.logs.FilterMessage("line manager unresolved").All()
	if len(entries) != 1 {
		t.Fatalf("expected one unresolved log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["reason"]; got != "org chart unavailable" {
		t.Fatalf("unexpected reason field: %v", got)
	}
	if f.logs.FilterMessage("equipment history unavailable").Len() != 1 {
		t.Fatalf("expected equipment warning to be logged")
	}
}

func TestService_UpdateItemStatus_Authorization(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		department Department
		who        actor.Actor
		wantErr    error
	}{
		{name: "assigned manager", department: DepartmentLineManager, who: actor.New("mgr-1")},
		{name: "department head", department: DepartmentLineManager, who: actor.New("head-1", actor.CapDepartmentHead)},
		{name: "line manager stranger", department: DepartmentLineManager, who: actor.New("emp-9"), wantErr: ErrForbidden},
		{name: "it admin", department: DepartmentIT, who: actor.New("it-1", actor.CapSystemAdmin)},
		{name: "it by hr manager", department: DepartmentIT, who: actor.New("hr-1", actor.CapHRManager), wantErr: ErrForbidden},
		{name: "hr employee by ops", department: DepartmentHREmployee, who: actor.New("ops-1", actor.CapHROperations)},
		{name: "hr employee by finance", department: DepartmentHREmployee, who: actor.New("fin-1", actor.CapFinance), wantErr: ErrForbidden},
		{name: "hr by ops", department: DepartmentHR, who: actor.New("ops-1", actor.CapHROperations), wantErr: ErrForbidden},
		{name: "finance by admin", department: DepartmentFinance, who: actor.New("it-1", actor.CapSystemAdmin), wantErr: ErrForbidden},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			c := f.mustChecklist(t)

			_, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{
				ChecklistID: c.ID,
				Department:  tc.department,
				Status:      ItemApproved,
				Actor:       tc.who,
			})
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}

			stored, _ := f.repo.FindByID(context.Background(), c.ID)
			item, _ := stored.Item(tc.department)
			if item.Status != ItemPending {
				t.Fatalf("expected item to stay PENDING, got %s", item.Status)
			}
		})
	}
}

func TestService_UpdateItemStatus_FinanceBeforeLineManager(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.mustChecklist(t)

	_, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{
		ChecklistID: c.ID,
		Department:  DepartmentFinance,
		Status:      ItemApproved,
		Actor:       actor.New("fin-1", actor.CapFinance),
	})
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}

	stored, _ := f.repo.FindByID(context.Background(), c.ID)
	for _, item := range stored.Items {
		if item.Status != ItemPending {
			t.Fatalf("expected all items unchanged, got %+v", item)
		}
	}
}

func TestService_UpdateItemStatus_HRRequiresChain(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.mustChecklist(t)
	everything := actor.New("root", actor.All()...)

	f.approve(t, c.ID, DepartmentLineManager, everything)

	_, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{
		ChecklistID: c.ID,
		Department:  DepartmentHR,
		Status:      ItemApproved,
		Actor:       everything,
	})
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}

	f.approve(t, c.ID, DepartmentFinance, everything)
	f.approve(t, c.ID, DepartmentHR, everything)
}

func TestService_UpdateItemStatus_UnchainedDepartmentsAnyOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.mustChecklist(t)

	f.approve(t, c.ID, DepartmentIT, actor.New("it-1", actor.CapSystemAdmin))
	f.approve(t, c.ID, DepartmentHREmployee, actor.New("ops-1", actor.CapHROperations))
}

func TestService_UpdateItemStatus_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.mustChecklist(t)
	admin := actor.New("it-1", actor.CapSystemAdmin)

	if _, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{Department: DepartmentIT, Status: ItemApproved, Actor: admin}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{ChecklistID: c.ID, Department: "LEGAL", Status: ItemApproved, Actor: admin}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown department, got %v", err)
	}
	if _, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{ChecklistID: c.ID, Department: DepartmentIT, Status: "DONE", Actor: admin}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{ChecklistID: "chk-404", Department: DepartmentIT, Status: ItemApproved, Actor: admin}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown checklist, got %v", err)
	}
}

func TestService_UpdateItemStatus_ConcurrentUpdateSurfaced(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.mustChecklist(t)
	f.repo.conflict = true

	_, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{
		ChecklistID: c.ID,
		Department:  DepartmentIT,
		Status:      ItemApproved,
		Actor:       actor.New("it-1", actor.CapSystemAdmin),
	})
	if !errors.Is(err, ErrConcurrentUpdate) || !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	if f.directory.RevokeCalls != 0 {
		t.Fatalf("expected no side effects, got %d revoke calls", f.directory.RevokeCalls)
	}
}

func TestService_UpdateItemStatus_ITRevokesAccessOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.mustChecklist(t)
	admin := actor.New("it-1", actor.CapSystemAdmin)

	f.approve(t, c.ID, DepartmentIT, admin)
	revokedAt := f.directory.Get("emp-1").AccessRevokedAt
	if revokedAt == nil {
		t.Fatalf("expected access to be revoked")
	}

	res := f.approve(t, c.ID, DepartmentIT, admin)
	if !res.Unchanged {
		t.Fatalf("expected re-approval to be reported as unchanged, got %+v", res)
	}
	if f.directory.RevokeCalls != 1 {
		t.Fatalf("expected revoke to run once, got %d", f.directory.RevokeCalls)
	}
	if again := f.directory.Get("emp-1").AccessRevokedAt; again == nil || !again.Equal(*revokedAt) {
		t.Fatalf("expected revocation timestamp to stay stable, got %v", again)
	}
}

func TestService_UpdateItemStatus_EquipmentReturns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withEquipment(fakeEquipment{records: []Equipment{
		{EquipmentID: "laptop-1", Name: "Laptop"},
		{EquipmentID: "badge-1", Name: "Badge"},
	}}))
	c := f.mustChecklist(t)

	_, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{
		ChecklistID: c.ID,
		Department:  DepartmentHREmployee,
		Status:      ItemApproved,
		Actor:       actor.New("ops-1", actor.CapHROperations),
		EquipmentReturns: []EquipmentReturn{
			{EquipmentID: "laptop-1", Condition: "good"},
			{EquipmentID: "phone-9", Condition: "scratched"},
		},
	})
	if err != nil {
		t.Fatalf("UpdateItemStatus returned error: %v", err)
	}

	stored, _ := f.repo.FindByID(context.Background(), c.ID)
	for _, e := range stored.Equipment {
		switch e.EquipmentID {
		case "laptop-1":
			if !e.Returned || e.Condition != "good" || e.ReturnedAt == nil {
				t.Fatalf("expected laptop to be returned, got %+v", e)
			}
		case "badge-1":
			if e.Returned {
				t.Fatalf("expected badge to stay outstanding, got %+v", e)
			}
		}
	}
	if f.logs.FilterMessage("equipment return for unknown item ignored").Len() != 1 {
		t.Fatalf("expected unknown equipment to be logged")
	}
}

func TestService_UpdateItemStatus_CompletesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.mustChecklist(t)

	steps := []struct {
		department Department
		who        actor.Actor
	}{
		{DepartmentLineManager, actor.New("mgr-1")},
		{DepartmentIT, actor.New("it-1", actor.CapSystemAdmin)},
		{DepartmentFinance, actor.New("fin-1", actor.CapFinance)},
		{DepartmentHREmployee, actor.New("ops-1", actor.CapHROperations)},
	}
	for _, step := range steps {
		res := f.approve(t, c.ID, step.department, step.who)
		if res.Completed || res.Checklist.CardReturned {
			t.Fatalf("checklist completed early after %s", step.department)
		}
	}

	res := f.approve(t, c.ID, DepartmentHR, actor.New("hr-1", actor.CapHRManager))
	if !res.Completed || !res.Checklist.CardReturned {
		t.Fatalf("expected checklist to complete, got %+v", res)
	}
	if res.Settlement == nil || res.Settlement.Record.TerminationID != "sep-1" {
		t.Fatalf("expected settlement outcome, got %+v", res.Settlement)
	}
	if f.settlement.count() != 1 {
		t.Fatalf("expected one settlement trigger, got %d", f.settlement.count())
	}
	if f.separations.approves != 1 {
		t.Fatalf("expected separation approval to be forced once, got %d", f.separations.approves)
	}

	completed := f.notifier.OfKind(notification.KindClearanceCompleted)
	if len(completed) != 2 {
		t.Fatalf("expected employee and hr completion notices, got %+v", completed)
	}

	if _, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{
		ChecklistID: c.ID,
		Department:  DepartmentHR,
		Status:      ItemApproved,
		Actor:       actor.New("hr-1", actor.CapHRManager),
	}); !errors.Is(err, ErrChecklistCompleted) {
		t.Fatalf("expected ErrChecklistCompleted, got %v", err)
	}
	if f.settlement.claims() != 1 {
		t.Fatalf("expected settlement to stay single-shot, got %d claims", f.settlement.claims())
	}
	if len(f.notifier.OfKind(notification.KindClearanceCompleted)) != 2 {
		t.Fatalf("expected no further completion notices")
	}
}

func TestService_UpdateItemStatus_ReapprovalIsNoOp(t *testing.T) {
	t.Parallel()

	events := &memoryAudit{}
	f := newFixture(t, withAudit(events))
	c := f.mustChecklist(t)

	first, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{
		ChecklistID: c.ID,
		Department:  DepartmentLineManager,
		Status:      ItemApproved,
		Comments:    "handover done",
		Actor:       actor.New("mgr-1"),
	})
	if err != nil {
		t.Fatalf("first approval returned error: %v", err)
	}

	again, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{
		ChecklistID: c.ID,
		Department:  DepartmentLineManager,
		Status:      ItemApproved,
		Comments:    "approving again",
		Actor:       actor.New("head-1", actor.CapDepartmentHead),
	})
	if err != nil {
		t.Fatalf("re-approval returned error: %v", err)
	}
	if !again.Unchanged {
		t.Fatalf("expected re-approval to be unchanged, got %+v", again)
	}

	stored, _ := f.repo.FindByID(context.Background(), c.ID)
	item, _ := stored.Item(DepartmentLineManager)
	if item.Version != first.Item.Version || item.UpdatedBy != "mgr-1" || item.Comments != "handover done" {
		t.Fatalf("expected original approval to be kept, got %+v", item)
	}
	if got := len(f.notifier.OfKind(notification.KindClearanceUpdated)); got != 1 {
		t.Fatalf("expected a single update notice, got %d", got)
	}
	if got := events.count(audit.KindItemUpdated); got != 1 {
		t.Fatalf("expected a single item audit event, got %d", got)
	}
}

func TestService_UpdateItemStatus_ReapprovalStillAuthorized(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.mustChecklist(t)
	f.approve(t, c.ID, DepartmentIT, actor.New("it-1", actor.CapSystemAdmin))

	_, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{
		ChecklistID: c.ID,
		Department:  DepartmentIT,
		Status:      ItemApproved,
		Actor:       actor.New("fin-1", actor.CapFinance),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestService_UpdateItemStatus_CompletedChecklistRetriesSettlement(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.settlement.failNext = errors.New("payroll database unavailable")
	c := f.mustChecklist(t)

	f.approve(t, c.ID, DepartmentLineManager, actor.New("mgr-1"))
	f.approve(t, c.ID, DepartmentIT, actor.New("it-1", actor.CapSystemAdmin))
	f.approve(t, c.ID, DepartmentFinance, actor.New("fin-1", actor.CapFinance))
	f.approve(t, c.ID, DepartmentHREmployee, actor.New("ops-1", actor.CapHROperations))
	res := f.approve(t, c.ID, DepartmentHR, actor.New("hr-1", actor.CapHRManager))
	if !res.Completed || res.Settlement != nil {
		t.Fatalf("expected completion with a failed settlement trigger, got %+v", res)
	}
	if f.logs.FilterMessage("settlement trigger failed").Len() != 1 {
		t.Fatalf("expected the trigger failure to be logged")
	}

	_, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{
		ChecklistID: c.ID,
		Department:  DepartmentHR,
		Status:      ItemApproved,
		Actor:       actor.New("hr-1", actor.CapHRManager),
	})
	if !errors.Is(err, ErrChecklistCompleted) {
		t.Fatalf("expected ErrChecklistCompleted, got %v", err)
	}
	if f.settlement.count() != 2 || f.settlement.claims() != 1 {
		t.Fatalf("expected one retry that completes the settlement, got calls=%d claims=%d", f.settlement.count(), f.settlement.claims())
	}
	if f.logs.FilterMessage("settlement resumed for completed checklist").Len() != 1 {
		t.Fatalf("expected the resumed settlement to be logged")
	}
	if f.separations.approves != 1 {
		t.Fatalf("expected completion side effects to stay single-shot, got %d", f.separations.approves)
	}
}

func TestService_UpdateItemStatus_RejectedItemBlocksCompletion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.mustChecklist(t)

	res, err := f.svc.UpdateItemStatus(context.Background(), UpdateItemInput{
		ChecklistID: c.ID,
		Department:  DepartmentIT,
		Status:      ItemRejected,
		Comments:    " laptop missing ",
		Actor:       actor.New("it-1", actor.CapSystemAdmin),
	})
	if err != nil {
		t.Fatalf("UpdateItemStatus returned error: %v", err)
	}
	if res.Item.Status != ItemRejected || res.Item.Comments != "laptop missing" || res.Item.UpdatedBy != "it-1" {
		t.Fatalf("unexpected item: %+v", res.Item)
	}
	if f.directory.Get("emp-1").AccessRevokedAt != nil {
		t.Fatalf("rejection must not revoke access")
	}

	updates := f.notifier.OfKind(notification.KindClearanceUpdated)
	if len(updates) != 1 || updates[0].Recipients[0] != "hr-1" {
		t.Fatalf("expected hr managers to be notified, got %+v", updates)
	}
}

func TestService_GetChecklist_Visibility(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := f.mustChecklist(t)

	for _, who := range []actor.Actor{
		actor.New("emp-1"),
		actor.New("mgr-1"),
		actor.New("fin-1", actor.CapFinance),
	} {
		if _, err := f.svc.GetChecklist(context.Background(), GetChecklistInput{ChecklistID: c.ID, Actor: who}); err != nil {
			t.Fatalf("expected %s to view checklist, got %v", who.ID, err)
		}
	}

	got, err := f.svc.GetChecklist(context.Background(), GetChecklistInput{TerminationID: "sep-1", Actor: actor.New("emp-1")})
	if err != nil || got.ID != c.ID {
		t.Fatalf("expected lookup by termination, got %+v, %v", got, err)
	}

	if _, err := f.svc.GetChecklist(context.Background(), GetChecklistInput{ChecklistID: c.ID, Actor: actor.New("emp-2")}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.GetChecklist(context.Background(), GetChecklistInput{Actor: actor.New("emp-1")}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}
