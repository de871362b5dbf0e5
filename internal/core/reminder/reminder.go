// Package reminder は未処理のクリアランス項目に対するリマインドとエスカレーションを扱います。
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ogurasousui/codex-offboarding/internal/core/actor"
	"github.com/ogurasousui/codex-offboarding/internal/core/clearance"
	"github.com/ogurasousui/codex-offboarding/internal/core/employee"
	"github.com/ogurasousui/codex-offboarding/internal/core/notification"
)

// ErrInvalidPolicy はリマインド設定が不正な場合に返却されます。
var ErrInvalidPolicy = errors.New("reminder: invalid policy")

// Store はリマインド記録の永続化の抽象です。更新は部門単位で行います。
type Store interface {
	// ListWithPending は PENDING の項目を 1 件以上持つチェックリストを返します。
	ListWithPending(ctx context.Context) ([]*clearance.Checklist, error)
	// RecordReminder は送信回数を加算し、更新後の記録を返します。
	RecordReminder(ctx context.Context, checklistID string, department clearance.Department, at time.Time) (clearance.ReminderState, error)
	// ClaimEscalation は未エスカレーションの場合のみ escalated を立て、今回立てたかを返します。
	ClaimEscalation(ctx context.Context, checklistID string, department clearance.Department, at time.Time) (bool, error)
}

// Clock は現在時刻を提供します。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// Metrics はリマインド送信を計測します。
type Metrics interface {
	ReminderSent(department string)
	EscalationSent(department string)
}

type noopMetrics struct{}

func (noopMetrics) ReminderSent(string)   {}
func (noopMetrics) EscalationSent(string) {}

// Policy はリマインドの上限と間隔です。
type Policy struct {
	MaxCount      int
	Interval      time.Duration
	EscalateAfter time.Duration
}

// DefaultPolicy は 3 回まで、3 日間隔、初回から 7 日でエスカレーションする設定を返します。
func DefaultPolicy() Policy {
	return Policy{
		MaxCount:      3,
		Interval:      72 * time.Hour,
		EscalateAfter: 7 * 24 * time.Hour,
	}
}

func (p Policy) validate() error {
	if p.MaxCount <= 0 {
		return fmt.Errorf("%w: max count must be positive", ErrInvalidPolicy)
	}
	if p.Interval <= 0 || p.EscalateAfter <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidPolicy)
	}
	return nil
}

// PassResult は 1 回のリマインド処理の集計です。
type PassResult struct {
	Checklists  int
	Reminders   int
	Escalations int
	Skipped     int
	Failures    int
}

// Dependencies は Scheduler の依存関係です。
type Dependencies struct {
	Store     Store
	Directory employee.Directory
	Notifier  *notification.Dispatcher
	Clock     Clock
	Metrics   Metrics
	Policy    *Policy
	Logger    *zap.Logger
}

// Scheduler はリマインド処理を実行します。
type Scheduler struct {
	store     Store
	directory employee.Directory
	notifier  *notification.Dispatcher
	clock     Clock
	metrics   Metrics
	policy    Policy
	logger    *zap.Logger
}

// NewScheduler は Scheduler を生成します。
func NewScheduler(deps Dependencies) (*Scheduler, error) {
	policy := DefaultPolicy()
	if deps.Policy != nil {
		policy = *deps.Policy
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		store:     deps.Store,
		directory: deps.Directory,
		notifier:  deps.Notifier,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		policy:    policy,
		logger:    deps.Logger,
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// RunPass は未処理項目をすべて走査し、リマインドとエスカレーションを送信します。
// 個別の送信失敗はログに残して処理を継続します。
func (s *Scheduler) RunPass(ctx context.Context, force bool) (PassResult, error) {
	var result PassResult

	checklists, err := s.store.ListWithPending(ctx)
	if err != nil {
		return result, fmt.Errorf("reminder: list pending checklists: %w", err)
	}

	for _, c := range checklists {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checklists++
		for _, item := range c.Pending() {
			s.processItem(ctx, c, item, force, &result)
		}
	}

	s.logger.Info("reminder pass finished",
		zap.Bool("force", force),
		zap.Int("checklists", result.Checklists),
		zap.Int("reminders", result.Reminders),
		zap.Int("escalations", result.Escalations),
		zap.Int("skipped", result.Skipped),
		zap.Int("failures", result.Failures),
	)
	return result, nil
}

func (s *Scheduler) processItem(ctx context.Context, c *clearance.Checklist, item clearance.Item, force bool, result *PassResult) {
	now := s.clock.Now()
	state := c.Reminder(item.Department)

	if s.due(state, now, force) {
		recipients := s.recipients(ctx, item)
		if len(recipients) == 0 {
			result.Skipped++
		} else {
			state = s.remind(ctx, c, item, state, recipients, now, result)
		}
	} else {
		result.Skipped++
	}

	if s.escalationDue(state, now) {
		s.escalate(ctx, c, item, state, now, result)
	}
}

func (s *Scheduler) due(state clearance.ReminderState, now time.Time, force bool) bool {
	if force {
		return true
	}
	if state.Count >= s.policy.MaxCount {
		return false
	}
	if state.LastSentAt != nil && now.Sub(*state.LastSentAt) < s.policy.Interval {
		return false
	}
	return true
}

func (s *Scheduler) escalationDue(state clearance.ReminderState, now time.Time) bool {
	if state.Escalated || state.FirstSentAt == nil {
		return false
	}
	return now.Sub(*state.FirstSentAt) >= s.policy.EscalateAfter
}

func (s *Scheduler) remind(ctx context.Context, c *clearance.Checklist, item clearance.Item, state clearance.ReminderState, recipients []string, now time.Time, result *PassResult) clearance.ReminderState {
	content := map[string]any{
		"checklist_id":  c.ID,
		"separation_id": c.TerminationID,
		"employee_id":   c.EmployeeID,
		"department":    string(item.Department),
		"reminder":      state.Count + 1,
	}
	for _, id := range recipients {
		ok := s.notifier.Send(ctx, notification.Notification{
			Kind:       notification.KindClearanceReminder,
			Recipients: []string{id},
			Subject:    fmt.Sprintf("Clearance pending: %s", item.Department),
			Content:    content,
		})
		if !ok {
			result.Failures++
			continue
		}
		result.Reminders++
		s.metrics.ReminderSent(string(item.Department))
	}

	next, err := s.store.RecordReminder(ctx, c.ID, item.Department, now)
	if err != nil {
		result.Failures++
		s.logger.Warn("reminder state update failed",
			zap.String("checklist_id", c.ID),
			zap.String("department", string(item.Department)),
			zap.Error(err),
		)
		return state
	}
	return next
}

func (s *Scheduler) escalate(ctx context.Context, c *clearance.Checklist, item clearance.Item, state clearance.ReminderState, now time.Time, result *PassResult) {
	recipients := notification.Unique(append(s.holders(ctx, actor.CapHRManager), c.LineManager()))
	if len(recipients) == 0 {
		s.logger.Info("escalation has no recipients",
			zap.String("checklist_id", c.ID),
			zap.String("department", string(item.Department)),
		)
		return
	}

	claimed, err := s.store.ClaimEscalation(ctx, c.ID, item.Department, now)
	if err != nil {
		result.Failures++
		s.logger.Warn("escalation claim failed",
			zap.String("checklist_id", c.ID),
			zap.String("department", string(item.Department)),
			zap.Error(err),
		)
		return
	}
	if !claimed {
		return
	}

	ok := s.notifier.Send(ctx, notification.Notification{
		Kind:       notification.KindClearanceEscalation,
		Recipients: recipients,
		Subject:    fmt.Sprintf("Clearance overdue: %s", item.Department),
		Content: map[string]any{
			"checklist_id":   c.ID,
			"separation_id":  c.TerminationID,
			"employee_id":    c.EmployeeID,
			"department":     string(item.Department),
			"assigned_to":    item.AssignedTo,
			"reminders_sent": state.Count,
			"first_sent_at":  state.FirstSentAt.Format(time.RFC3339),
		},
	})
	if !ok {
		result.Failures++
		return
	}
	result.Escalations++
	s.metrics.EscalationSent(string(item.Department))
}

func (s *Scheduler) recipients(ctx context.Context, item clearance.Item) []string {
	if item.AssignedTo != "" {
		return []string{item.AssignedTo}
	}
	required, ok := clearance.RequiredCapability(item.Department)
	if !ok {
		return nil
	}
	return notification.Unique(s.holders(ctx, required))
}

func (s *Scheduler) holders(ctx context.Context, c actor.Capability) []string {
	ids, err := s.directory.ListByCapability(ctx, c)
	if err != nil {
		s.logger.Warn("capability holder lookup failed", zap.Stringer("capability", c), zap.Error(err))
		return nil
	}
	return ids
}
