package notification

import (
	"context"

	"go.uber.org/zap"
)

// Kind は通知の種別です。
type Kind string

const (
	KindResignationSubmitted Kind = "resignation_submitted"
	KindTerminationInitiated Kind = "termination_initiated"
	KindSeparationStatus     Kind = "separation_status_changed"
	KindAccessFollowUp       Kind = "access_revocation_follow_up"
	KindClearanceUpdated     Kind = "clearance_item_updated"
	KindClearanceCompleted   Kind = "clearance_completed"
	KindClearanceReminder    Kind = "clearance_reminder"
	KindClearanceEscalation  Kind = "clearance_escalation"
	KindSettlementSummary    Kind = "settlement_summary"
)

// Channel は配信チャネルです。
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
)

// Notification は配信依頼 1 件分です。Recipients か Address のどちらかを指定します。
type Notification struct {
	Kind       Kind
	Channel    Channel
	Recipients []string
	Address    string
	Subject    string
	Content    map[string]any
}

// Notifier は通知配信の抽象です。
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// FailureCounter は配信失敗を計測します。
type FailureCounter interface {
	NotificationFailed(kind Kind)
}

// Dispatcher は配信失敗を呼び出し元に返さないベストエフォート配信を行います。
type Dispatcher struct {
	notifier Notifier
	logger   *zap.Logger
	failures FailureCounter
}

// NewDispatcher は Dispatcher を生成します。notifier が nil の場合は何も送信しません。
func NewDispatcher(notifier Notifier, logger *zap.Logger, failures FailureCounter) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{notifier: notifier, logger: logger, failures: failures}
}

// Send は通知を送信し、成功したかを返します。
func (d *Dispatcher) Send(ctx context.Context, n Notification) bool {
	if d == nil || d.notifier == nil {
		return false
	}
	if len(n.Recipients) == 0 && n.Address == "" {
		return false
	}
	if n.Channel == "" {
		n.Channel = ChannelInApp
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.logger.Warn("notification dispatch failed",
			zap.String("kind", string(n.Kind)),
			zap.Strings("recipients", n.Recipients),
			zap.Error(err),
		)
		if d.failures != nil {
			d.failures.NotificationFailed(n.Kind)
		}
		return false
	}
	return true
}

// Unique は重複と空文字を除いた受信者一覧を返します。exclude に含まれる ID は除外されます。
func Unique(ids []string, exclude ...string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := skip[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
