// Package notificationtest は通知配信のテスト用実装を提供します。
package notificationtest

import (
	"context"
	"sync"

	"github.com/ogurasousui/codex-offboarding/internal/core/notification"
)

// Recorder は送信された通知を記録します。
type Recorder struct {
	mu   sync.Mutex
	sent []notification.Notification
	// FailFor に含まれる受信者宛ての通知はエラーになります。
	FailFor map[string]error
}

// NewRecorder は Recorder を生成します。
func NewRecorder() *Recorder {
	return &Recorder{FailFor: make(map[string]error)}
}

func (r *Recorder) Notify(_ context.Context, n notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range n.Recipients {
		if err, ok := r.FailFor[id]; ok {
			return err
		}
	}
	r.sent = append(r.sent, n)
	return nil
}

// Sent は送信済み通知の複製を返します。
func (r *Recorder) Sent() []notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Notification(nil), r.sent...)
}

// OfKind は指定種別の送信済み通知を返します。
func (r *Recorder) OfKind(kind notification.Kind) []notification.Notification {
	var out []notification.Notification
	for _, n := range r.Sent() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}
