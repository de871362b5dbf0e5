package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ogurasousui/codex-offboarding/internal/core/notification"
)

// Offboarding は退職手続きに関するカウンタ群です。
type Offboarding struct {
	registry *prometheus.Registry

	remindersSent        *prometheus.CounterVec
	escalations          *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
	settlements          *prometheus.CounterVec
	clearanceUpdates     *prometheus.CounterVec
}

// New は専用レジストリにカウンタを登録した Offboarding を生成します。
func New() *Offboarding {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Offboarding{
		registry: reg,
		remindersSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offboarding_reminders_sent_total",
			Help: "Clearance reminders sent, by department",
		}, []string{"department"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offboarding_escalations_total",
			Help: "Clearance items escalated to HR, by department",
		}, []string{"department"}),
		notificationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offboarding_notification_failures_total",
			Help: "Notifications that could not be delivered, by kind",
		}, []string{"kind"}),
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offboarding_settlements_total",
			Help: "Final settlements recorded, by status",
		}, []string{"status"}),
		clearanceUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offboarding_clearance_updates_total",
			Help: "Clearance item status updates, by department and status",
		}, []string{"department", "status"}),
	}
}

// ReminderSent はリマインド送信を記録します。
func (m *Offboarding) ReminderSent(department string) {
	m.remindersSent.WithLabelValues(department).Inc()
}

// EscalationSent はエスカレーションを記録します。
func (m *Offboarding) EscalationSent(department string) {
	m.escalations.WithLabelValues(department).Inc()
}

// NotificationFailed は通知の配信失敗を記録します。
func (m *Offboarding) NotificationFailed(kind notification.Kind) {
	m.notificationFailures.WithLabelValues(string(kind)).Inc()
}

// SettlementRecorded は精算結果を記録します。
func (m *Offboarding) SettlementRecorded(status string) {
	m.settlements.WithLabelValues(status).Inc()
}

// ClearanceUpdated はクリアランス項目の更新を記録します。
func (m *Offboarding) ClearanceUpdated(department, status string) {
	m.clearanceUpdates.WithLabelValues(department, status).Inc()
}

// Registry は登録先のレジストリを返します。
func (m *Offboarding) Registry() *prometheus.Registry {
	return m.registry
}

// Handler は /metrics 用の HTTP ハンドラを返します。
func (m *Offboarding) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
