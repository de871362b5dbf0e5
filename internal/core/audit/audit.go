package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind は監査イベントの種別です。
type Kind string

const (
	KindSeparationCreated  Kind = "separation_created"
	KindStatusChanged      Kind = "separation_status_changed"
	KindEmployeeStatus     Kind = "employee_status_changed"
	KindChecklistCreated   Kind = "checklist_created"
	KindItemUpdated        Kind = "clearance_item_updated"
	KindAccessRevoked      Kind = "access_revoked"
	KindEquipmentReturned  Kind = "equipment_returned"
	KindClearanceCompleted Kind = "clearance_completed"
	KindSettlementClaimed  Kind = "settlement_claimed"
	KindSettlementRecorded Kind = "settlement_recorded"
)

// ErrInvalidSeparationID は対象の退職申請 ID が空の場合に返却されます。
var ErrInvalidSeparationID = errors.New("audit: invalid separation id")

// Event は退職申請に紐づく追記専用の監査イベントです。
type Event struct {
	ID           string
	SeparationID string
	Kind         Kind
	ActorID      string
	Detail       map[string]any
	OccurredAt   time.Time
}

// Repository は監査イベント永続化の抽象です。
type Repository interface {
	Append(ctx context.Context, event *Event) error
	ListBySeparation(ctx context.Context, separationID string) ([]*Event, error)
}

// Recorder は監査イベントを記録します。記録失敗は呼び出し元の処理を止めません。
type Recorder struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder は Recorder を生成します。
func NewRecorder(repo Repository, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Record はイベントを追記します。
func (r *Recorder) Record(ctx context.Context, separationID string, kind Kind, actorID string, detail map[string]any) {
	if r == nil || r.repo == nil {
		return
	}
	event := &Event{
		ID:           uuid.NewString(),
		SeparationID: separationID,
		Kind:         kind,
		ActorID:      actorID,
		Detail:       detail,
		OccurredAt:   r.now(),
	}
	if err := r.repo.Append(ctx, event); err != nil {
		r.logger.Warn("audit append failed",
			zap.String("separation_id", separationID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

// List は退職申請のイベントを発生順に返します。
func (r *Recorder) List(ctx context.Context, separationID string) ([]*Event, error) {
	if separationID == "" {
		return nil, ErrInvalidSeparationID
	}
	if r == nil || r.repo == nil {
		return nil, nil
	}
	return r.repo.ListBySeparation(ctx, separationID)
}
