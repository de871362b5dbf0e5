package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ogurasousui/codex-offboarding/internal/core/audit"
	pgdb "github.com/ogurasousui/codex-offboarding/internal/platform/db/postgres"
)

const (
	appendEventQuery = `
        INSERT INTO separation_events (id, separation_id, kind, actor_id, detail, occurred_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `

	listEventsQuery = `
        SELECT id, separation_id, kind, actor_id, detail, occurred_at
          FROM separation_events
         WHERE separation_id = $1
         ORDER BY occurred_at, id
    `
)

// ErrEventSeparationNotFound はイベントの対象となる退職申請が存在しない場合に返却されます。
var ErrEventSeparationNotFound = errors.New("postgres: separation for event not found")

// AuditRepository は監査イベントの追記専用ストアです。
type AuditRepository struct {
	pool pgdb.Queryer
}

// NewAuditRepository は AuditRepository を生成します。
func NewAuditRepository(pool pgdb.Queryer) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append はイベントを追記します。
func (r *AuditRepository) Append(ctx context.Context, event *audit.Event) error {
	detail := event.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: encode event detail: %w", err)
	}

	exec := pgdb.QueryerFromContext(ctx, r.pool)
	if _, err := exec.Exec(ctx, appendEventQuery,
		event.ID,
		event.SeparationID,
		string(event.Kind),
		event.ActorID,
		payload,
		event.OccurredAt,
	); err != nil {
		if pgErr, ok := pgErrorCode(err); ok && pgErr.Code == foreignKeyViolationCode {
			return ErrEventSeparationNotFound
		}
		return err
	}
	return nil
}

// ListBySeparation は退職申請のイベントを発生順に返します。
func (r *AuditRepository) ListBySeparation(ctx context.Context, separationID string) ([]*audit.Event, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, listEventsQuery, separationID)
	if err != nil {
		if isInvalidIdentifier(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var events []*audit.Event
	for rows.Next() {
		var (
			e       audit.Event
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.SeparationID, &kind, &e.ActorID, &payload, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Kind = audit.Kind(kind)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode event detail: %w", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
