package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/eventlog"
)

// EventRepo is the durable append-only event log. The seq column gives
// the total order; event ids stay unique across restarts.
type EventRepo struct {
	store *Store
}

func NewEventRepo(store *Store) *EventRepo {
	return &EventRepo{store: store}
}

var _ eventlog.Log = (*EventRepo)(nil)

func (r *EventRepo) Append(ctx context.Context, event *eventlog.Event) error {
	var payload any
	if event.Payload != nil {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("sqlite: encode event payload: %w", err)
		}
		payload = string(raw)
	}
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO events (id, case_id, task_id, work_item_id, kind, timestamp, actor, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(event.ID), event.CaseID, event.TaskID, event.WorkItemID,
		string(event.Kind), encodeTime(event.Timestamp), event.Actor, payload,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append event: %w", err)
	}
	return nil
}

func (r *EventRepo) ListByCase(ctx context.Context, caseID string) ([]*eventlog.Event, error) {
	query, args, err := sq.Select(eventColumns()...).
		From("events").
		Where(sq.Eq{"case_id": caseID}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build event query: %w", err)
	}
	return r.query(ctx, query, args...)
}

func (r *EventRepo) List(ctx context.Context, limit int) ([]*eventlog.Event, error) {
	builder := sq.Select(eventColumns()...).From("events").OrderBy("seq DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build event query: %w", err)
	}
	events, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// Newest-first from the query, oldest-first for callers.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func eventColumns() []string {
	return []string{"id", "case_id", "task_id", "work_item_id", "kind", "timestamp", "actor", "payload"}
}

func (r *EventRepo) query(ctx context.Context, query string, args ...any) ([]*eventlog.Event, error) {
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query events: %w", err)
	}
	defer rows.Close()
	out := make([]*eventlog.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate events: %w", err)
	}
	return out, nil
}

func scanEvent(row rowScanner) (*eventlog.Event, error) {
	var event eventlog.Event
	var id, kind, timestamp string
	var payload sql.NullString
	err := row.Scan(&id, &event.CaseID, &event.TaskID, &event.WorkItemID,
		&kind, &timestamp, &event.Actor, &payload)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan event: %w", err)
	}
	event.ID = core.ID(id)
	event.Kind = eventlog.Kind(kind)
	if event.Timestamp, err = decodeTime(timestamp); err != nil {
		return nil, err
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &event.Payload); err != nil {
			return nil, fmt.Errorf("sqlite: decode event payload: %w", err)
		}
	}
	return &event, nil
}
