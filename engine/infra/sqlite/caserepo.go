package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/runner"
	"github.com/caseflow/caseflow/engine/spec"
	"github.com/caseflow/caseflow/engine/workitem"
)

// CaseRepo journals case snapshots and work items. It implements
// runner.Journal so the runner persists before announcing.
type CaseRepo struct {
	store *Store
}

func NewCaseRepo(store *Store) *CaseRepo {
	return &CaseRepo{store: store}
}

// SaveCase writes the snapshot and the full work-item set in one
// transaction. Items are replaced wholesale; the set is small and the
// delete keeps the journal free of drift.
func (r *CaseRepo) SaveCase(ctx context.Context, snap *runner.Snapshot, items []*workitem.Item) error {
	marking, err := json.Marshal(snap.Marking)
	if err != nil {
		return fmt.Errorf("sqlite: encode marking for case %s: %w", snap.CaseID, err)
	}
	data, err := json.Marshal(snap.Data)
	if err != nil {
		return fmt.Errorf("sqlite: encode data for case %s: %w", snap.CaseID, err)
	}
	subruns, err := json.Marshal(snap.Subruns)
	if err != nil {
		return fmt.Errorf("sqlite: encode subruns for case %s: %w", snap.CaseID, err)
	}
	now := encodeTime(time.Now().UTC())
	return r.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cases (id, spec_id, status, marking, data, subruns, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				marking = excluded.marking,
				data = excluded.data,
				subruns = excluded.subruns,
				updated_at = excluded.updated_at`,
			snap.CaseID, snap.SpecID, string(snap.Status),
			string(marking), string(data), string(subruns), now, now,
		)
		if err != nil {
			return fmt.Errorf("sqlite: upsert case %s: %w", snap.CaseID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM work_items WHERE case_id = ?`, snap.CaseID); err != nil {
			return fmt.Errorf("sqlite: clear work items for case %s: %w", snap.CaseID, err)
		}
		for _, item := range items {
			if err := insertItem(ctx, tx, snap.CaseID, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertItem(ctx context.Context, tx *sql.Tx, caseID string, item *workitem.Item) error {
	input, err := json.Marshal(item.Input)
	if err != nil {
		return fmt.Errorf("sqlite: encode input for item %s: %w", item.ID, err)
	}
	output, err := json.Marshal(item.Output)
	if err != nil {
		return fmt.Errorf("sqlite: encode output for item %s: %w", item.ID, err)
	}
	var profile any
	if item.Profile != nil {
		raw, err := json.Marshal(item.Profile)
		if err != nil {
			return fmt.Errorf("sqlite: encode profile for item %s: %w", item.ID, err)
		}
		profile = string(raw)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_items (
			case_id, id, task_id, identifier_path, parent_id, status,
			input, output, handler_ref, profile,
			enabled_at, started_at, completed_at, timer_expiry
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		caseID, item.ID, item.TaskID, item.IdentifierPath, item.ParentID, string(item.Status),
		string(input), string(output), item.HandlerRef, profile,
		encodeTime(item.EnabledAt), encodeTimePtr(item.StartedAt),
		encodeTimePtr(item.CompletedAt), encodeTimePtr(item.TimerExpiry),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert work item %s: %w", item.ID, err)
	}
	return nil
}

// LoadCase rebuilds a snapshot and its work items.
func (r *CaseRepo) LoadCase(ctx context.Context, caseID string) (*runner.Snapshot, []*workitem.Item, error) {
	row := r.store.db.QueryRowContext(ctx, `
		SELECT id, spec_id, status, marking, data, subruns
		FROM cases WHERE id = ?`, caseID)
	snap, err := scanSnapshot(row)
	if err != nil {
		return nil, nil, err
	}
	items, err := r.listItems(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	return snap, items, nil
}

// ListByStatus returns snapshots of every case in one of the given
// statuses. With no statuses it returns everything.
func (r *CaseRepo) ListByStatus(ctx context.Context, statuses ...runner.Status) ([]*runner.Snapshot, error) {
	builder := sq.Select("id", "spec_id", "status", "marking", "data", "subruns").
		From("cases").
		OrderBy("created_at", "id")
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, status := range statuses {
			values[i] = string(status)
		}
		builder = builder.Where(sq.Eq{"status": values})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build case query: %w", err)
	}
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list cases: %w", err)
	}
	defer rows.Close()
	out := make([]*runner.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate cases: %w", err)
	}
	return out, nil
}

// ListActive returns every case whose status is not terminal, for crash
// recovery at boot.
func (r *CaseRepo) ListActive(ctx context.Context) ([]*runner.Snapshot, error) {
	snaps, err := r.ListByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*runner.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Status.Terminal() {
			out = append(out, snap)
		}
	}
	return out, nil
}

// CountActiveBySpec reports how many non-terminal cases reference a
// specification. Used to guard specification unload.
func (r *CaseRepo) CountActiveBySpec(ctx context.Context, specID string) (int, error) {
	snaps, err := r.ListByStatus(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, snap := range snaps {
		if snap.SpecID == specID && !snap.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (r *CaseRepo) listItems(ctx context.Context, caseID string) ([]*workitem.Item, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT case_id, id, task_id, identifier_path, parent_id, status,
		       input, output, handler_ref, profile,
		       enabled_at, started_at, completed_at, timer_expiry
		FROM work_items WHERE case_id = ? ORDER BY enabled_at, id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list work items for case %s: %w", caseID, err)
	}
	defer rows.Close()
	out := make([]*workitem.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate work items for case %s: %w", caseID, err)
	}
	return out, nil
}

func scanSnapshot(row rowScanner) (*runner.Snapshot, error) {
	var snap runner.Snapshot
	var status, marking, data, subruns string
	err := row.Scan(&snap.CaseID, &snap.SpecID, &status, &marking, &data, &subruns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: case: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan case: %w", err)
	}
	snap.Status = runner.Status(status)
	if err := json.Unmarshal([]byte(marking), &snap.Marking); err != nil {
		return nil, fmt.Errorf("sqlite: decode marking for case %s: %w", snap.CaseID, err)
	}
	if err := json.Unmarshal([]byte(data), &snap.Data); err != nil {
		return nil, fmt.Errorf("sqlite: decode data for case %s: %w", snap.CaseID, err)
	}
	if err := json.Unmarshal([]byte(subruns), &snap.Subruns); err != nil {
		return nil, fmt.Errorf("sqlite: decode subruns for case %s: %w", snap.CaseID, err)
	}
	return &snap, nil
}

func scanItem(row rowScanner) (*workitem.Item, error) {
	var item workitem.Item
	var status, input, output, enabledAt string
	var profile, startedAt, completedAt, timerExpiry sql.NullString
	err := row.Scan(
		&item.CaseID, &item.ID, &item.TaskID, &item.IdentifierPath, &item.ParentID, &status,
		&input, &output, &item.HandlerRef, &profile,
		&enabledAt, &startedAt, &completedAt, &timerExpiry,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan work item: %w", err)
	}
	item.Status = workitem.Status(status)
	if err := json.Unmarshal([]byte(input), &item.Input); err != nil {
		return nil, fmt.Errorf("sqlite: decode input for item %s: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(output), &item.Output); err != nil {
		return nil, fmt.Errorf("sqlite: decode output for item %s: %w", item.ID, err)
	}
	if profile.Valid && profile.String != "" {
		var decoded spec.ExecutionProfile
		if err := json.Unmarshal([]byte(profile.String), &decoded); err != nil {
			return nil, fmt.Errorf("sqlite: decode profile for item %s: %w", item.ID, err)
		}
		item.Profile = &decoded
	}
	if item.EnabledAt, err = decodeTime(enabledAt); err != nil {
		return nil, err
	}
	if item.StartedAt, err = decodeTimePtr(startedAt); err != nil {
		return nil, err
	}
	if item.CompletedAt, err = decodeTimePtr(completedAt); err != nil {
		return nil, err
	}
	if item.TimerExpiry, err = decodeTimePtr(timerExpiry); err != nil {
		return nil, err
	}
	return &item, nil
}
