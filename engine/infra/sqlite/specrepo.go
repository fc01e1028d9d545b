package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/caseflow/caseflow/engine/core"
)

// SpecRecord is the persisted form of a loaded specification. Document
// holds the raw YAML source so the exact definition can be re-decoded and
// exported later.
type SpecRecord struct {
	ID        string
	Name      string
	Version   string
	Document  []byte
	CreatedAt time.Time
}

// SpecRepo is the specification library.
type SpecRepo struct {
	store *Store
}

func NewSpecRepo(store *Store) *SpecRepo {
	return &SpecRepo{store: store}
}

// Save inserts a specification. A record with the same id is a conflict;
// new versions get new ids.
func (r *SpecRepo) Save(ctx context.Context, rec *SpecRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO specifications (id, name, version, document, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Version, rec.Document, encodeTime(rec.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: specification %s: %w", rec.ID, core.ErrConflict)
		}
		return fmt.Errorf("sqlite: save specification %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one specification by id.
func (r *SpecRepo) Get(ctx context.Context, id string) (*SpecRecord, error) {
	row := r.store.db.QueryRowContext(ctx, `
		SELECT id, name, version, document, created_at
		FROM specifications WHERE id = ?`, id)
	return scanSpec(row)
}

// List returns every stored specification ordered by creation time.
func (r *SpecRepo) List(ctx context.Context) ([]*SpecRecord, error) {
	query, args, err := sq.Select("id", "name", "version", "document", "created_at").
		From("specifications").
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build specification query: %w", err)
	}
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list specifications: %w", err)
	}
	defer rows.Close()
	out := make([]*SpecRecord, 0)
	for rows.Next() {
		rec, err := scanSpec(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate specifications: %w", err)
	}
	return out, nil
}

// Delete removes a specification. Callers must ensure no live case still
// references it; the foreign key on cases enforces the rest.
func (r *SpecRepo) Delete(ctx context.Context, id string) error {
	res, err := r.store.db.ExecContext(ctx, `DELETE FROM specifications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete specification %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete specification %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("sqlite: specification %s: %w", id, core.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpec(row rowScanner) (*SpecRecord, error) {
	var rec SpecRecord
	var createdAt string
	err := row.Scan(&rec.ID, &rec.Name, &rec.Version, &rec.Document, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: specification: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan specification: %w", err)
	}
	if rec.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
