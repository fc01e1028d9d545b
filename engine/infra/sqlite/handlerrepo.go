package sqlite

import (
	"context"
	"fmt"

	"github.com/caseflow/caseflow/engine/announce"
)

// HandlerRepo persists the handler directory so registrations survive
// restarts. The live routing copy is the in-memory announce.Registry; the
// facade replays this table into it at boot.
type HandlerRepo struct {
	store *Store
}

func NewHandlerRepo(store *Store) *HandlerRepo {
	return &HandlerRepo{store: store}
}

// Save upserts one handler by ref.
func (r *HandlerRepo) Save(ctx context.Context, h *announce.Handler) error {
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO handlers (ref, name, kind, endpoint, token)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			endpoint = excluded.endpoint,
			token = excluded.token`,
		h.Ref, h.Name, string(h.Kind), h.Endpoint, h.Token,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save handler %s: %w", h.Ref, err)
	}
	return nil
}

// Delete removes a handler registration.
func (r *HandlerRepo) Delete(ctx context.Context, ref string) error {
	if _, err := r.store.db.ExecContext(ctx, `DELETE FROM handlers WHERE ref = ?`, ref); err != nil {
		return fmt.Errorf("sqlite: delete handler %s: %w", ref, err)
	}
	return nil
}

// List returns every stored handler ordered by ref.
func (r *HandlerRepo) List(ctx context.Context) ([]*announce.Handler, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT ref, name, kind, endpoint, token FROM handlers ORDER BY ref`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list handlers: %w", err)
	}
	defer rows.Close()
	out := make([]*announce.Handler, 0)
	for rows.Next() {
		var h announce.Handler
		var kind string
		if err := rows.Scan(&h.Ref, &h.Name, &kind, &h.Endpoint, &h.Token); err != nil {
			return nil, fmt.Errorf("sqlite: scan handler: %w", err)
		}
		h.Kind = announce.HandlerKind(kind)
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate handlers: %w", err)
	}
	return out, nil
}
