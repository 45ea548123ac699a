package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// JournalRepo implements repository.Journal using PostgreSQL.
type JournalRepo struct{ db *DB }

// NewJournalRepo constructs a write journal repository.
func NewJournalRepo(db *DB) *JournalRepo { return &JournalRepo{db: db} }

var _ repository.Journal = (*JournalRepo)(nil)

// Append inserts a failed write.
func (r *JournalRepo) Append(ctx context.Context, e model.JournalEntry) error {
	patch, err := json.Marshal(e.Patch)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO write_journal (id, op, collection, doc_id, patch, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = r.db.Pool.Exec(ctx, q, e.ID, e.Op, e.Collection, e.DocID, patch, e.Error, e.CreatedAt)
	return err
}

// Pending lists unresolved entries in the order they were recorded.
func (r *JournalRepo) Pending(ctx context.Context) ([]model.JournalEntry, error) {
	const q = `
SELECT id, op, collection, doc_id, patch, error, created_at
FROM write_journal
WHERE resolved_at IS NULL
ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.JournalEntry
	for rows.Next() {
		var (
			e   model.JournalEntry
			raw []byte
		)
		if err = rows.Scan(&e.ID, &e.Op, &e.Collection, &e.DocID, &raw, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Patch, err = decodeDoc(raw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Resolve stamps resolved_at on an entry.
func (r *JournalRepo) Resolve(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE write_journal SET resolved_at=$2 WHERE id=$1 AND resolved_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
