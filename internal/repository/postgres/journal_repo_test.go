package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestJournalRepo_AppendPendingResolve(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewJournalRepo(db)
	ctx := context.Background()

	id := uuid.Must(uuid.NewV4())
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := model.JournalEntry{
		ID: id, Op: "approve", Collection: model.CollectionUsers, DocID: "u1",
		Patch: model.Document{"role": "regular"}, Error: "timeout", CreatedAt: at,
	}

	mock.ExpectExec(`INSERT INTO write_journal \(id, op, collection, doc_id, patch, error, created_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\)`).
		WithArgs(id, "approve", "users", "u1", []byte(`{"role":"regular"}`), "timeout", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Append(ctx, e))

	mock.ExpectQuery(`SELECT id, op, collection, doc_id, patch, error, created_at FROM write_journal WHERE resolved_at IS NULL ORDER BY created_at ASC`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "op", "collection", "doc_id", "patch", "error", "created_at"}).
			AddRow(id, "approve", "users", "u1", []byte(`{"role":"regular"}`), "timeout", at))
	pending, err := r.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "regular", pending[0].Patch["role"])

	mock.ExpectExec(`UPDATE write_journal SET resolved_at=\$2 WHERE id=\$1 AND resolved_at IS NULL`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Resolve(ctx, id, at))

	mock.ExpectExec(`UPDATE write_journal SET resolved_at=\$2 WHERE id=\$1 AND resolved_at IS NULL`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.Resolve(ctx, id, at), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
