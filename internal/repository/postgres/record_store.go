package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/waitgate/internal/errs"
	"github.com/and161185/waitgate/internal/model"
	"github.com/and161185/waitgate/internal/repository"
	"github.com/jackc/pgx/v5"
)

// RecordStore implements repository.RecordStore with one jsonb table per
// collection. Each table has an AFTER trigger notifying "<table>_changes".
type RecordStore struct{ db *DB }

// NewRecordStore constructs a record store.
func NewRecordStore(db *DB) *RecordStore { return &RecordStore{db: db} }

var _ repository.RecordStore = (*RecordStore)(nil)

// table maps a collection to its table. Collection names are whitelisted
// because they are interpolated into SQL.
func table(collection string) (string, error) {
	if !repository.ValidCollection(collection) {
		return "", fmt.Errorf("%w: unknown collection %q", errs.ErrValidation, collection)
	}
	return collection, nil
}

// Get loads a document by id.
func (r *RecordStore) Get(ctx context.Context, collection, id string) (model.Document, error) {
	t, err := table(collection)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT doc FROM %s WHERE id=$1`, t)
	var raw []byte
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return decodeDoc(raw)
}

// List returns matching documents, most recently written first.
func (r *RecordStore) List(ctx context.Context, collection string, q repository.Query) ([]model.Document, error) {
	t, err := table(collection)
	if err != nil {
		return nil, err
	}
	var (
		sql  string
		args []any
	)
	if q.IsZero() {
		sql = fmt.Sprintf(`SELECT doc FROM %s ORDER BY updated_at DESC`, t)
	} else {
		sql = fmt.Sprintf(`SELECT doc FROM %s WHERE doc->>$1 = $2 ORDER BY updated_at DESC`, t)
		args = []any{q.Field, q.Equals}
	}
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		var raw []byte
		if err = rows.Scan(&raw); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// MergeWrite upserts the document; jsonb || keeps the merge shallow.
func (r *RecordStore) MergeWrite(ctx context.Context, collection, id string, patch model.Document) error {
	t, err := table(collection)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty id", errs.ErrValidation)
	}
	body, err := encodePatch(id, patch)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`
INSERT INTO %[1]s (id, doc) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET doc = %[1]s.doc || EXCLUDED.doc, updated_at = now()`, t)
	_, err = r.db.Pool.Exec(ctx, q, id, body)
	return err
}

// Subscribe listens on the collection's notify channel and emits a fresh
// snapshot first and then after every change.
func (r *RecordStore) Subscribe(ctx context.Context, collection string, q repository.Query) (*repository.Subscription, error) {
	t, err := table(collection)
	if err != nil {
		return nil, err
	}
	if r.db.Listen == nil {
		return nil, errors.New("postgres: listener not configured")
	}
	channel := t + "_changes"

	return repository.NewSubscription(ctx, func(ctx context.Context, emit func([]model.Document) error) error {
		conn, err := r.db.Listen(ctx)
		if err != nil {
			return fmt.Errorf("acquire listen conn: %w", err)
		}
		defer conn.Release()

		if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return fmt.Errorf("listen %s: %w", channel, err)
		}
		defer func() {
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = conn.Exec(uctx, "UNLISTEN "+channel)
		}()

		for {
			docs, err := r.List(ctx, collection, q)
			if err != nil {
				return err
			}
			if err := emit(docs); err != nil {
				return err
			}
			if _, err := conn.WaitForNotification(ctx); err != nil {
				return err
			}
		}
	}), nil
}

func encodePatch(id string, patch model.Document) ([]byte, error) {
	doc := make(model.Document, len(patch)+1)
	for k, v := range patch {
		doc[k] = v
	}
	doc[model.FieldID] = id
	return json.Marshal(doc)
}

func decodeDoc(raw []byte) (model.Document, error) {
	doc := model.Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
