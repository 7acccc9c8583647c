package mapping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"silver/internal/storage"
)

// Known is a curated source-field to target-field hint. Active hints lift
// the similarity score of the pair they name.
type Known struct {
	ID          int64          `db:"id"`
	SourceField string         `db:"source_field"`
	TargetField string         `db:"target_field"`
	Description sql.NullString `db:"description"`
	Active      bool           `db:"active"`
	CreatedAt   time.Time      `db:"created_at"`
}

// KnownStore reads and writes known_field_mappings. Fields are stored
// upper-cased.
type KnownStore struct {
	db  *storage.DB
	log *zap.Logger
}

// NewKnownStore returns a KnownStore.
func NewKnownStore(db *storage.DB, log *zap.Logger) *KnownStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &KnownStore{db: db, log: log.Named("known")}
}

const knownCols = `id, source_field, target_field, description, active, created_at`

// Create adds an active hint.
func (k *KnownStore) Create(ctx context.Context, source, target, description string) (Known, error) {
	source = strings.ToUpper(strings.TrimSpace(source))
	target = strings.ToUpper(strings.TrimSpace(target))
	if source == "" || target == "" {
		return Known{}, errors.New("known: source and target fields are required")
	}
	q := `INSERT INTO ` + k.db.Meta(storage.TableKnownMappings) +
		` (source_field, target_field, description, active, created_at) VALUES (?, ?, ?, ?, ?)`
	id, err := k.db.Dialect.InsertID(ctx, k.db, q, source, target, storage.NullString(description), true, time.Now().UTC())
	if err != nil {
		return Known{}, fmt.Errorf("known: insert %s -> %s: %w", source, target, err)
	}
	k.log.Info("known mapping added", zap.String("source", source), zap.String("target", target))
	return k.Get(ctx, id)
}

// Get returns one hint.
func (k *KnownStore) Get(ctx context.Context, id int64) (Known, error) {
	var out Known
	q := k.db.Rebind(`SELECT ` + knownCols + ` FROM ` + k.db.Meta(storage.TableKnownMappings) + ` WHERE id = ?`)
	err := k.db.GetContext(ctx, &out, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Known{}, fmt.Errorf("known: id %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Known{}, fmt.Errorf("known: get %d: %w", id, err)
	}
	return out, nil
}

// List returns hints newest first; activeOnly drops deactivated ones.
func (k *KnownStore) List(ctx context.Context, activeOnly bool) ([]Known, error) {
	q := `SELECT ` + knownCols + ` FROM ` + k.db.Meta(storage.TableKnownMappings)
	var args []any
	if activeOnly {
		q += ` WHERE active = ?`
		args = append(args, true)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	var out []Known
	if err := k.db.SelectContext(ctx, &out, k.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("known: list: %w", err)
	}
	return out, nil
}

// KnownUpdate lists the fields Update changes; nil fields are kept.
type KnownUpdate struct {
	SourceField *string
	TargetField *string
	Description *string
	Active      *bool
}

// Update edits a hint.
func (k *KnownStore) Update(ctx context.Context, id int64, u KnownUpdate) (Known, error) {
	cur, err := k.Get(ctx, id)
	if err != nil {
		return Known{}, err
	}
	if u.SourceField != nil {
		cur.SourceField = strings.ToUpper(strings.TrimSpace(*u.SourceField))
	}
	if u.TargetField != nil {
		cur.TargetField = strings.ToUpper(strings.TrimSpace(*u.TargetField))
	}
	if u.Description != nil {
		cur.Description = storage.NullString(*u.Description)
	}
	if u.Active != nil {
		cur.Active = *u.Active
	}
	if cur.SourceField == "" || cur.TargetField == "" {
		return Known{}, errors.New("known: source and target fields are required")
	}
	q := k.db.Rebind(`UPDATE ` + k.db.Meta(storage.TableKnownMappings) +
		` SET source_field = ?, target_field = ?, description = ?, active = ? WHERE id = ?`)
	if _, err := k.db.ExecContext(ctx, q, cur.SourceField, cur.TargetField, cur.Description, cur.Active, id); err != nil {
		return Known{}, fmt.Errorf("known: update %d: %w", id, err)
	}
	return cur, nil
}

// Deactivate soft-deletes a hint.
func (k *KnownStore) Deactivate(ctx context.Context, id int64) error {
	off := false
	_, err := k.Update(ctx, id, KnownUpdate{Active: &off})
	return err
}

// Delete removes a hint.
func (k *KnownStore) Delete(ctx context.Context, id int64) error {
	q := k.db.Rebind(`DELETE FROM ` + k.db.Meta(storage.TableKnownMappings) + ` WHERE id = ?`)
	res, err := k.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("known: delete %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("known: id %d: %w", id, ErrNotFound)
	}
	return nil
}

// pairs returns the active hints keyed by (source, target).
func (k *KnownStore) pairs(ctx context.Context) (map[pairKey]bool, error) {
	list, err := k.List(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make(map[pairKey]bool, len(list))
	for _, h := range list {
		out[keyOf(h.SourceField, h.TargetField)] = true
	}
	return out, nil
}
