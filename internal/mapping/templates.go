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

// Placeholders every prompt template must contain.
const (
	PlaceholderSourceFields  = "{source_fields}"
	PlaceholderTargetColumns = "{target_columns}"
)

var (
	// ErrTemplateExists reports a template id collision.
	ErrTemplateExists = errors.New("prompt: template already exists")
	// ErrDefaultTemplate guards the seeded default template.
	ErrDefaultTemplate = errors.New("prompt: the default template cannot be deleted or deactivated")
)

// Template is one row of llm_prompt_templates.
type Template struct {
	ID          string         `db:"template_id"`
	Name        string         `db:"template_name"`
	Text        string         `db:"template_text"`
	Description sql.NullString `db:"description"`
	Active      bool           `db:"active"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Render substitutes the source field and target column lists.
func (t Template) Render(sourceFields, targetColumns []string) string {
	r := strings.NewReplacer(
		PlaceholderSourceFields, strings.Join(sourceFields, ", "),
		PlaceholderTargetColumns, strings.Join(targetColumns, ", "),
	)
	return r.Replace(t.Text)
}

// TemplateStore reads and writes llm_prompt_templates.
type TemplateStore struct {
	db  *storage.DB
	log *zap.Logger
	now func() time.Time
}

// NewTemplateStore returns a TemplateStore.
func NewTemplateStore(db *storage.DB, log *zap.Logger) *TemplateStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &TemplateStore{db: db, log: log.Named("prompt"), now: func() time.Time { return time.Now().UTC() }}
}

const templateCols = `template_id, template_name, template_text, description, active, created_at, updated_at`

// TemplateID normalizes a user-chosen identifier: upper case, spaces
// replaced by underscores.
func TemplateID(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), " ", "_")
}

func checkTemplateText(text string) error {
	var missing []string
	for _, p := range []string{PlaceholderSourceFields, PlaceholderTargetColumns} {
		if !strings.Contains(text, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("prompt: template text must contain %s", strings.Join(missing, " and "))
	}
	return nil
}

// Create adds an active template.
func (s *TemplateStore) Create(ctx context.Context, id, name, text, description string) (Template, error) {
	id = TemplateID(id)
	if id == "" || strings.TrimSpace(name) == "" {
		return Template{}, errors.New("prompt: template id and name are required")
	}
	if err := checkTemplateText(text); err != nil {
		return Template{}, err
	}
	now := s.now()
	q := s.db.Rebind(`INSERT INTO ` + s.db.Meta(storage.TablePrompts) + ` (` + templateCols + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, id, strings.TrimSpace(name), text, storage.NullString(description), true, now, now); err != nil {
		if s.db.Dialect.IsUniqueViolation(err) {
			return Template{}, fmt.Errorf("%w: %s", ErrTemplateExists, id)
		}
		return Template{}, fmt.Errorf("prompt: insert %s: %w", id, err)
	}
	s.log.Info("prompt template added", zap.String("id", id))
	return s.Get(ctx, id)
}

// Get returns one template.
func (s *TemplateStore) Get(ctx context.Context, id string) (Template, error) {
	var t Template
	q := s.db.Rebind(`SELECT ` + templateCols + ` FROM ` + s.db.Meta(storage.TablePrompts) + ` WHERE template_id = ?`)
	err := s.db.GetContext(ctx, &t, q, TemplateID(id))
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, fmt.Errorf("prompt: template %s: %w", TemplateID(id), ErrNotFound)
	}
	if err != nil {
		return Template{}, fmt.Errorf("prompt: get %s: %w", id, err)
	}
	return t, nil
}

// List returns templates ordered by id.
func (s *TemplateStore) List(ctx context.Context, activeOnly bool) ([]Template, error) {
	q := `SELECT ` + templateCols + ` FROM ` + s.db.Meta(storage.TablePrompts)
	var args []any
	if activeOnly {
		q += ` WHERE active = ?`
		args = append(args, true)
	}
	q += ` ORDER BY template_id`
	var out []Template
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("prompt: list: %w", err)
	}
	return out, nil
}

// TemplateUpdate lists the fields Update changes; nil fields are kept.
type TemplateUpdate struct {
	Name        *string
	Text        *string
	Description *string
}

// Update edits a template.
func (s *TemplateStore) Update(ctx context.Context, id string, u TemplateUpdate) (Template, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Template{}, err
	}
	if u.Name != nil {
		cur.Name = strings.TrimSpace(*u.Name)
	}
	if u.Text != nil {
		if err := checkTemplateText(*u.Text); err != nil {
			return Template{}, err
		}
		cur.Text = *u.Text
	}
	if u.Description != nil {
		cur.Description = storage.NullString(*u.Description)
	}
	cur.UpdatedAt = s.now()
	q := s.db.Rebind(`UPDATE ` + s.db.Meta(storage.TablePrompts) +
		` SET template_name = ?, template_text = ?, description = ?, updated_at = ? WHERE template_id = ?`)
	if _, err := s.db.ExecContext(ctx, q, cur.Name, cur.Text, cur.Description, cur.UpdatedAt, cur.ID); err != nil {
		return Template{}, fmt.Errorf("prompt: update %s: %w", cur.ID, err)
	}
	return cur, nil
}

// SetActive enables or disables a template.
func (s *TemplateStore) SetActive(ctx context.Context, id string, active bool) error {
	id = TemplateID(id)
	if !active && id == storage.DefaultPromptID {
		return ErrDefaultTemplate
	}
	q := s.db.Rebind(`UPDATE ` + s.db.Meta(storage.TablePrompts) + ` SET active = ?, updated_at = ? WHERE template_id = ?`)
	res, err := s.db.ExecContext(ctx, q, active, s.now(), id)
	if err != nil {
		return fmt.Errorf("prompt: set active %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("prompt: template %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes a template. The default template is protected.
func (s *TemplateStore) Delete(ctx context.Context, id string) error {
	id = TemplateID(id)
	if id == storage.DefaultPromptID {
		return ErrDefaultTemplate
	}
	q := s.db.Rebind(`DELETE FROM ` + s.db.Meta(storage.TablePrompts) + ` WHERE template_id = ?`)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("prompt: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("prompt: template %s: %w", id, ErrNotFound)
	}
	return nil
}
