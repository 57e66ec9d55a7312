// Package directory implements relational CRUD for project metadata
// records. It is mounted beside the coordinator under the same project
// identifier space but is never called by the coordinator actor.
package directory

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/collabd/internal/cerrors"
	"github.com/p-blackswan/collabd/internal/store"
)

// validStatuses are the accepted project status values.
var validStatuses = map[string]bool{
	"planning": true, "active": true, "paused": true,
	"completed": true, "archived": true,
}

// Project is one directory record. Description is nullable: a record may
// carry an explicit null, distinct from the empty string.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CreateInput is the payload for creating a record.
type CreateInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Status      string  `json:"status"`
}

// Patch is a partial update. Only fields explicitly present in the
// request body are applied; DescriptionSet with a nil Description writes
// an explicit null.
type Patch struct {
	Name           *string
	Description    *string
	DescriptionSet bool
	Status         *string
}

// Empty reports whether the patch touches no recognized field.
func (p Patch) Empty() bool {
	return p.Name == nil && !p.DescriptionSet && p.Status == nil
}

// Directory provides project metadata CRUD over the shared database.
type Directory struct {
	ds     *store.Store
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a directory backed by the shared database.
func New(ds *store.Store, logger zerolog.Logger) *Directory {
	return &Directory{
		ds:     ds,
		now:    time.Now,
		logger: logger.With().Str("component", "directory").Logger(),
	}
}

// WithClock overrides the time source, for tests.
func (d *Directory) WithClock(now func() time.Time) *Directory {
	d.now = now
	return d
}

// Create stores a new record with a server-assigned id and equal
// created/updated timestamps.
func (d *Directory) Create(in CreateInput) (*Project, error) {
	if in.Name == "" {
		return nil, cerrors.Invalid("name is required")
	}
	status := in.Status
	if status == "" {
		status = "planning"
	}
	if !validStatuses[status] {
		return nil, cerrors.Invalid(fmt.Sprintf("invalid status %q", status))
	}

	now := d.now().UTC().Truncate(time.Millisecond)
	p := &Project{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Description: in.Description,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := d.ds.DB().Exec(`
		INSERT INTO projects (id, name, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, nullable(p.Description), p.Status, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// List returns all records, newest first.
func (d *Directory) List() ([]*Project, error) {
	rows, err := d.ds.DB().Query(`
		SELECT id, name, description, status, created_at, updated_at
		FROM projects ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get retrieves a record by id. Returns (nil, nil) if absent.
func (d *Directory) Get(id string) (*Project, error) {
	row := d.ds.DB().QueryRow(`
		SELECT id, name, description, status, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Update applies the patch to an existing record. A patch touching zero
// recognized fields is a no-op that returns the unchanged current record
// without issuing a write. Returns (nil, nil) if the id does not exist.
func (d *Directory) Update(id string, patch Patch) (*Project, error) {
	if patch.Status != nil && !validStatuses[*patch.Status] {
		return nil, cerrors.Invalid(fmt.Sprintf("invalid status %q", *patch.Status))
	}

	current, err := d.Get(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	if patch.Empty() {
		return current, nil
	}

	sets := []string{"updated_at = ?"}
	args := []interface{}{d.now().UTC().UnixMilli()}
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.DescriptionSet {
		sets = append(sets, "description = ?")
		args = append(args, nullable(patch.Description))
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE projects SET %s WHERE id = ?`, strings.Join(sets, ", "))
	if _, err := d.ds.DB().Exec(query, args...); err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return d.Get(id)
}

// Delete removes a record. Dependent agent and task rows cascade via the
// store's foreign keys. Returns false if the id does not exist.
func (d *Directory) Delete(id string) (bool, error) {
	res, err := d.ds.DB().Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddAgentRecord registers a dependent agent row for a project. The
// coordinator never writes these rows; they are the seam for importers
// and tooling that mirror project membership into the directory, and
// Delete's cascade covers whatever they record.
func (d *Directory) AddAgentRecord(projectID, agentID, name, role string) error {
	if role == "" {
		role = "fullstack"
	}
	_, err := d.ds.DB().Exec(`
		INSERT INTO agents (id, project_id, name, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, agentID, projectID, name, role, d.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to add agent record: %w", err)
	}
	return nil
}

// AddTaskRecord registers a dependent task row for a project. Written by
// external tooling, not the coordinator; see AddAgentRecord.
func (d *Directory) AddTaskRecord(projectID, taskID, title, status string) error {
	if status == "" {
		status = "todo"
	}
	_, err := d.ds.DB().Exec(`
		INSERT INTO tasks (id, project_id, title, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, taskID, projectID, title, status, d.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to add task record: %w", err)
	}
	return nil
}

// CountDependents returns the number of agent and task rows owned by a
// project.
func (d *Directory) CountDependents(projectID string) (agents, tasks int, err error) {
	if err = d.ds.DB().QueryRow(
		`SELECT COUNT(*) FROM agents WHERE project_id = ?`, projectID,
	).Scan(&agents); err != nil {
		return 0, 0, fmt.Errorf("failed to count agents: %w", err)
	}
	if err = d.ds.DB().QueryRow(
		`SELECT COUNT(*) FROM tasks WHERE project_id = ?`, projectID,
	).Scan(&tasks); err != nil {
		return 0, 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return agents, tasks, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*Project, error) {
	p := &Project{}
	var desc sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.Name, &desc, &p.Status, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	if desc.Valid {
		p.Description = &desc.String
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return p, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
