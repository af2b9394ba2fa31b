package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/workspace-hub/backend/internal/model"
)

// ProjectRepository provides data access for durable project records.
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Save writes the full record for a project, replacing any prior state.
func (r *ProjectRepository) Save(ctx context.Context, name string, project *model.Project) error {
	state, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("failed to serialize project state: %w", err)
	}

	query := `
		INSERT INTO projects (name, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, name, string(state), time.Now()); err != nil {
		return fmt.Errorf("failed to save project %q: %w", name, err)
	}

	return nil
}

// LoadAll reads every project record. Called once at startup.
func (r *ProjectRepository) LoadAll(ctx context.Context) (map[string]*model.Project, error) {
	query := `SELECT name, state FROM projects`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load projects: %w", err)
	}
	defer rows.Close()

	projects := make(map[string]*model.Project)
	for rows.Next() {
		var name, state string
		if err := rows.Scan(&name, &state); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}

		project := model.NewProject()
		if err := json.Unmarshal([]byte(state), project); err != nil {
			return nil, fmt.Errorf("failed to parse state for project %q: %w", name, err)
		}
		if project.Workspaces == nil {
			project.Workspaces = make(map[string]*model.Workspace)
		}

		projects[name] = project
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return projects, nil
}

// Delete removes a project record.
func (r *ProjectRepository) Delete(ctx context.Context, name string) error {
	query := `DELETE FROM projects WHERE name = ?`

	result, err := r.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrProjectNotFound
	}

	return nil
}
