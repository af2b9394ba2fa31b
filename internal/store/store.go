// Package store owns the in-memory project state and the per-workspace
// message log, backed by wholesale per-project records in SQLite.
package store

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/workspace-hub/backend/internal/model"
	"github.com/workspace-hub/backend/internal/repository"
)

// Store is the system of record for projects, workspaces, and their
// ordered message sequences. All reads are served from memory; every
// mutation rewrites the owning project's durable record. A failed
// durable write never undoes or blocks the in-memory mutation.
type Store struct {
	repo *repository.ProjectRepository

	mu       sync.RWMutex
	projects map[string]*projectState
}

// projectState guards one project's record. The durable record is per
// project, so appends to workspaces of the same project serialize here;
// different projects never contend.
type projectState struct {
	mu     sync.Mutex
	record *model.Project
}

// NewStore creates a Store backed by the given repository.
func NewStore(repo *repository.ProjectRepository) *Store {
	return &Store{
		repo:     repo,
		projects: make(map[string]*projectState),
	}
}

// Load reads all project records from the repository. Called once at startup.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects = make(map[string]*projectState, len(records))
	for name, record := range records {
		s.projects[name] = &projectState{record: record}
	}

	return nil
}

// CreateProject registers a new empty project.
func (s *Store) CreateProject(ctx context.Context, name string) error {
	if !model.ValidName(name) {
		return model.ErrInvalidName
	}

	s.mu.Lock()
	if _, exists := s.projects[name]; exists {
		s.mu.Unlock()
		return model.ErrProjectExists
	}
	ps := &projectState{record: model.NewProject()}
	s.projects[name] = ps
	s.mu.Unlock()

	s.persist(ctx, name, ps)
	return nil
}

// CreateWorkspace registers a new empty workspace under a project.
func (s *Store) CreateWorkspace(ctx context.Context, project, name string) error {
	if !model.ValidName(name) {
		return model.ErrInvalidName
	}

	s.mu.RLock()
	ps, exists := s.projects[project]
	s.mu.RUnlock()
	if !exists {
		return model.ErrProjectNotFound
	}

	ps.mu.Lock()
	if _, exists := ps.record.Workspaces[name]; exists {
		ps.mu.Unlock()
		return model.ErrWorkspaceExists
	}
	ps.record.Workspaces[name] = &model.Workspace{Messages: []model.Message{}}
	ps.mu.Unlock()

	s.persist(ctx, project, ps)
	return nil
}

// ProjectSummary lists a project and its workspace names.
type ProjectSummary struct {
	Name       string   `json:"name"`
	Workspaces []string `json:"workspaces"`
}

// Projects returns a summary of all projects, sorted by name.
func (s *Store) Projects() []ProjectSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]ProjectSummary, 0, len(s.projects))
	for name, ps := range s.projects {
		ps.mu.Lock()
		workspaces := make([]string, 0, len(ps.record.Workspaces))
		for w := range ps.record.Workspaces {
			workspaces = append(workspaces, w)
		}
		ps.mu.Unlock()

		sort.Strings(workspaces)
		summaries = append(summaries, ProjectSummary{Name: name, Workspaces: workspaces})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// HasProject reports whether a project exists.
func (s *Store) HasProject(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.projects[name]
	return exists
}

// HasWorkspace reports whether a workspace exists under a project.
func (s *Store) HasWorkspace(project, workspace string) bool {
	s.mu.RLock()
	ps, exists := s.projects[project]
	s.mu.RUnlock()
	if !exists {
		return false
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	_, exists = ps.record.Workspaces[workspace]
	return exists
}

// Append adds a message to a workspace's ordered sequence and rewrites
// the project's durable record. The in-memory append always succeeds;
// a non-nil return is a persistence warning only, and the message is
// already visible to subsequent Messages calls.
func (s *Store) Append(ctx context.Context, project, workspace string, msg model.Message) error {
	ps := s.stateFor(project)

	ps.mu.Lock()
	ws, exists := ps.record.Workspaces[workspace]
	if !exists {
		ws = &model.Workspace{Messages: []model.Message{}}
		ps.record.Workspaces[workspace] = ws
	}
	ws.Messages = append(ws.Messages, msg)
	err := s.repo.Save(ctx, project, ps.record)
	ps.mu.Unlock()

	if err != nil {
		return fmt.Errorf("message %s kept in memory only: %w", msg.ID, err)
	}
	return nil
}

// Messages returns a snapshot copy of a workspace's message sequence in
// append order. Unknown projects or workspaces yield an empty slice.
func (s *Store) Messages(project, workspace string) []model.Message {
	s.mu.RLock()
	ps, exists := s.projects[project]
	s.mu.RUnlock()
	if !exists {
		return []model.Message{}
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ws, exists := ps.record.Workspaces[workspace]
	if !exists {
		return []model.Message{}
	}

	out := make([]model.Message, len(ws.Messages))
	copy(out, ws.Messages)
	return out
}

// stateFor returns the state for a project, creating it if absent.
// Appends targeting an unregistered project still succeed; the record
// materializes on first use.
func (s *Store) stateFor(project string) *projectState {
	s.mu.RLock()
	ps, exists := s.projects[project]
	s.mu.RUnlock()
	if exists {
		return ps
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, exists = s.projects[project]; exists {
		return ps
	}
	ps = &projectState{record: model.NewProject()}
	s.projects[project] = ps
	return ps
}

// persist rewrites a project's durable record, logging failures. Used
// by CRUD mutations where the caller has no channel for the warning.
func (s *Store) persist(ctx context.Context, name string, ps *projectState) {
	ps.mu.Lock()
	err := s.repo.Save(ctx, name, ps.record)
	ps.mu.Unlock()

	if err != nil {
		log.Printf("Failed to persist project %s: %v", name, err)
	}
}
