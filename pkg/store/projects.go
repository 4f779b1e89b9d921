package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	p := &Project{}
	var fileIDs string
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &fileIDs, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fileIDs), &p.FileIDs); err != nil {
		p.FileIDs = nil
	}
	return p, nil
}

// CreateProject inserts a project record.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	fileIDs, err := json.Marshal(p.FileIDs)
	if err != nil {
		return fmt.Errorf("failed to encode file ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, owner_id, name, description, file_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.Description, string(fileIDs), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// ProjectByID fetches a caller-owned project.
func (s *Store) ProjectByID(ctx context.Context, ownerID, projectID string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, description, file_ids, created_at, updated_at
		 FROM projects WHERE id = ? AND owner_id = ?`,
		projectID, ownerID)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	return p, nil
}

// ListProjects returns the caller's projects, newest first.
func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, description, file_ids, created_at, updated_at
		 FROM projects WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProjectFiles replaces a project's file set.
func (s *Store) UpdateProjectFiles(ctx context.Context, ownerID, projectID string, fileIDs []string) error {
	encoded, err := json.Marshal(fileIDs)
	if err != nil {
		return fmt.Errorf("failed to encode file ids: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET file_ids = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		string(encoded), time.Now().UTC(), projectID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to update project files: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject removes a project and its messages.
func (s *Store) DeleteProject(ctx context.Context, ownerID, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM projects WHERE id = ? AND owner_id = ?`, projectID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM project_messages WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to delete project messages: %w", err)
	}

	return tx.Commit()
}

// AppendMessage persists one chat message under a project.
func (s *Store) AppendMessage(ctx context.Context, m *Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_messages (id, project_id, role, content, sources, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.Role, m.Content, m.Sources, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Messages returns a project's chat history in chronological order.
func (s *Store) Messages(ctx context.Context, ownerID, projectID string) ([]*Message, error) {
	if _, err := s.ProjectByID(ctx, ownerID, projectID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, role, content, sources, created_at
		 FROM project_messages WHERE project_id = ? ORDER BY created_at ASC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Role, &m.Content, &m.Sources, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
