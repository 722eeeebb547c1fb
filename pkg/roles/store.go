// Package roles implements the role directory: role records persisted in a
// primary table plus a by-name lookup index kept in sync by the store.
package roles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrDuplicateName is returned when a role name is already taken
var ErrDuplicateName = errors.New("role name already exists")

// Store handles role persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new role store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a role and its by-name index row in one transaction.
// Fails with ErrDuplicateName when the name is already indexed; uniqueness
// is enforced by the index table's primary key rather than a pre-check.
func (s *Store) Create(ctx context.Context, name string, permissions []string, description string) (*Role, error) {
	role := &Role{
		ID:          uuid.NewString(),
		Name:        name,
		Permissions: permissions,
		Description: description,
		CreatedAt:   time.Now().UnixMilli(),
	}

	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO roles (id, role_name, permissions, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, role.ID, role.Name, string(permissionsJSON), role.Description, role.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO roles_by_name (role_name, role_id, permissions)
		VALUES ($1, $2, $3)
	`, role.Name, role.ID, string(permissionsJSON))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("failed to index role by name: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role creation: %w", err)
	}

	return role, nil
}

// GetByID retrieves a role by its identifier. Returns (nil, nil) when the
// role does not exist.
func (s *Store) GetByID(ctx context.Context, roleID string) (*Role, error) {
	return s.scanRole(s.db.QueryRowContext(ctx, `
		SELECT id, role_name, permissions, description, created_at
		FROM roles
		WHERE id = $1
	`, roleID))
}

// GetByName retrieves a role through the by-name index. Returns (nil, nil)
// when the name is not indexed or the primary row is gone.
func (s *Store) GetByName(ctx context.Context, name string) (*Role, error) {
	var roleID string
	err := s.db.QueryRowContext(ctx,
		`SELECT role_id FROM roles_by_name WHERE role_name = $1`, name,
	).Scan(&roleID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up role by name: %w", err)
	}

	return s.GetByID(ctx, roleID)
}

// Exists reports whether a role name is indexed
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM roles_by_name WHERE role_name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check role existence: %w", err)
	}
	return exists, nil
}

// List returns all roles ordered by name
func (s *Store) List(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role_name, permissions, description, created_at
		FROM roles
		ORDER BY role_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var result []Role
	for rows.Next() {
		var role Role
		var permissionsJSON string
		if err := rows.Scan(&role.ID, &role.Name, &permissionsJSON, &role.Description, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
		result = append(result, role)
	}

	return result, rows.Err()
}

// UpdatePermissions overwrites the full permission set on both the primary
// record and the by-name index. The set is replaced, never merged.
func (s *Store) UpdatePermissions(ctx context.Context, roleID string, permissions []string) error {
	permissionsJSON, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE roles SET permissions = $1 WHERE id = $2`,
		string(permissionsJSON), roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role permissions: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE roles_by_name SET permissions = $1 WHERE role_id = $2`,
		string(permissionsJSON), roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role name index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit permission update: %w", err)
	}
	return nil
}

// Delete hard-deletes a role and its index row. The caller is responsible
// for ensuring no user still references the role; the store does not enforce
// referential integrity.
func (s *Store) Delete(ctx context.Context, roleID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM roles_by_name WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role name index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role deletion: %w", err)
	}
	return nil
}

// HasPermission tests permission-set membership. A missing role yields
// false, not an error.
func (s *Store) HasPermission(ctx context.Context, roleID, permission string) (bool, error) {
	role, err := s.GetByID(ctx, roleID)
	if err != nil {
		return false, err
	}
	if role == nil {
		return false, nil
	}
	return role.HasPermission(permission), nil
}

// GetPermissions returns a role's permission set, or nil when the role is
// missing
func (s *Store) GetPermissions(ctx context.Context, roleID string) ([]string, error) {
	role, err := s.GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, nil
	}
	return role.Permissions, nil
}

// InitDefaults idempotently creates any of the three built-in roles not yet
// present. Creation order among missing roles does not matter; a concurrent
// bootstrap racing on the same name is treated as already-created.
func (s *Store) InitDefaults(ctx context.Context) error {
	for _, b := range builtinRoles() {
		exists, err := s.Exists(ctx, b.name)
		if err != nil {
			return fmt.Errorf("failed to check built-in role %q: %w", b.name, err)
		}
		if exists {
			continue
		}

		if _, err := s.Create(ctx, b.name, b.permissions, b.description); err != nil {
			if errors.Is(err, ErrDuplicateName) {
				continue
			}
			return fmt.Errorf("failed to create built-in role %q: %w", b.name, err)
		}
	}
	return nil
}

func (s *Store) scanRole(row *sql.Row) (*Role, error) {
	var role Role
	var permissionsJSON string

	err := row.Scan(&role.ID, &role.Name, &permissionsJSON, &role.Description, &role.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}

	return &role, nil
}

// isUniqueViolation reports whether err is a postgres unique constraint
// violation (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
