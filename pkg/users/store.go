// Package users implements the user directory: user records persisted in a
// primary table plus three denormalized lookup indexes (by username, by
// email, by API key) kept in sync by the store.
//
// Every multi-table write runs inside a single transaction, so the
// primary row and its index rows move together. Concurrent updates to the
// same user from different requests can still interleave their
// read-modify-write cycles; the store does not take row locks.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tomewiki/tome/pkg/credentials"
)

// Sentinel errors for create conflicts
var (
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateEmail    = errors.New("email already exists")
)

// Store handles user persistence
type Store struct {
	db     *sql.DB
	hasher *credentials.Hasher
}

// NewStore creates a new user store
func NewStore(db *sql.DB, hasher *credentials.Hasher) *Store {
	return &Store{db: db, hasher: hasher}
}

// Create inserts a user and all three index rows in one transaction.
// Uniqueness of username and email is enforced by the index tables' primary
// keys rather than a pre-check; violations come back as ErrDuplicateUsername
// or ErrDuplicateEmail.
func (s *Store) Create(ctx context.Context, username, email, password, roleID string) (*User, error) {
	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	apiKey, err := credentials.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		RoleID:       roleID,
		APIKey:       apiKey,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, user.ID, user.Username, user.Email, user.PasswordHash, nullable(user.RoleID), user.APIKey, user.IsActive, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users_by_username (username, user_id, password_hash, role_id, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`, user.Username, user.ID, user.PasswordHash, nullable(user.RoleID), user.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to index user by username: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users_by_email (email, user_id)
		VALUES ($1, $2)
	`, user.Email, user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to index user by email: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users_by_api_key (api_key, user_id, is_active)
		VALUES ($1, $2, $3)
	`, user.APIKey, user.ID, user.IsActive)
	if err != nil {
		return nil, fmt.Errorf("failed to index user by api key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user creation: %w", err)
	}

	return user, nil
}

// GetByID retrieves a user by identifier. Returns (nil, nil) when missing.
func (s *Store) GetByID(ctx context.Context, userID string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID))
}

// GetByUsername retrieves a user through the by-username index
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.getViaIndex(ctx,
		`SELECT user_id FROM users_by_username WHERE username = $1`, username)
}

// GetByEmail retrieves a user through the by-email index
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getViaIndex(ctx,
		`SELECT user_id FROM users_by_email WHERE email = $1`, email)
}

// GetByAPIKey resolves an API key to its user. Deactivated users are
// reported as missing. The activation check runs against the primary
// record's live is_active value; the index row's denormalized copy is only
// a pointer, never the authority.
func (s *Store) GetByAPIKey(ctx context.Context, apiKey string) (*User, error) {
	user, err := s.getViaIndex(ctx,
		`SELECT user_id FROM users_by_api_key WHERE api_key = $1`, apiKey)
	if err != nil || user == nil {
		return user, err
	}
	if !user.IsActive {
		return nil, nil
	}
	return user, nil
}

func (s *Store) getViaIndex(ctx context.Context, indexQuery, key string) (*User, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, indexQuery, key).Scan(&userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed index lookup: %w", err)
	}

	return s.GetByID(ctx, userID)
}

// Update applies a partial mutation, re-propagating any changed denormalized
// field to the affected index rows. Unchanged denormalized fields are
// rewritten from the current record (read-modify-write, not a partial
// patch). Returns (nil, nil) when the user does not exist.
func (s *Store) Update(ctx context.Context, userID string, upd Update) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanUser(tx.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID))
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	updated := *current
	oldEmail := current.Email
	if upd.Email != nil {
		updated.Email = *upd.Email
	}
	if upd.PasswordHash != nil {
		updated.PasswordHash = *upd.PasswordHash
	}
	if upd.RoleID != nil {
		updated.RoleID = *upd.RoleID
	}
	if upd.IsActive != nil {
		updated.IsActive = *upd.IsActive
	}
	updated.UpdatedAt = time.Now().UnixMilli()

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET email = $1, password_hash = $2, role_id = $3, is_active = $4, updated_at = $5
		WHERE id = $6
	`, updated.Email, updated.PasswordHash, nullable(updated.RoleID), updated.IsActive, updated.UpdatedAt, updated.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	usernameIndexDirty := upd.PasswordHash != nil || upd.RoleID != nil || upd.IsActive != nil
	if usernameIndexDirty {
		_, err = tx.ExecContext(ctx, `
			UPDATE users_by_username
			SET password_hash = $1, role_id = $2, is_active = $3
			WHERE username = $4
		`, updated.PasswordHash, nullable(updated.RoleID), updated.IsActive, updated.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to update username index: %w", err)
		}
	}

	if upd.Email != nil && updated.Email != oldEmail {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM users_by_email WHERE email = $1`, oldEmail); err != nil {
			return nil, fmt.Errorf("failed to drop old email index: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO users_by_email (email, user_id)
			VALUES ($1, $2)
		`, updated.Email, updated.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrDuplicateEmail
			}
			return nil, fmt.Errorf("failed to index new email: %w", err)
		}
	}

	if upd.IsActive != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE users_by_api_key
			SET is_active = $1
			WHERE api_key = $2
		`, updated.IsActive, updated.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to update api key index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user update: %w", err)
	}

	return &updated, nil
}

// Deactivate soft-deletes a user. The record is never physically removed.
func (s *Store) Deactivate(ctx context.Context, userID string) (*User, error) {
	inactive := false
	return s.Update(ctx, userID, Update{IsActive: &inactive})
}

// Reactivate re-enables a previously deactivated user
func (s *Store) Reactivate(ctx context.Context, userID string) (*User, error) {
	active := true
	return s.Update(ctx, userID, Update{IsActive: &active})
}

// RegenerateAPIKey rotates a user's API key: the old index row is deleted
// and a new one inserted in the same transaction, carrying over the user's
// current activation state. Rotation never changes is_active. Returns an
// empty key when the user does not exist.
func (s *Store) RegenerateAPIKey(ctx context.Context, userID string) (string, error) {
	newKey, err := credentials.GenerateAPIKey()
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldKey string
	var isActive bool
	err = tx.QueryRowContext(ctx,
		`SELECT api_key, is_active FROM users WHERE id = $1`, userID,
	).Scan(&oldKey, &isActive)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load user for key rotation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM users_by_api_key WHERE api_key = $1`, oldKey); err != nil {
		return "", fmt.Errorf("failed to drop old api key index: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET api_key = $1, updated_at = $2 WHERE id = $3
	`, newKey, time.Now().UnixMilli(), userID)
	if err != nil {
		return "", fmt.Errorf("failed to update api key: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users_by_api_key (api_key, user_id, is_active)
		VALUES ($1, $2, $3)
	`, newKey, userID, isActive)
	if err != nil {
		return "", fmt.Errorf("failed to index new api key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit key rotation: %w", err)
	}

	return newKey, nil
}

// Authenticate verifies a username/password pair. A missing user, an
// inactive user, and a wrong password are indistinguishable: all return
// (nil, nil). The bcrypt comparison runs in every branch so response timing
// does not reveal whether the username exists.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if user == nil || !user.IsActive {
		s.hasher.VerifyDummy(password)
		return nil, nil
	}

	if !s.hasher.Verify(user.PasswordHash, password) {
		return nil, nil
	}

	return user, nil
}

// List returns up to limit users as public projections, ordered by creation
// time. There is no cursor; callers re-issue the call for a fresh scan.
func (s *Store) List(ctx context.Context, limit int) ([]PublicUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, role_id, is_active, created_at, updated_at
		FROM users
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var result []PublicUser
	for rows.Next() {
		var u PublicUser
		var roleID sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &roleID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.RoleID = roleID.String
		result = append(result, u)
	}

	return result, rows.Err()
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var roleID sql.NullString

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&roleID,
		&user.APIKey,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.RoleID = roleID.String
	return &user, nil
}

// nullable converts an empty string to SQL NULL
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation reports whether err is a postgres unique constraint
// violation (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
