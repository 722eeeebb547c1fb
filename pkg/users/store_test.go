package users

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomewiki/tome/pkg/credentials"
)

var testHasher = credentials.NewHasher(4)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewStore(db, testHasher), mock, db
}

func userColumns() []string {
	return []string{"id", "username", "email", "password_hash", "role_id", "api_key", "is_active", "created_at", "updated_at"}
}

func userRow(id string, active bool) *sqlmock.Rows {
	hash, _ := testHasher.Hash("opensesame")
	return sqlmock.NewRows(userColumns()).
		AddRow(id, "alice", "alice@example.com", hash, "role-editor", "tome_oldkey", active, int64(1700000000000), int64(1700000000000))
}

func TestStore_Create(t *testing.T) {
	t.Run("writes primary and all three index rows", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users ").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO users_by_username ").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO users_by_email ").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO users_by_api_key ").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		user, err := store.Create(context.Background(), "alice", "alice@example.com", "opensesame", "role-editor")
		require.NoError(t, err)

		assert.NotEmpty(t, user.ID)
		assert.True(t, user.IsActive)
		assert.True(t, strings.HasPrefix(user.APIKey, credentials.APIKeyPrefix))
		assert.NotEqual(t, "opensesame", user.PasswordHash)
		assert.True(t, testHasher.Verify(user.PasswordHash, "opensesame"))
		assert.Equal(t, user.CreatedAt, user.UpdatedAt)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate username", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users ").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO users_by_username ").WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		_, err := store.Create(context.Background(), "alice", "other@example.com", "pw", "")
		assert.ErrorIs(t, err, ErrDuplicateUsername)
	})

	t.Run("duplicate email", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users ").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO users_by_username ").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO users_by_email ").WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		_, err := store.Create(context.Background(), "bob", "alice@example.com", "pw", "")
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})
}

func TestStore_GetByID(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery("SELECT id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at").
		WithArgs("user-1").
		WillReturnRows(userRow("user-1", true))

	user, err := store.GetByID(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "role-editor", user.RoleID)

	// missing user is nil, not an error
	mock.ExpectQuery("SELECT id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	user, err = store.GetByID(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestStore_GetByEmail_TwoStep(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery("SELECT user_id FROM users_by_email WHERE email = ").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1"))
	mock.ExpectQuery("SELECT id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at").
		WithArgs("user-1").
		WillReturnRows(userRow("user-1", true))

	user, err := store.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "user-1", user.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetByAPIKey(t *testing.T) {
	t.Run("active user resolves", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectQuery("SELECT user_id FROM users_by_api_key WHERE api_key = ").
			WithArgs("tome_oldkey").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1"))
		mock.ExpectQuery("SELECT id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at").
			WithArgs("user-1").
			WillReturnRows(userRow("user-1", true))

		user, err := store.GetByAPIKey(context.Background(), "tome_oldkey")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "user-1", user.ID)
	})

	t.Run("deactivated user is reported missing even when indexed", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		// The index row still exists; the primary record's live is_active
		// decides.
		mock.ExpectQuery("SELECT user_id FROM users_by_api_key WHERE api_key = ").
			WithArgs("tome_oldkey").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1"))
		mock.ExpectQuery("SELECT id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at").
			WithArgs("user-1").
			WillReturnRows(userRow("user-1", false))

		user, err := store.GetByAPIKey(context.Background(), "tome_oldkey")
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("unknown key", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectQuery("SELECT user_id FROM users_by_api_key WHERE api_key = ").
			WithArgs("tome_nope").
			WillReturnError(sql.ErrNoRows)

		user, err := store.GetByAPIKey(context.Background(), "tome_nope")
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}

func TestStore_Update(t *testing.T) {
	t.Run("deactivation propagates to username and api key indexes", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at").
			WithArgs("user-1").
			WillReturnRows(userRow("user-1", true))
		mock.ExpectExec("UPDATE users SET").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE users_by_username").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE users_by_api_key").
			WithArgs(false, "tome_oldkey").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		user, err := store.Deactivate(context.Background(), "user-1")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.False(t, user.IsActive)
		assert.Greater(t, user.UpdatedAt, int64(1700000000000))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("email change rekeys the email index", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		newEmail := "alice@new.example.com"

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at").
			WithArgs("user-1").
			WillReturnRows(userRow("user-1", true))
		mock.ExpectExec("UPDATE users SET").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM users_by_email WHERE email = ").
			WithArgs("alice@example.com").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO users_by_email ").
			WithArgs(newEmail, "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		user, err := store.Update(context.Background(), "user-1", Update{Email: &newEmail})
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, newEmail, user.Email)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("role change rewrites username index from the merged record", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		newRole := "role-admin"

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at").
			WithArgs("user-1").
			WillReturnRows(userRow("user-1", true))
		mock.ExpectExec("UPDATE users SET").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE users_by_username").
			WithArgs(sqlmock.AnyArg(), sql.NullString{String: "role-admin", Valid: true}, true, "alice").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		user, err := store.Update(context.Background(), "user-1", Update{RoleID: &newRole})
		require.NoError(t, err)
		assert.Equal(t, "role-admin", user.RoleID)
		// is_active untouched, so no api key index write expected
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user returns nil", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		user, err := store.Update(context.Background(), "ghost", Update{})
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}

func TestStore_RegenerateAPIKey(t *testing.T) {
	t.Run("rotation preserves activation state", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT api_key, is_active FROM users WHERE id = ").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"api_key", "is_active"}).AddRow("tome_oldkey", false))
		mock.ExpectExec("DELETE FROM users_by_api_key WHERE api_key = ").
			WithArgs("tome_oldkey").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE users SET api_key = ").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO users_by_api_key ").
			WithArgs(sqlmock.AnyArg(), "user-1", false).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		newKey, err := store.RegenerateAPIKey(context.Background(), "user-1")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(newKey, credentials.APIKeyPrefix))
		assert.NotEqual(t, "tome_oldkey", newKey)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user yields empty key", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT api_key, is_active FROM users WHERE id = ").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		newKey, err := store.RegenerateAPIKey(context.Background(), "ghost")
		require.NoError(t, err)
		assert.Empty(t, newKey)
	})
}

func TestStore_Authenticate(t *testing.T) {
	expectUserByUsername := func(mock sqlmock.Sqlmock, active bool) {
		mock.ExpectQuery("SELECT user_id FROM users_by_username WHERE username = ").
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1"))
		mock.ExpectQuery("SELECT id, username, email, password_hash, role_id, api_key, is_active, created_at, updated_at").
			WithArgs("user-1").
			WillReturnRows(userRow("user-1", active))
	}

	t.Run("correct password", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		expectUserByUsername(mock, true)
		user, err := store.Authenticate(context.Background(), "alice", "opensesame")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "user-1", user.ID)
	})

	t.Run("wrong password and unknown user are indistinguishable", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		expectUserByUsername(mock, true)
		wrongPW, err := store.Authenticate(context.Background(), "alice", "letmein")
		require.NoError(t, err)

		mock.ExpectQuery("SELECT user_id FROM users_by_username WHERE username = ").
			WithArgs("nobody").
			WillReturnError(sql.ErrNoRows)
		noUser, err := store.Authenticate(context.Background(), "nobody", "letmein")
		require.NoError(t, err)

		assert.Nil(t, wrongPW)
		assert.Nil(t, noUser)
	})

	t.Run("inactive user cannot authenticate", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		defer db.Close()

		expectUserByUsername(mock, false)
		user, err := store.Authenticate(context.Background(), "alice", "opensesame")
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}

func TestStore_List(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery("SELECT id, username, email, role_id, is_active, created_at, updated_at").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "role_id", "is_active", "created_at", "updated_at"}).
			AddRow("user-1", "alice", "alice@example.com", "role-editor", true, int64(1), int64(1)).
			AddRow("user-2", "bob", "bob@example.com", nil, false, int64(2), int64(2)))

	list, err := store.List(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Username)
	assert.Empty(t, list[1].RoleID)
	assert.False(t, list[1].IsActive)
}

func TestUser_Safe(t *testing.T) {
	u := &User{
		ID:           "user-1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$2a$10$secret",
		RoleID:       "role-editor",
		APIKey:       "tome_secret",
		IsActive:     true,
	}

	safe := u.Safe()
	assert.Equal(t, "alice", safe.Username)
	assert.Equal(t, "role-editor", safe.RoleID)
}
