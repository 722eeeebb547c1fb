package roles

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectRoleByName(mock sqlmock.Sqlmock, name, id string) {
	mock.ExpectQuery("SELECT role_id FROM roles_by_name WHERE role_name = ").
		WithArgs(name).
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(id))
	mock.ExpectQuery("SELECT id, role_name, permissions, description, created_at").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role_name", "permissions", "description", "created_at"}).
			AddRow(id, name, `["page:read"]`, "", int64(1700000000000)))
}

func TestResolveDefaults(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	expectRoleByName(mock, RoleEditor, "role-editor")
	expectRoleByName(mock, RoleAdmin, "role-admin")

	defaults, err := ResolveDefaults(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "role-editor", defaults.DefaultRoleID)
	assert.Equal(t, "role-admin", defaults.AdminRoleID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveDefaults_MissingBuiltin(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery("SELECT role_id FROM roles_by_name WHERE role_name = ").
		WithArgs(RoleEditor).
		WillReturnError(sql.ErrNoRows)

	_, err := ResolveDefaults(context.Background(), store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap did not run")
}

func TestDefaults_IsAdmin(t *testing.T) {
	d := &Defaults{AdminRoleID: "role-admin", DefaultRoleID: "role-editor"}

	assert.True(t, d.IsAdmin("role-admin"))
	assert.False(t, d.IsAdmin("role-editor"))
	assert.False(t, d.IsAdmin(""))
}
