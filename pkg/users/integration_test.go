package users

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomewiki/tome/pkg/credentials"
	"github.com/tomewiki/tome/pkg/storage"
)

// TestStore_Lifecycle exercises the directory against a real postgres
// instance. Skipped unless TEST_POSTGRES_PRIMARY is set.
func TestStore_Lifecycle(t *testing.T) {
	db := storage.RequireDatabase(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db, credentials.NewHasher(4))

	suffix := uuid.NewString()[:8]
	username := fmt.Sprintf("it-user-%s", suffix)
	email := fmt.Sprintf("it-%s@example.com", suffix)

	created, err := store.Create(ctx, username, email, "hunter2hunter2", "")
	require.NoError(t, err)

	t.Run("all lookup keys resolve to the same user", func(t *testing.T) {
		byUsername, err := store.GetByUsername(ctx, username)
		require.NoError(t, err)
		byEmail, err := store.GetByEmail(ctx, email)
		require.NoError(t, err)
		byKey, err := store.GetByAPIKey(ctx, created.APIKey)
		require.NoError(t, err)

		require.NotNil(t, byUsername)
		require.NotNil(t, byEmail)
		require.NotNil(t, byKey)
		assert.Equal(t, created.ID, byUsername.ID)
		assert.Equal(t, created.ID, byEmail.ID)
		assert.Equal(t, created.ID, byKey.ID)
	})

	t.Run("duplicate username rejected", func(t *testing.T) {
		_, err := store.Create(ctx, username, "other-"+email, "pw123456", "")
		assert.ErrorIs(t, err, ErrDuplicateUsername)
	})

	t.Run("key rotation invalidates the old key immediately", func(t *testing.T) {
		oldKey := created.APIKey
		newKey, err := store.RegenerateAPIKey(ctx, created.ID)
		require.NoError(t, err)
		require.NotEmpty(t, newKey)

		stale, err := store.GetByAPIKey(ctx, oldKey)
		require.NoError(t, err)
		assert.Nil(t, stale)

		fresh, err := store.GetByAPIKey(ctx, newKey)
		require.NoError(t, err)
		require.NotNil(t, fresh)
		assert.Equal(t, created.ID, fresh.ID)
		assert.True(t, fresh.IsActive, "rotation must not change activation state")
	})

	t.Run("deactivation hides the api key but keeps the record", func(t *testing.T) {
		deactivated, err := store.Deactivate(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, deactivated)

		byKey, err := store.GetByAPIKey(ctx, deactivated.APIKey)
		require.NoError(t, err)
		assert.Nil(t, byKey)

		byID, err := store.GetByID(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.False(t, byID.IsActive)
	})

	t.Run("authenticate rejects inactive users", func(t *testing.T) {
		user, err := store.Authenticate(ctx, username, "hunter2hunter2")
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}
