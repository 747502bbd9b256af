package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  randDB,
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := f.GetEntry(ctx, "missing")
		assert.ErrorIs(t, err, ErrEntryNotFound)

		err = f.DeleteEntry(ctx, "missing")
		assert.ErrorIs(t, err, ErrEntryNotFound)
	})

	t.Run("EmptyID", func(t *testing.T) {
		_, err := f.GetEntry(ctx, "")
		assert.ErrorContains(t, err, "entryID cannot be empty")
	})

	t.Run("RoundTrip", func(t *testing.T) {
		now := time.Now().Truncate(time.Second).UTC()
		entry := types.ConfigEntry{
			ID:             "entry-1",
			Domain:         "electric_kiwi",
			Title:          "Electric Kiwi",
			UniqueID:       "123456",
			EncryptedToken: []byte("sealed"),
			CreatedAt:      now,
			UpdatedAt:      now,
			State:          types.EntryStateLoaded,
		}
		require.NoError(t, f.PutEntry(ctx, entry))
		require.NoError(t, f.PutEntry(ctx, types.ConfigEntry{ID: "other", Domain: "other", CreatedAt: now, UpdatedAt: now}))

		got, err := f.GetEntry(ctx, "entry-1")
		require.NoError(t, err)
		assert.Equal(t, entry.Title, got.Title)
		assert.Equal(t, entry.EncryptedToken, got.EncryptedToken)
		assert.True(t, entry.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, types.EntryStateLoaded, got.State)

		list, err := f.ListEntries(ctx, "electric_kiwi")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "entry-1", list[0].ID)

		require.NoError(t, f.DeleteEntry(ctx, "entry-1"))
		_, err = f.GetEntry(ctx, "entry-1")
		assert.ErrorIs(t, err, ErrEntryNotFound)
	})
}
