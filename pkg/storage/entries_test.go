package storage_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kiwiwatt/kiwiwatt/pkg/auth"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/storage"
	"github.com/kiwiwatt/kiwiwatt/pkg/storage/storagemock"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

const testKey = "0123456789abcdef0123456789abcdef"

func newEntries(t *testing.T) (*storage.Entries, *storagemock.MockDatabase, *auth.TokenCipher) {
	t.Helper()
	cipher, err := auth.NewTokenCipher(testKey)
	require.NoError(t, err)
	db := &storagemock.MockDatabase{}
	return storage.NewEntries(db, cipher), db, cipher
}

func TestEntries(t *testing.T) {
	ctx := context.Background()
	tok := types.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer", Scope: []string{"read_session"}}

	t.Run("SaveEncrypts", func(t *testing.T) {
		e, db, cipher := newEntries(t)
		db.On("PutEntry", ctx, mock.MatchedBy(func(entry types.ConfigEntry) bool {
			if entry.ID != "entry-1" || len(entry.EncryptedToken) == 0 {
				return false
			}
			if entry.CreatedAt.IsZero() || entry.UpdatedAt.IsZero() {
				return false
			}
			dec, err := cipher.Decrypt(ctx, entry.EncryptedToken)
			return err == nil && dec.AccessToken == "access"
		})).Return(nil)

		saved, err := e.Save(ctx, types.ConfigEntry{ID: "entry-1", Domain: "electric_kiwi", Token: tok})
		require.NoError(t, err)
		assert.NotEmpty(t, saved.EncryptedToken)
		assert.NotContains(t, string(saved.EncryptedToken), "access")
		db.AssertExpectations(t)
	})

	t.Run("GetDecrypts", func(t *testing.T) {
		e, db, cipher := newEntries(t)
		enc, err := cipher.Encrypt(ctx, tok)
		require.NoError(t, err)
		db.On("GetEntry", ctx, "entry-1").Return(types.ConfigEntry{ID: "entry-1", EncryptedToken: enc}, nil)

		got, err := e.Get(ctx, "entry-1")
		require.NoError(t, err)
		assert.Equal(t, tok, got.Token)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		e, db, _ := newEntries(t)
		db.On("GetEntry", ctx, "missing").Return(types.ConfigEntry{}, storage.ErrEntryNotFound)

		_, err := e.Get(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrEntryNotFound)
	})

	t.Run("List", func(t *testing.T) {
		e, db, cipher := newEntries(t)
		enc, err := cipher.Encrypt(ctx, tok)
		require.NoError(t, err)
		db.On("ListEntries", ctx, "electric_kiwi").Return([]types.ConfigEntry{{ID: "a", EncryptedToken: enc}, {ID: "b"}}, nil)

		list, err := e.List(ctx, "electric_kiwi")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "access", list[0].Token.AccessToken)
		assert.Equal(t, types.Token{}, list[1].Token)
	})

	t.Run("SaveToken", func(t *testing.T) {
		e, db, cipher := newEntries(t)
		enc, err := cipher.Encrypt(ctx, tok)
		require.NoError(t, err)
		db.On("GetEntry", ctx, "entry-1").Return(types.ConfigEntry{ID: "entry-1", Title: "Electric Kiwi", EncryptedToken: enc}, nil)
		db.On("PutEntry", ctx, mock.MatchedBy(func(entry types.ConfigEntry) bool {
			dec, err := cipher.Decrypt(ctx, entry.EncryptedToken)
			return err == nil && dec.AccessToken == "fresh" && entry.Title == "Electric Kiwi"
		})).Return(nil)

		require.NoError(t, e.SaveToken(ctx, "entry-1", types.Token{AccessToken: "fresh"}))
		db.AssertExpectations(t)
	})

	t.Run("SetState", func(t *testing.T) {
		e, db, _ := newEntries(t)
		db.On("GetEntry", ctx, "entry-1").Return(types.ConfigEntry{ID: "entry-1"}, nil)
		db.On("PutEntry", ctx, mock.MatchedBy(func(entry types.ConfigEntry) bool {
			return entry.State == types.EntryStateReauth
		})).Return(nil)

		require.NoError(t, e.SetState(ctx, "entry-1", types.EntryStateReauth))
		db.AssertExpectations(t)
	})

	t.Run("Delete", func(t *testing.T) {
		e, db, _ := newEntries(t)
		db.On("DeleteEntry", ctx, "entry-1").Return(errors.New("boom"))
		assert.EqualError(t, e.Delete(ctx, "entry-1"), "boom")
	})
}
