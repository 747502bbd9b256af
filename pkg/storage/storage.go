package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/kiwiwatt/kiwiwatt/pkg/auth"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

var (
	ErrEntryNotFound = errors.New("config entry not found")
)

// Database persists config entries. Entries are stored as given, the token
// is expected to already be encrypted into EncryptedToken.
type Database interface {
	GetEntry(ctx context.Context, entryID string) (types.ConfigEntry, error)
	ListEntries(ctx context.Context, domain string) ([]types.ConfigEntry, error)
	PutEntry(ctx context.Context, entry types.ConfigEntry) error
	DeleteEntry(ctx context.Context, entryID string) error

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags and wraps it so
// tokens are encrypted at rest.
func Configured() *Entries {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, sqlite)")
	encryptionKey := lflag.RequiredString("token-encryption-key", "32 byte key for encrypting stored OAuth tokens")

	e := &Entries{}

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		cipher, err := auth.NewTokenCipher(*encryptionKey)
		if err != nil {
			panic(fmt.Sprintf("token-encryption-key: %v", err))
		}
		e.cipher = cipher

		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			e.db = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "sqlite":
			if err := sq.Validate(); err != nil {
				panic(fmt.Sprintf("sqlite validation failed: %v", err))
			}
			e.db = sq
			if err := sq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return e
}
