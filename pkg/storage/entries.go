package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kiwiwatt/kiwiwatt/pkg/auth"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

// Entries reads and writes config entries, encrypting the token on the way
// in and decrypting it on the way out.
type Entries struct {
	db     Database
	cipher *auth.TokenCipher
	now    func() time.Time
}

// NewEntries wraps db with the given token cipher.
func NewEntries(db Database, cipher *auth.TokenCipher) *Entries {
	return &Entries{db: db, cipher: cipher}
}

var _ auth.TokenSaver = (*Entries)(nil)

func (e *Entries) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

func (e *Entries) decrypt(ctx context.Context, entry types.ConfigEntry) (types.ConfigEntry, error) {
	tok, err := e.cipher.Decrypt(ctx, entry.EncryptedToken)
	if err != nil {
		return types.ConfigEntry{}, fmt.Errorf("failed to decrypt token for entry %s: %w", entry.ID, err)
	}
	entry.Token = tok
	return entry, nil
}

// Get returns the entry with its token decrypted.
func (e *Entries) Get(ctx context.Context, entryID string) (types.ConfigEntry, error) {
	entry, err := e.db.GetEntry(ctx, entryID)
	if err != nil {
		return types.ConfigEntry{}, err
	}
	return e.decrypt(ctx, entry)
}

// List returns every entry for domain with tokens decrypted.
func (e *Entries) List(ctx context.Context, domain string) ([]types.ConfigEntry, error) {
	entries, err := e.db.ListEntries(ctx, domain)
	if err != nil {
		return nil, err
	}
	out := make([]types.ConfigEntry, 0, len(entries))
	for _, entry := range entries {
		dec, err := e.decrypt(ctx, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, dec)
	}
	return out, nil
}

// Save encrypts the entry's token and persists it, stamping CreatedAt on
// first save and UpdatedAt always.
func (e *Entries) Save(ctx context.Context, entry types.ConfigEntry) (types.ConfigEntry, error) {
	enc, err := e.cipher.Encrypt(ctx, entry.Token)
	if err != nil {
		return types.ConfigEntry{}, fmt.Errorf("failed to encrypt token for entry %s: %w", entry.ID, err)
	}
	now := e.clock().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.EncryptedToken = enc
	if err := e.db.PutEntry(ctx, entry); err != nil {
		return types.ConfigEntry{}, err
	}
	return entry, nil
}

// SaveToken replaces the stored token of an existing entry.
func (e *Entries) SaveToken(ctx context.Context, entryID string, tok types.Token) error {
	entry, err := e.Get(ctx, entryID)
	if err != nil {
		return err
	}
	entry.Token = tok
	_, err = e.Save(ctx, entry)
	return err
}

// SetState records the lifecycle state of an entry.
func (e *Entries) SetState(ctx context.Context, entryID string, state types.EntryState) error {
	entry, err := e.db.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	entry.State = state
	entry.UpdatedAt = e.clock().UTC()
	return e.db.PutEntry(ctx, entry)
}

// Delete removes an entry.
func (e *Entries) Delete(ctx context.Context, entryID string) error {
	return e.db.DeleteEntry(ctx, entryID)
}

// Close closes the underlying database.
func (e *Entries) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}
