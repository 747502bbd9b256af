// Command seed writes a development config entry into storage so the
// service can be run against the Firestore emulator or a local SQLite file
// without going through the OAuth flow.
package main

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/kiwiwatt/kiwiwatt/pkg/auth"
	"github.com/kiwiwatt/kiwiwatt/pkg/electrickiwi"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/storage"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	entryID := lflag.String("seed-entry-id", "dev", "ID of the seeded config entry")
	accessToken := lflag.RequiredString("seed-access-token", "Access token to store in the seeded entry")
	refreshToken := lflag.String("seed-refresh-token", "", "Refresh token to store in the seeded entry")
	expiresIn := lflag.Duration("seed-expires-in", time.Hour, "How long the access token is valid for")
	scope := lflag.String("seed-scope", strings.Join(auth.Scopes, " "), "Space separated scopes granted to the token")
	lflag.Configure()

	ctx := log.WithEntry(context.Background(), *entryID)
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	entry := types.ConfigEntry{
		ID:       *entryID,
		Domain:   electrickiwi.Domain,
		Title:    electrickiwi.Name,
		AuthImpl: electrickiwi.Domain,
		State:    types.EntryStateNotLoaded,
	}
	if existing, err := s.Get(ctx, *entryID); err == nil {
		log.Ctx(ctx).InfoContext(ctx, "replacing token of existing entry")
		entry = existing
	}
	entry.Token = types.Token{
		AccessToken:  *accessToken,
		RefreshToken: *refreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(*expiresIn),
		Scope:        slices.Collect(strings.FieldsSeq(*scope)),
	}

	saved, err := s.Save(ctx, entry)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed entry", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeded entry", slog.Time("expiry", saved.Token.Expiry))
}
