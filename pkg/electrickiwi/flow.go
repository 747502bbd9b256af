package electrickiwi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/kiwiwatt/kiwiwatt/pkg/auth"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

const (
	AbortMissingCredentials = "missing_credentials"
	AbortSingleInstance     = "single_instance_allowed"
)

// AbortError ends a config flow without creating an entry.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	return "config flow aborted: " + e.Reason
}

// IsAbort reports whether err aborted a flow with reason.
func IsAbort(err error, reason string) bool {
	var aErr *AbortError
	return errors.As(err, &aErr) && aErr.Reason == reason
}

// FlowResult is the outcome of a completed callback.
type FlowResult struct {
	Entry types.ConfigEntry
	// Reauth is true when an existing entry's token was replaced.
	Reauth bool
	// LoadError is set when the entry was stored but failed to load.
	LoadError error
}

func (i *Integration) existingEntry(ctx context.Context) (types.ConfigEntry, bool, error) {
	entries, err := i.entries.List(ctx, Domain)
	if err != nil {
		return types.ConfigEntry{}, false, fmt.Errorf("failed to list entries: %w", err)
	}
	if len(entries) == 0 {
		return types.ConfigEntry{}, false, nil
	}
	return entries[0], true, nil
}

func (i *Integration) authorizeURL(state auth.State) (string, error) {
	if !i.oauth.HasCredentials() {
		return "", &AbortError{Reason: AbortMissingCredentials}
	}
	raw, err := i.oauth.EncodeState(state, i.now())
	if err != nil {
		return "", err
	}
	return i.oauth.OAuth2().AuthCodeURL(raw), nil
}

// AuthorizeURL starts a user flow and returns the URL the user is sent to.
// Only one Electric Kiwi entry may exist.
func (i *Integration) AuthorizeURL(ctx context.Context) (string, error) {
	if _, exists, err := i.existingEntry(ctx); err != nil {
		return "", err
	} else if exists {
		return "", &AbortError{Reason: AbortSingleInstance}
	}
	return i.authorizeURL(auth.State{
		FlowID:      i.newID(),
		RedirectURI: i.oauth.RedirectURL,
	})
}

// ReauthURL starts a flow that replaces the token of an existing entry.
func (i *Integration) ReauthURL(ctx context.Context, entryID string) (string, error) {
	if _, err := i.entries.Get(ctx, entryID); err != nil {
		return "", err
	}
	return i.authorizeURL(auth.State{
		FlowID:      i.newID(),
		RedirectURI: i.oauth.RedirectURL,
		EntryID:     entryID,
	})
}

// Callback finishes a flow: it verifies the state, exchanges the code and
// either creates a new entry or updates the one being re-authenticated.
func (i *Integration) Callback(ctx context.Context, code, rawState string) (FlowResult, error) {
	state, err := i.oauth.DecodeState(rawState)
	if err != nil {
		return FlowResult{}, err
	}
	ctx = log.WithAttrs(ctx, slog.String("flowID", state.FlowID))

	exchangeCtx := ctx
	if i.httpClient != nil {
		exchangeCtx = context.WithValue(ctx, oauth2.HTTPClient, i.httpClient)
	}
	oTok, err := i.oauth.OAuth2().Exchange(exchangeCtx, code)
	if err != nil {
		return FlowResult{}, auth.ClassifyTokenError(err)
	}
	tok := auth.FromOAuth2(oTok)
	if len(tok.Scope) == 0 {
		// an omitted scope means the requested scopes were granted
		tok.Scope = append([]string(nil), auth.Scopes...)
	}

	if state.EntryID != "" {
		return i.reauth(ctx, state.EntryID, tok)
	}
	return i.create(ctx, tok)
}

// Import creates an entry from an already issued token.
func (i *Integration) Import(ctx context.Context, tok types.Token) (FlowResult, error) {
	if tok.AccessToken == "" {
		return FlowResult{}, errors.New("access token is required")
	}
	return i.create(ctx, tok)
}

func (i *Integration) create(ctx context.Context, tok types.Token) (FlowResult, error) {
	if _, exists, err := i.existingEntry(ctx); err != nil {
		return FlowResult{}, err
	} else if exists {
		return FlowResult{}, &AbortError{Reason: AbortSingleInstance}
	}

	entry, err := i.entries.Save(ctx, types.ConfigEntry{
		ID:       i.newID(),
		Domain:   Domain,
		Title:    Name,
		AuthImpl: Domain,
		Token:    tok,
		State:    types.EntryStateNotLoaded,
	})
	if err != nil {
		return FlowResult{}, fmt.Errorf("failed to save entry: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "created config entry", slog.String("entryID", entry.ID))

	res := FlowResult{Entry: entry}
	if _, err := i.Load(ctx, entry.ID); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "new entry failed to load", slog.String("entryID", entry.ID), slog.Any("error", err))
		res.LoadError = err
	}
	return res, nil
}

func (i *Integration) reauth(ctx context.Context, entryID string, tok types.Token) (FlowResult, error) {
	ctx = log.WithEntry(ctx, entryID)
	entry, err := i.entries.Get(ctx, entryID)
	if err != nil {
		return FlowResult{}, err
	}
	entry.Token = tok
	entry, err = i.entries.Save(ctx, entry)
	if err != nil {
		return FlowResult{}, fmt.Errorf("failed to save entry: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "re-authenticated config entry")

	res := FlowResult{Entry: entry, Reauth: true}
	if _, err := i.Load(ctx, entryID); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "entry failed to load after reauth", slog.Any("error", err))
		res.LoadError = err
	}
	return res, nil
}
