package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

var (
	// ErrAuthFailed means the stored credentials were rejected and the user
	// has to re-authorize. Retrying will not help.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotReady means the token endpoint could not be reached or failed
	// on its side. Setup should be retried later.
	ErrNotReady = errors.New("authorization server not ready")
)

// TokenSaver persists a refreshed token for an entry.
type TokenSaver interface {
	SaveToken(ctx context.Context, entryID string, tok types.Token) error
}

// Session keeps an entry's token valid and hands out authorized clients.
type Session struct {
	entryID string
	config  *oauth2.Config
	saver   TokenSaver
	base    *http.Client

	mu    sync.Mutex
	token types.Token
}

// NewSession returns a session for an entry's token. base is the client used
// for both token refresh and API requests.
func NewSession(cfg *Config, entryID string, tok types.Token, saver TokenSaver, base *http.Client) *Session {
	return &Session{
		entryID: entryID,
		config:  cfg.OAuth2(),
		saver:   saver,
		base:    base,
		token:   tok,
	}
}

// Token returns the current token.
func (s *Session) Token() types.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) withBase(ctx context.Context) context.Context {
	if s.base == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.base)
}

// EnsureTokenValid refreshes the token if it has expired and persists the
// refreshed token. Errors are classified into ErrAuthFailed or ErrNotReady.
func (s *Session) EnsureTokenValid(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := ToOAuth2(s.token)
	if current.Valid() {
		return nil
	}

	if current.RefreshToken == "" {
		return fmt.Errorf("%w: token expired and no refresh token is stored", ErrAuthFailed)
	}

	log.Ctx(ctx).DebugContext(ctx, "refreshing oauth token", slog.String("entryID", s.entryID))
	fresh, err := s.config.TokenSource(s.withBase(ctx), current).Token()
	if err != nil {
		return ClassifyTokenError(err)
	}

	tok := FromOAuth2(fresh)
	if len(tok.Scope) == 0 {
		// refresh responses may omit scope, which means it is unchanged
		tok.Scope = s.token.Scope
	}
	s.token = tok
	if s.saver != nil {
		if err := s.saver.SaveToken(ctx, s.entryID, tok); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to persist refreshed token", slog.Any("error", err))
		}
	}
	return nil
}

// HasScopes reports whether every required scope was granted.
func (s *Session) HasScopes() bool {
	tok := s.Token()
	for _, scope := range Scopes {
		if !tok.HasScope(scope) {
			return false
		}
	}
	return true
}

// Client returns an http.Client that validates the token before each
// request and sends it as a bearer token.
func (s *Session) Client(ctx context.Context) *http.Client {
	c := &http.Client{
		Transport: &oauth2.Transport{
			Source: &sessionTokenSource{ctx: ctx, session: s},
		},
	}
	if s.base != nil {
		c.Transport.(*oauth2.Transport).Base = s.base.Transport
		c.Timeout = s.base.Timeout
	}
	return c
}

type sessionTokenSource struct {
	ctx     context.Context
	session *Session
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	if err := ts.session.EnsureTokenValid(ts.ctx); err != nil {
		return nil, err
	}
	return ToOAuth2(ts.session.Token()), nil
}

// ClassifyTokenError maps a token endpoint error onto ErrAuthFailed (4xx)
// or ErrNotReady (anything else).
func ClassifyTokenError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		if code := rErr.Response.StatusCode; code >= 400 && code < 500 {
			return fmt.Errorf("%w: token endpoint returned %d: %w", ErrAuthFailed, code, err)
		}
		return fmt.Errorf("%w: token endpoint returned %d: %w", ErrNotReady, rErr.Response.StatusCode, err)
	}
	return fmt.Errorf("%w: %w", ErrNotReady, err)
}

// ToOAuth2 converts a stored token into an oauth2.Token.
func ToOAuth2(t types.Token) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
	if len(t.Scope) > 0 {
		tok = tok.WithExtra(map[string]any{"scope": strings.Join(t.Scope, " ")})
	}
	return tok
}

// FromOAuth2 converts an oauth2.Token into the stored form.
func FromOAuth2(t *oauth2.Token) types.Token {
	tok := types.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
	tok.Scope = parseScope(t.Extra("scope"))
	return tok
}

func parseScope(v any) []string {
	switch s := v.(type) {
	case string:
		return strings.FieldsFunc(s, func(r rune) bool {
			return r == ' ' || r == '+' || r == ','
		})
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return s
	}
	return nil
}
