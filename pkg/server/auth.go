package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/kiwiwatt/kiwiwatt/pkg/log"
)

var oidcIssuers = map[string]string{
	"google": "https://accounts.google.com",
	"apple":  "https://appleid.apple.com",
}

// identity is who an id token belongs to.
type identity struct {
	Email   string
	Subject string
	Expiry  time.Time
}

// tokenVerifier validates a Google or Apple ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (identity, error)

func oidcVerifier(v *oidc.IDTokenVerifier) tokenVerifier {
	return func(ctx context.Context, raw string) (identity, error) {
		idToken, err := v.Verify(ctx, raw)
		if err != nil {
			return identity{}, err
		}
		var claims struct {
			Email string `json:"email"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return identity{}, err
		}
		return identity{Email: claims.Email, Subject: idToken.Subject, Expiry: idToken.Expiry}, nil
	}
}

func (s *Server) getUser(r *http.Request) identity {
	if user, ok := r.Context().Value(userContextKey).(identity); ok {
		return user
	}
	return identity{}
}

func bearerToken(r *http.Request) (string, bool, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false, nil
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return "", false, errors.New("invalid auth header")
	}
	return token, true, nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		allowNoLogin := r.URL.Path == "/api/auth/login" || r.URL.Path == "/api/auth/status" || r.URL.Path == "/api/auth/logout"

		if s.bypassAuth {
			ctx = context.WithValue(ctx, userContextKey, identity{Subject: "bypass"})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token, ok, err := bearerToken(r)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid auth header", http.StatusBadRequest)
			return
		}
		if !ok {
			authCookie, err := r.Cookie(authTokenCookie)
			if err != nil && !errors.Is(err, http.ErrNoCookie) {
				log.Ctx(ctx).ErrorContext(ctx, "failed to get auth cookie", slog.Any("error", err))
				writeJSONError(w, "missing auth cookie", http.StatusBadRequest)
				return
			}
			if authCookie != nil {
				token = authCookie.Value
			}
		}

		if token == "" {
			if allowNoLogin {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			log.Ctx(ctx).WarnContext(ctx, "unauthenticated request")
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := s.authenticateToken(ctx, token, "")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
			s.clearCookie(w)
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}
		if !s.isAdmin(user) {
			log.Ctx(ctx).WarnContext(ctx, "user is not an admin", slog.String("email", user.Email))
			writeJSONError(w, "access denied", http.StatusForbidden)
			return
		}

		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authUserID", user.Subject)))
		log.Ctx(ctx).DebugContext(ctx, "authenticated request", slog.String("email", user.Email))
		ctx = context.WithValue(ctx, userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isAdmin reports whether user may use the API. With no admin emails
// configured any verified user is allowed.
func (s *Server) isAdmin(user identity) bool {
	if len(s.adminEmails) == 0 {
		return true
	}
	return user.Email != "" && slices.Contains(s.adminEmails, user.Email)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string `json:"token"`
		Client string `json:"client"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.authenticateToken(r.Context(), req.Token, req.Client)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to validate id token", slog.Any("error", err))
		writeJSONError(w, "invalid id token", http.StatusUnauthorized)
		return
	}
	if user.Email == "" {
		log.Ctx(r.Context()).WarnContext(r.Context(), "invalid email in id token")
		writeJSONError(w, "invalid oidc claims", http.StatusUnauthorized)
		return
	}
	if !s.isAdmin(user) {
		writeJSONError(w, "access denied", http.StatusForbidden)
		return
	}

	log.Ctx(r.Context()).InfoContext(r.Context(), "login token validated successfully", slog.String("email", user.Email), slog.String("subject", user.Subject))

	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    req.Token,
		Expires:  user.Expiry,
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearCookie(w)
	w.WriteHeader(http.StatusOK)
}

type authStatusResponse struct {
	LoggedIn     bool              `json:"loggedIn"`
	Email        string            `json:"email"`
	AuthRequired bool              `json:"authRequired"`
	ClientIDs    map[string]string `json:"clientIDs"`
	Release      string            `json:"release"`
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	writeJSON(w, authStatusResponse{
		LoggedIn:     user.Subject != "",
		Email:        user.Email,
		AuthRequired: !s.bypassAuth,
		ClientIDs:    s.oidcAudiences,
		Release:      s.release,
	})
}

func (s *Server) authenticateToken(ctx context.Context, token string, specificClient string) (identity, error) {
	var errs []error
	for providerName, verifier := range s.oidcVerifiers {
		if specificClient != "" && providerName != specificClient {
			continue
		}
		user, err := verifier(ctx, token)
		if err == nil {
			return user, nil
		}
		errs = append(errs, fmt.Errorf("%s verifier failed: %w", providerName, err))
	}
	if len(errs) > 0 {
		return identity{}, errors.Join(errs...)
	}
	return identity{}, errors.New("no valid audiences configured or token invalid")
}
