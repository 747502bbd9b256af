// Package server exposes the admin HTTP API: config entry management, the
// OAuth callback, sensor readings and lawn mower service calls.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"

	"github.com/kiwiwatt/kiwiwatt/pkg/electrickiwi"
	"github.com/kiwiwatt/kiwiwatt/pkg/lawnmower"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
)

const authTokenCookie = "auth_token"

type contextKey string

const userContextKey contextKey = "user"

// maxBodyBytes bounds request bodies on the API.
const maxBodyBytes = 1 << 20

// Server handles the admin HTTP API for kiwiwatt.
type Server struct {
	kiwi    *electrickiwi.Integration
	mowers  *lawnmower.Component
	release string

	listenAddr string
	httpServer *http.Server

	adminEmails   []string
	oidcAudiences map[string]string
	oidcVerifiers map[string]tokenVerifier
	bypassAuth    bool
	serverName    string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(kiwi *electrickiwi.Integration, mowers *lawnmower.Component) *Server {
	srv := &Server{
		kiwi:       kiwi,
		mowers:     mowers,
		serverName: "kiwiwatt",
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to use the API")
	oidcAudience := lflag.String("oidc-audience", "", "Google client ID to validate id tokens against")
	oidcAudiences := map[string]string{}
	lflag.JSON(&oidcAudiences, "oidc-audiences", oidcAudiences, "JSON map of provider (google/apple) to audience/client ID")
	bypassAuth := lflag.Bool("bypass-auth", false, "Disable authentication on the API (local installs only)")
	release := lflag.String("release", "production", "Release environment (production or staging)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.release = *release
		if *adminEmails != "" {
			for _, email := range strings.Split(*adminEmails, ",") {
				srv.adminEmails = append(srv.adminEmails, strings.TrimSpace(email))
			}
		}
		if len(oidcAudiences) == 0 && *oidcAudience != "" {
			oidcAudiences["google"] = *oidcAudience
		}
		if len(oidcAudiences) > 0 {
			srv.oidcAudiences = make(map[string]string, len(oidcAudiences))
			srv.oidcVerifiers = make(map[string]tokenVerifier, len(oidcAudiences))
			for n, a := range oidcAudiences {
				issuer, ok := oidcIssuers[n]
				if !ok {
					log.Ctx(context.Background()).Error("unsupported oidc audience client", slog.String("client", n))
					os.Exit(1)
				}
				provider, err := oidc.NewProvider(context.Background(), issuer)
				if err != nil {
					log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("client", n), slog.Any("error", err))
					os.Exit(1)
				}
				srv.oidcVerifiers[n] = oidcVerifier(provider.Verifier(&oidc.Config{ClientID: a}))
				srv.oidcAudiences[n] = a
			}
		}
		srv.bypassAuth = *bypassAuth
		if !srv.bypassAuth && len(srv.oidcVerifiers) == 0 {
			log.Ctx(context.Background()).Error("either oidc-audience(s) or bypass-auth must be set")
			os.Exit(1)
		}
		if revision := os.Getenv("K_REVISION"); revision != "" {
			srv.serverName = revision
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	apiMux.HandleFunc("POST /api/auth/login", s.handleLogin)
	apiMux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	apiMux.HandleFunc("GET /api/entries", s.handleListEntries)
	apiMux.HandleFunc("POST /api/entries/authorize", s.handleAuthorize)
	apiMux.HandleFunc("POST /api/entries/import", s.handleImport)
	apiMux.HandleFunc("DELETE /api/entries/{id}", s.handleDeleteEntry)
	apiMux.HandleFunc("POST /api/entries/{id}/reload", s.handleReloadEntry)
	apiMux.HandleFunc("POST /api/entries/{id}/reauth", s.handleReauthEntry)

	apiMux.HandleFunc("GET /api/sensors", s.handleListSensors)
	apiMux.HandleFunc("POST /api/refresh", s.handleRefresh)
	apiMux.HandleFunc("GET /api/hop/intervals", s.handleHOPIntervals)
	apiMux.HandleFunc("POST /api/hop", s.handleSetHOP)

	apiMux.HandleFunc("GET /api/lawn_mower", s.handleListMowers)
	apiMux.HandleFunc("POST /api/services/lawn_mower/{service}", s.handleMowerService)
	apiMux.HandleFunc("POST /api/lawn_mower/reproduce", s.handleReproduce)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	// the vendor redirects the browser here, the signed state authenticates it
	mux.HandleFunc("GET /auth/external/callback", s.handleCallback)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to decode request body", slog.Any("error", err))
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
