package server

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiwiwatt/kiwiwatt/pkg/electrickiwi"
	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/storage"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

type entryResponse struct {
	ID         string           `json:"id"`
	Domain     string           `json:"domain"`
	Title      string           `json:"title"`
	State      types.EntryState `json:"state"`
	Loaded     bool             `json:"loaded"`
	Customer   string           `json:"customer,omitempty"`
	Connection string           `json:"connection,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

func (s *Server) entryResponse(entry types.ConfigEntry) entryResponse {
	res := entryResponse{
		ID:        entry.ID,
		Domain:    entry.Domain,
		Title:     entry.Title,
		State:     entry.State,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}
	if rt, ok := s.kiwi.Runtime(entry.ID); ok {
		res.Loaded = true
		res.Customer = rt.Customer
		res.Connection = rt.Connection
	}
	return res
}

type urlResponse struct {
	URL string `json:"url"`
}

// writeEntryError maps lifecycle errors onto status codes.
func writeEntryError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var abort *electrickiwi.AbortError
	switch {
	case errors.As(err, &abort):
		writeJSONError(w, abort.Reason, http.StatusConflict)
	case errors.Is(err, storage.ErrEntryNotFound):
		writeJSONError(w, "entry not found", http.StatusNotFound)
	case errors.Is(err, electrickiwi.ErrNotLoaded):
		writeJSONError(w, "entry not loaded", http.StatusNotFound)
	case errors.Is(err, electrickiwi.ErrAuthFailed):
		writeJSONError(w, "reauth required", http.StatusConflict)
	case errors.Is(err, electrickiwi.ErrNotReady):
		writeJSONError(w, "electric kiwi not ready, try again later", http.StatusServiceUnavailable)
	default:
		log.Ctx(ctx).ErrorContext(ctx, "entry operation failed", slog.Any("error", err))
		writeJSONError(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.kiwi.Entries(r.Context())
	if err != nil {
		writeEntryError(w, r, err)
		return
	}
	res := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		res = append(res, s.entryResponse(entry))
	}
	writeJSON(w, res)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	u, err := s.kiwi.AuthorizeURL(r.Context())
	if err != nil {
		writeEntryError(w, r, err)
		return
	}
	writeJSON(w, urlResponse{URL: u})
}

func (s *Server) handleReauthEntry(w http.ResponseWriter, r *http.Request) {
	u, err := s.kiwi.ReauthURL(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEntryError(w, r, err)
		return
	}
	writeJSON(w, urlResponse{URL: u})
}

type importRequest struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	Expiry       time.Time `json:"expiry"`
	Scope        string    `json:"scope"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AccessToken == "" {
		writeJSONError(w, "access_token is required", http.StatusBadRequest)
		return
	}
	tok := types.Token{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenType:    req.TokenType,
		Expiry:       req.Expiry,
		Scope:        strings.Fields(req.Scope),
	}
	if tok.Expiry.IsZero() && req.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
	}

	res, err := s.kiwi.Import(r.Context(), tok)
	if err != nil {
		writeEntryError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, s.entryResponse(res.Entry))
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.kiwi.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeEntryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReloadEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.kiwi.Load(r.Context(), id); err != nil {
		writeEntryError(w, r, err)
		return
	}
	entries, err := s.kiwi.Entries(r.Context())
	if err != nil {
		writeEntryError(w, r, err)
		return
	}
	for _, entry := range entries {
		if entry.ID == id {
			writeJSON(w, s.entryResponse(entry))
			return
		}
	}
	writeEntryError(w, r, storage.ErrEntryNotFound)
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

type callbackPageData struct {
	Title   string
	Message string
}

func renderCallback(w http.ResponseWriter, code int, data callbackPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := callbackPage.Execute(w, data); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		log.Ctx(ctx).WarnContext(ctx, "authorization was not granted", slog.String("error", e), slog.String("description", q.Get("error_description")))
		renderCallback(w, http.StatusBadRequest, callbackPageData{Title: "Authorization failed", Message: "Electric Kiwi did not grant access: " + e})
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		renderCallback(w, http.StatusBadRequest, callbackPageData{Title: "Authorization failed", Message: "The callback is missing code or state."})
		return
	}

	res, err := s.kiwi.Callback(ctx, code, state)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "oauth callback failed", slog.Any("error", err))
		var abort *electrickiwi.AbortError
		switch {
		case errors.As(err, &abort):
			renderCallback(w, http.StatusConflict, callbackPageData{Title: "Already configured", Message: "Aborted: " + abort.Reason})
		case errors.Is(err, electrickiwi.ErrNotReady):
			renderCallback(w, http.StatusServiceUnavailable, callbackPageData{Title: "Authorization failed", Message: "Electric Kiwi could not be reached, try again later."})
		default:
			renderCallback(w, http.StatusBadRequest, callbackPageData{Title: "Authorization failed", Message: "The authorization could not be completed."})
		}
		return
	}

	msg := "Your Electric Kiwi account is connected."
	if res.Reauth {
		msg = "Your Electric Kiwi account was re-authenticated."
	}
	if res.LoadError != nil {
		msg += " The account could not be loaded yet and will be retried."
	}
	renderCallback(w, http.StatusOK, callbackPageData{Title: "Success", Message: msg})
}
