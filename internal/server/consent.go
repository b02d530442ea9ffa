package server

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/linedrive-go/internal/auth"
)

// ConsentCallbackPath is where the identity provider redirects after consent.
// The OAuth redirect URL is the public base URL plus this path.
const ConsentCallbackPath = "/auth/callback"

var consentPage = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1><p>{{.Body}}</p></body></html>
`))

type pageContent struct {
	Title string
	Body  string
}

var (
	pageConnected = pageContent{
		Title: "OneDrive connected",
		Body:  "Files shared with you on LINE will now be saved to your OneDrive. You can close this window.",
	}
	pageDenied = pageContent{
		Title: "Connection cancelled",
		Body:  "OneDrive was not connected. Send \"login\" to the bot to try again.",
	}
	pageExpired = pageContent{
		Title: "Link expired",
		Body:  "This link was already used or has expired. Send \"login\" to the bot for a new one.",
	}
	pageFailed = pageContent{
		Title: "Something went wrong",
		Body:  "OneDrive could not be connected right now. Please try again in a few minutes.",
	}
)

func renderPage(w http.ResponseWriter, status int, p pageContent) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = consentPage.Execute(w, p)
}

// handleConsentCallback completes the authorization code flow for the chat
// user bound to the state parameter.
func (s *Server) handleConsentCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		s.logger.Info("consent declined at provider",
			slog.String("error", errParam),
			slog.String("description", q.Get("error_description")),
		)
		renderPage(w, http.StatusBadRequest, pageDenied)

		return
	}

	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		renderPage(w, http.StatusBadRequest, pageExpired)
		return
	}

	userID, err := s.consent.Complete(r.Context(), state, code)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownState) {
			renderPage(w, http.StatusBadRequest, pageExpired)
			return
		}

		s.logger.Warn("consent completion failed", slog.String("error", err.Error()))
		renderPage(w, http.StatusBadGateway, pageFailed)

		return
	}

	renderPage(w, http.StatusOK, pageConnected)

	s.dispatcher.Confirm(r.Context(), userID)
}
