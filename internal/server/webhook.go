package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/linedrive-go/internal/line"
)

// handleWebhook verifies and acknowledges a LINE webhook delivery, then hands
// the events to the dispatcher. The response never waits for fanouts.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	events, err := line.Parse(s.cfg.ChannelSecret, r)
	if err != nil {
		if errors.Is(err, line.ErrInvalidSignature) {
			s.logger.Warn("rejected webhook with bad signature",
				slog.String("request_id", RequestIDFromContext(r.Context())),
			)
			http.Error(w, "invalid signature", http.StatusBadRequest)

			return
		}

		s.logger.Warn("rejected malformed webhook", slog.String("error", err.Error()))
		http.Error(w, "bad request", http.StatusBadRequest)

		return
	}

	s.dispatcher.Dispatch(context.WithoutCancel(r.Context()), events)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}
