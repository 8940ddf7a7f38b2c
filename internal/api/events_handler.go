package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/strata/internal/events"
)

const keepAliveInterval = 15 * time.Second

// handleEvents handles GET /events: pipeline progress as server-sent events.
// ?types=stage.finished,run.finished narrows the stream; Last-Event-ID resumes it.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	wanted := parseTypes(r.URL.Query().Get("types"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	// Send buffered events first for late clients.
	for _, ev := range s.deps.Events.Since(lastID) {
		if !wanted.has(ev.Type) {
			continue
		}
		if err := writeSSE(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	ch, cancel := s.deps.Events.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !wanted.has(ev.Type) {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			// SSE comment line as keep-alive.
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// typeFilter is a set of event types; nil admits everything.
type typeFilter map[string]struct{}

func parseTypes(raw string) typeFilter {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	f := typeFilter{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f[t] = struct{}{}
		}
	}
	return f
}

func (f typeFilter) has(eventType string) bool {
	if f == nil {
		return true
	}
	_, ok := f[eventType]
	return ok
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", ev.ID); err != nil {
		return err
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	// Payload is compact JSON, so a single data line suffices.
	if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data); err != nil {
		return err
	}
	return nil
}
