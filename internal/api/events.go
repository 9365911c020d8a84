package api

import (
	"net/http"
	"time"

	"github.com/vmunix/grabbr/internal/events"
)

func (s *Server) listJobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if s.deps.EventLog == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_EVENT_LOG", "Event log not configured")
		return
	}

	// Verify job exists
	if _, err := s.deps.Jobs.Get(id); err != nil {
		s.writeErr(w, err)
		return
	}

	raws, err := s.deps.EventLog.ForEntity(events.EntityJob, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "EVENT_ERROR", err.Error())
		return
	}

	resp := listEventsResponse{
		Items: make([]EventResponse, len(raws)),
		Total: len(raws),
	}
	for i, raw := range raws {
		resp.Items[i] = s.eventToResponse(raw)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) eventToResponse(raw events.RawEvent) EventResponse {
	resp := EventResponse{
		ID:         raw.ID,
		EventType:  raw.EventType,
		OccurredAt: raw.OccurredAt.Format(time.RFC3339),
	}

	e, err := s.registry.Unmarshal(raw)
	if err != nil {
		s.log.Debug("skipping undecodable event payload", "event_id", raw.ID, "error", err)
		return resp
	}
	switch e := e.(type) {
	case *events.JobStatusChanged:
		resp.From = e.From
		resp.To = e.To
		resp.Error = e.Snapshot.Error
	case *events.JobReclaimed:
		resp.Reason = e.Reason
	}
	return resp
}
