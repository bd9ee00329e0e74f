package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/convoflowhq/convoflow/internal/model"
)

// handleWebhook accepts one normalized inbound event. The platform in the
// path overrides whatever the payload claims.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	platform := model.Platform(strings.ToUpper(chi.URLParam(r, "platform")))
	switch platform {
	case model.PlatformInstagram, model.PlatformFacebook, model.PlatformWhatsapp, model.PlatformTelegram:
	default:
		writeError(w, http.StatusNotFound, "unknown platform")
		return
	}

	var ev model.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	ev.Platform = platform
	if ev.Metadata.ExternalID == "" || ev.AccountID == "" {
		writeError(w, http.StatusBadRequest, "accountId and metadata.externalId are required")
		return
	}
	if ev.Channel == "" {
		ev.Channel = model.ChannelDirectMessage
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if err := s.orch.Ingest(r.Context(), ev); err != nil {
		s.log.Error("event admission failed",
			"platform", platform, "external_id", ev.Metadata.ExternalID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "event not admitted")
		return
	}
	// Accepted for asynchronous processing; outcomes surface on /ws/events.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	client, err := s.stores.Clients.Get(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.stores.Workflows.Get(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowActions(w http.ResponseWriter, r *http.Request) {
	acts, err := s.stores.Workflows.Actions(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acts)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := 50
	msgs, err := s.stores.Messages.ListRecent(r.Context(), chi.URLParam(r, "conversationID"), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handlePause pauses automation on a conversation for the requested number
// of minutes; zero clears an existing pause.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	convID := chi.URLParam(r, "conversationID")
	var until *time.Time
	if req.Minutes > 0 {
		t := time.Now().Add(time.Duration(req.Minutes) * time.Minute)
		until = &t
	}
	if err := s.stores.Conversations.SetPause(r.Context(), convID, until); err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("conversation pause set", "conversation", convID, "minutes", req.Minutes)
	writeJSON(w, http.StatusOK, map[string]any{"pausedUntil": until})
}

// handleConfirm sets the human-confirmation flag. confirmed=true re-enables
// automation; confirmed=false hands the conversation to a human.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	convID := chi.URLParam(r, "conversationID")
	if err := s.stores.Conversations.SetConfirmed(r.Context(), convID, req.Confirmed); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"confirmed": req.Confirmed})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
