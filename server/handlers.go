package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nevindra/parley"
	"github.com/nevindra/parley/ingest"
)

// chatBody accepts both the bridge webhook shape and the OpenAI-style
// completion shape on the same endpoints.
type chatBody struct {
	Message    string `json:"message"`
	ChatID     string `json:"chat_id"`
	MessageID  string `json:"message_id"`
	SenderName string `json:"sender_name"`
	FromMe     bool   `json:"fromMe"`
	IsGroup    bool   `json:"is_group"`

	Messages []parley.ChatMessage `json:"messages"`
	User     string               `json:"user"`
}

func (b chatBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	// OpenAI shape: last user message wins.
	for i := len(b.Messages) - 1; i >= 0; i-- {
		if b.Messages[i].Role == "user" {
			return b.Messages[i].Content
		}
	}
	return ""
}

func (b chatBody) chat() string {
	if b.ChatID != "" {
		return b.ChatID
	}
	if b.User != "" {
		return b.User
	}
	return "default"
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	text := body.text()
	if s.guard != nil && strings.TrimSpace(text) != "" {
		if err := s.guard.CheckInput(r.Context(), text); err != nil {
			var halt *parley.ErrHalt
			if errors.As(err, &halt) {
				writeJSON(w, http.StatusOK, map[string]any{
					"status":   "halted",
					"accepted": false,
					"response": halt.Response,
				})
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	msg := parley.InboundMessage{
		MessageID:  body.MessageID,
		ChatID:     body.chat(),
		Text:       text,
		SenderName: body.SenderName,
		IsGroup:    body.IsGroup,
		Persona:    chi.URLParam(r, "persona"),
		SenderRole: parley.RoleUser,
		ReceivedAt: time.Now().UnixMilli(),
	}
	if msg.MessageID == "" {
		msg.MessageID = parley.NewID()
	}
	if body.FromMe {
		msg.SenderRole = parley.RoleAssistant
	}

	receipt := s.gateway.Submit(msg)
	if receipt.Status == "skipped" && s.onSkip != nil {
		s.onSkip(receipt.Reason)
	}

	if s.bridge != nil {
		rec := parley.BridgeRecord{
			MessageID: msg.MessageID,
			Channel:   "whatsapp",
			FromPhone: msg.ChatID,
			Text:      text,
			Status:    receipt.Status,
		}
		if err := s.bridge.RecordInbound(r.Context(), rec); err != nil {
			s.logger.Warn("ingress: bridge record failed",
				"message_id", msg.MessageID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"status":   "ok",
		"uptime_s": int64(time.Since(s.started).Seconds()),
	}
	if s.flashModel != "" || s.proModel != "" {
		out["models"] = map[string]string{"flash": s.flashModel, "pro": s.proModel}
	}
	if s.mem != nil {
		if stats, err := s.mem.Stats(r.Context()); err == nil {
			out["memory"] = stats
		}
	}
	if s.graph != nil {
		if nodes, edges, err := s.graph.Counts(r.Context()); err == nil {
			out["graph"] = map[string]int{"nodes": nodes, "edges": edges}
		}
	}
	if s.conflicts != nil {
		out["conflicts_pending"] = len(s.conflicts.Pending())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":     s.gateway.Queue().Stats(),
		"workers":   s.gateway.Pool().Stats(),
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handlePersonaRebuild(w http.ResponseWriter, _ *http.Request) {
	if s.personas == nil {
		writeError(w, http.StatusNotFound, "personas not configured")
		return
	}
	rebuilt := map[string]int{}
	for _, store := range s.personas.All() {
		version, err := store.Rebuild()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rebuild "+store.Name()+": "+err.Error())
			return
		}
		rebuilt[store.Name()] = version
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rebuilt": rebuilt})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		writeError(w, http.StatusNotFound, "ingestion not configured")
		return
	}
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	res, err := s.ingestor.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleConflicts(w http.ResponseWriter, _ *http.Request) {
	if s.conflicts == nil {
		writeError(w, http.StatusNotFound, "conflicts not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conflicts": s.conflicts.Pending(),
		"briefing":  s.conflicts.BuildBriefing(),
	})
}

func (s *Server) handleConflictResolve(w http.ResponseWriter, r *http.Request) {
	if s.conflicts == nil {
		writeError(w, http.StatusNotFound, "conflicts not configured")
		return
	}
	var body struct {
		Choice string `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Choice == "" {
		writeError(w, http.StatusBadRequest, "choice required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.conflicts.Resolve(id, body.Choice); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved", "conflict_id": id})
}

func (s *Server) handleLoopTest(w http.ResponseWriter, r *http.Request) {
	if s.loop == nil {
		writeError(w, http.StatusNotFound, "loop test not configured")
		return
	}
	var body struct {
		Phone    string `json:"phone"`
		Message  string `json:"message"`
		DryRun   *bool  `json:"dry_run"`
		TimeoutS int    `json:"timeout_s"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	dryRun := true
	if body.DryRun != nil {
		dryRun = *body.DryRun
	}
	timeout := time.Duration(body.TimeoutS) * time.Second

	res, err := s.loop.LoopTest(r.Context(), body.Phone, body.Message, dryRun, timeout)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusNotFound, "bridge not configured")
		return
	}
	messageID := chi.URLParam(r, "messageID")
	rec, err := s.bridge.GetInbound(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, parley.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown message id")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
