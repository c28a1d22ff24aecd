package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"repairbot/internal/chat"
)

// maxBodyBytes caps chat request bodies.
const maxBodyBytes = 64 << 10

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "online",
		"message": "Repair Assistant API",
		"endpoints": map[string]string{
			"chat":          "POST /chat",
			"chat_stream":   "POST /chat/stream",
			"history":       "GET /chat/history",
			"clear_history": "DELETE /chat/history",
			"sessions":      "GET /chat/sessions",
			"usage":         "GET /analytics/usage",
			"health":        "GET /health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Bearer values are taken as the owner id without verification.
	mode := "unverified (bearer token is the user id)"
	if s.opts.BypassAuth {
		mode = "development (bypassed)"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "auth_mode": mode})
}

// ChatRequest is the body of POST /chat and POST /chat/stream.
type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	return req, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}
	res, err := s.chat.Send(r.Context(), chat.Request{
		OwnerID:  ownerFrom(r.Context()),
		ThreadID: req.ThreadID,
		Message:  req.Message,
	})
	if err != nil {
		s.log.Errorw("chat turn failed", "error", err, "request_id", requestID(r.Context()))
		writeError(w, statusFor(err), "Error: "+friendlyError(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := chat.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	view, err := s.chat.History(r.Context(), ownerFrom(r.Context()), r.URL.Query().Get("thread_id"), limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		threadID = chat.DefaultThreadID(owner)
	}
	n, err := s.chat.Clear(r.Context(), owner, threadID)
	if err != nil {
		writeError(w, statusFor(err), "Failed to clear history: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Chat history cleared successfully",
		"thread_id": threadID,
		"deleted":   n,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.chat.Session(r.Context(), ownerFrom(r.Context()), r.URL.Query().Get("thread_id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// UsageResponse is the body of GET /analytics/usage.
type UsageResponse struct {
	OwnerID      string     `json:"user_id"`
	TotalTokens  int64      `json:"total_tokens"`
	RequestCount int64      `json:"request_count"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	u, err := s.chat.Usage(r.Context(), owner)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := UsageResponse{OwnerID: owner, TotalTokens: u.TotalTokens, RequestCount: u.RequestCount}
	if !u.UpdatedAt.IsZero() {
		resp.UpdatedAt = &u.UpdatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrNoOwner):
		return http.StatusUnauthorized
	case isRateLimited(err):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
