// Package server exposes the chat pipeline over HTTP. Retrieval and
// generation failures degrade inside their packages; the only errors
// this surface turns into 5xx are storage failures.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bloxbuddy/wizard/internal/answer"
	"github.com/bloxbuddy/wizard/internal/convo"
	"github.com/bloxbuddy/wizard/internal/search"
	"github.com/bloxbuddy/wizard/internal/session"
)

const (
	requestTimeout = 30 * time.Second
	anonymousUser  = "anonymous"
)

const limitReachedAnswer = "You've used all your questions for today. " +
	"Come back tomorrow and we'll pick up where we left off!"

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	Message      string                `json:"message"`
	SessionID    string                `json:"sessionId,omitempty"`
	UserID       string                `json:"userId,omitempty"`
	VideoContext *session.VideoContext `json:"videoContext,omitempty"`
}

// ChatResponse is the POST /api/chat reply.
type ChatResponse struct {
	Answer             string            `json:"answer"`
	VideoReferences    []answer.Citation `json:"videoReferences"`
	SuggestedQuestions []string          `json:"suggestedQuestions"`
	UsageRemaining     int               `json:"usageRemaining"`
	ResponseTime       int64             `json:"responseTime"`
	SessionID          string            `json:"sessionId"`
}

// RateRequest is the POST /api/chat/rate body.
type RateRequest struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Rating    int    `json:"rating"`
}

// Server wires sessions, retrieval, generation and persistence behind
// the HTTP surface.
type Server struct {
	sessions  *session.Manager
	searcher  *search.Service
	generator *answer.Generator
	convos    *convo.Store
	db        *sql.DB
	usage     *usageTracker
}

func New(sessions *session.Manager, searcher *search.Service, generator *answer.Generator, convos *convo.Store, db *sql.DB, dailyQuestions int) *Server {
	return &Server{
		sessions:  sessions,
		searcher:  searcher,
		generator: generator,
		convos:    convos,
		db:        db,
		usage:     newUsageTracker(dailyQuestions),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/rate", s.handleRate)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.UserID == "" {
		req.UserID = anonymousUser
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	sess := s.resolveSession(req)

	if !s.usage.consume(req.UserID) {
		writeJSON(w, http.StatusOK, ChatResponse{
			Answer:             limitReachedAnswer,
			VideoReferences:    []answer.Citation{},
			SuggestedQuestions: []string{},
			ResponseTime:       time.Since(start).Milliseconds(),
			SessionID:          sess.ID,
		})
		return
	}

	history := historyTurns(sess.Messages)

	if _, err := s.sessions.AddMessage(sess.ID, "user", req.Message, nil); err != nil {
		// Session expired between resolve and append; start fresh.
		sess = s.sessions.GetOrCreateSession(req.UserID, req.VideoContext)
		if _, err := s.sessions.AddMessage(sess.ID, "user", req.Message, nil); err != nil {
			writeError(w, http.StatusInternalServerError, "session unavailable")
			return
		}
	}

	searchResp, err := s.searcher.Search(ctx, req.Message, nil)
	if err != nil {
		// Only an empty query errors here, and that was rejected above.
		log.Printf("server: search: %v", err)
	}

	videoTitle := ""
	if sess.VideoContext != nil {
		videoTitle = sess.VideoContext.Title
	}

	gen := s.generator.Generate(ctx, answer.Request{
		Question:      req.Message,
		Results:       searchResp.Results,
		History:       history,
		ResponseStyle: sess.Preferences.ResponseStyle,
		VideoTitle:    videoTitle,
	})

	if _, err := s.sessions.AddMessage(sess.ID, "assistant", gen.Answer, gen.Citations); err != nil {
		log.Printf("server: record assistant message: %v", err)
	}

	if err := s.persistTurn(ctx, sess, req.Message, gen); err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	citations := gen.Citations
	if citations == nil {
		citations = []answer.Citation{}
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		Answer:             gen.Answer,
		VideoReferences:    citations,
		SuggestedQuestions: gen.SuggestedQuestions,
		UsageRemaining:     s.usage.remaining(req.UserID),
		ResponseTime:       time.Since(start).Milliseconds(),
		SessionID:          sess.ID,
	})
}

func (s *Server) resolveSession(req ChatRequest) *session.ChatSession {
	if req.SessionID != "" {
		if sess, err := s.sessions.GetSession(req.SessionID); err == nil {
			if req.VideoContext != nil {
				_ = s.sessions.UpdateVideoContext(sess.ID, req.VideoContext)
				sess.VideoContext = req.VideoContext
			}
			return sess
		}
	}
	return s.sessions.GetOrCreateSession(req.UserID, req.VideoContext)
}

func (s *Server) persistTurn(ctx context.Context, sess *session.ChatSession, question string, gen answer.Response) error {
	conv, err := s.convos.ResolveConversation(ctx, sess.ID, sess.UserID, question)
	if err != nil {
		return err
	}
	if _, err := s.convos.SaveMessage(ctx, conv.ID, "user", question, nil); err != nil {
		return err
	}
	if _, err := s.convos.SaveMessage(ctx, conv.ID, "assistant", gen.Answer, gen.Citations); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.SessionID == "" || req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "sessionId and messageId are required")
		return
	}

	if err := s.sessions.UpdateMessageSatisfaction(req.SessionID, req.MessageID, req.Rating); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func historyTurns(messages []session.Message) []answer.Turn {
	turns := make([]answer.Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, answer.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
