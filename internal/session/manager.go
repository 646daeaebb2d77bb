// Package session keeps live chat sessions in memory. Sessions are
// ephemeral working state; durable history lives in the convo package.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bloxbuddy/wizard/internal/answer"
)

const (
	defaultMaxHistory    = 50
	defaultTimeout       = time.Hour
	defaultSweepInterval = 5 * time.Minute
)

// ErrSessionNotFound is returned when a session id is unknown or the
// session already expired.
var ErrSessionNotFound = errors.New("session not found")

// Message is one chat turn held in session history.
type Message struct {
	ID           string            `json:"id"`
	Role         string            `json:"role"`
	Content      string            `json:"content"`
	Timestamp    time.Time         `json:"timestamp"`
	Citations    []answer.Citation `json:"citations,omitempty"`
	Satisfaction int               `json:"satisfaction,omitempty"`
}

// VideoContext pins a session to the video the user is watching.
type VideoContext struct {
	VideoID   string `json:"video_id"`
	SourceID  string `json:"source_id"`
	Title     string `json:"title"`
	Timestamp int    `json:"timestamp,omitempty"`
}

// Preferences tunes answer generation for one user.
type Preferences struct {
	ResponseStyle string `json:"response_style,omitempty"`
}

// ChatSession is the live state for one conversation.
type ChatSession struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Messages     []Message     `json:"messages"`
	VideoContext *VideoContext `json:"video_context,omitempty"`
	Preferences  Preferences   `json:"preferences"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// Stats summarizes the session table for diagnostics.
type Stats struct {
	ActiveSessions int `json:"active_sessions"`
	TotalMessages  int `json:"total_messages"`
	UniqueUsers    int `json:"unique_users"`
}

// Config controls session lifecycle.
type Config struct {
	MaxHistory    int
	Timeout       time.Duration
	SweepInterval time.Duration
}

// Manager owns the session table. One mutex guards the whole map;
// mutations are short critical sections and never span network I/O.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*ChatSession

	maxHistory int
	timeout    time.Duration

	ticker *time.Ticker
	done   chan struct{}
	now    func() time.Time
}

// NewManager creates a manager and arms the sweep ticker. Call Close
// to stop it.
func NewManager(cfg Config) *Manager {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	m := &Manager{
		sessions:   make(map[string]*ChatSession),
		maxHistory: cfg.MaxHistory,
		timeout:    cfg.Timeout,
		ticker:     time.NewTicker(cfg.SweepInterval),
		done:       make(chan struct{}),
		now:        time.Now,
	}
	go m.sweepLoop()
	return m
}

// Close stops the sweep goroutine. Call it exactly once.
func (m *Manager) Close() {
	m.ticker.Stop()
	close(m.done)
}

func (m *Manager) sweepLoop() {
	for {
		select {
		case <-m.ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) sweep() {
	cutoff := m.now().Add(-m.timeout)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}

func (m *Manager) expired(s *ChatSession) bool {
	return m.now().Sub(s.LastActivity) > m.timeout
}

// GetOrCreateSession returns the user's newest non-expired session, or
// creates one. A provided video context is merged either way.
func (m *Manager) GetOrCreateSession(userID string, videoContext *VideoContext) *ChatSession {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var newest *ChatSession
	for _, s := range m.sessions {
		if s.UserID != userID || m.expired(s) {
			continue
		}
		if newest == nil || s.LastActivity.After(newest.LastActivity) {
			newest = s
		}
	}

	if newest == nil {
		newest = &ChatSession{
			ID:           newSessionID(userID, now),
			UserID:       userID,
			CreatedAt:    now,
			LastActivity: now,
		}
		m.sessions[newest.ID] = newest
	}

	newest.LastActivity = now
	if videoContext != nil {
		newest.VideoContext = videoContext
	}
	return snapshot(newest)
}

// GetSession returns a copy of the session, or ErrSessionNotFound if it
// is unknown or expired.
func (m *Manager) GetSession(sessionID string) (*ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || m.expired(s) {
		return nil, ErrSessionNotFound
	}
	return snapshot(s), nil
}

// AddMessage appends one turn, bumps activity, and trims history to the
// configured bound by dropping the oldest messages.
func (m *Manager) AddMessage(sessionID, role, content string, citations []answer.Citation) (Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: m.now(),
		Citations: citations,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || m.expired(s) {
		return Message{}, ErrSessionNotFound
	}

	s.Messages = append(s.Messages, msg)
	if len(s.Messages) > m.maxHistory {
		s.Messages = s.Messages[len(s.Messages)-m.maxHistory:]
	}
	s.LastActivity = msg.Timestamp
	return msg, nil
}

// UpdateMessageSatisfaction records a 1..5 rating on a message, clamping
// out-of-range values.
func (m *Manager) UpdateMessageSatisfaction(sessionID, messageID string, rating int) error {
	if rating < 1 {
		rating = 1
	}
	if rating > 5 {
		rating = 5
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || m.expired(s) {
		return ErrSessionNotFound
	}
	for i := range s.Messages {
		if s.Messages[i].ID == messageID {
			s.Messages[i].Satisfaction = rating
			return nil
		}
	}
	return fmt.Errorf("message %s not found in session %s", messageID, sessionID)
}

// UpdateVideoContext replaces the session's video context.
func (m *Manager) UpdateVideoContext(sessionID string, vc *VideoContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || m.expired(s) {
		return ErrSessionNotFound
	}
	s.VideoContext = vc
	s.LastActivity = m.now()
	return nil
}

// UpdatePreferences replaces the session's preferences.
func (m *Manager) UpdatePreferences(sessionID string, prefs Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || m.expired(s) {
		return ErrSessionNotFound
	}
	s.Preferences = prefs
	s.LastActivity = m.now()
	return nil
}

// EndSession removes a session immediately.
func (m *Manager) EndSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

// GetUserSessions lists the user's non-expired sessions, newest first.
func (m *Manager) GetUserSessions(userID string) []*ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ChatSession
	for _, s := range m.sessions {
		if s.UserID == userID && !m.expired(s) {
			out = append(out, snapshot(s))
		}
	}
	sortByActivityDesc(out)
	return out
}

// SessionStats reports aggregate counts over non-expired sessions.
func (m *Manager) SessionStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{}
	users := make(map[string]bool)
	for _, s := range m.sessions {
		if m.expired(s) {
			continue
		}
		stats.ActiveSessions++
		stats.TotalMessages += len(s.Messages)
		users[s.UserID] = true
	}
	stats.UniqueUsers = len(users)
	return stats
}

func sortByActivityDesc(sessions []*ChatSession) {
	for i := 1; i < len(sessions); i++ {
		for j := i; j > 0 && sessions[j].LastActivity.After(sessions[j-1].LastActivity); j-- {
			sessions[j], sessions[j-1] = sessions[j-1], sessions[j]
		}
	}
}

// snapshot copies a session so callers can read it without holding the
// manager lock. Message slices share no backing array with the live
// session.
func snapshot(s *ChatSession) *ChatSession {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	if s.VideoContext != nil {
		vc := *s.VideoContext
		cp.VideoContext = &vc
	}
	return &cp
}

func newSessionID(userID string, now time.Time) string {
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("session_%s_%d_%s", userID, now.UnixMilli(), suffix)
}
