package session

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(cfg)
	t.Cleanup(m.Close)
	return m
}

func TestGetOrCreateSessionReusesActive(t *testing.T) {
	m := newTestManager(t, Config{})

	first := m.GetOrCreateSession("user1", nil)
	second := m.GetOrCreateSession("user1", nil)
	assert.Equal(t, first.ID, second.ID)

	other := m.GetOrCreateSession("user2", nil)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestSessionIDFormat(t *testing.T) {
	m := newTestManager(t, Config{})
	s := m.GetOrCreateSession("user1", nil)

	parts := strings.Split(s.ID, "_")
	require.GreaterOrEqual(t, len(parts), 4)
	assert.Equal(t, "session", parts[0])
	assert.Equal(t, "user1", parts[1])
}

func TestAddMessageTrimsHistory(t *testing.T) {
	m := newTestManager(t, Config{MaxHistory: 5})
	s := m.GetOrCreateSession("user1", nil)

	for i := 0; i < 12; i++ {
		_, err := m.AddMessage(s.ID, "user", fmt.Sprintf("message %d", i), nil)
		require.NoError(t, err)
	}

	got, err := m.GetSession(s.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 5)
	// Oldest dropped, newest kept.
	assert.Equal(t, "message 7", got.Messages[0].Content)
	assert.Equal(t, "message 11", got.Messages[4].Content)
}

func TestAddMessageUnknownSession(t *testing.T) {
	m := newTestManager(t, Config{})
	_, err := m.AddMessage("nope", "user", "hello", nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExpiredSessionNotReturned(t *testing.T) {
	m := newTestManager(t, Config{Timeout: time.Hour})
	s := m.GetOrCreateSession("user1", nil)

	// Shift the clock past the timeout.
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := m.GetSession(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	fresh := m.GetOrCreateSession("user1", nil)
	assert.NotEqual(t, s.ID, fresh.ID)
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	m := newTestManager(t, Config{Timeout: time.Hour})
	m.GetOrCreateSession("user1", nil)
	m.GetOrCreateSession("user2", nil)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	m.sweep()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.sessions)
}

func TestSatisfactionClamped(t *testing.T) {
	m := newTestManager(t, Config{})
	s := m.GetOrCreateSession("user1", nil)
	msg, err := m.AddMessage(s.ID, "assistant", "answer", nil)
	require.NoError(t, err)

	require.NoError(t, m.UpdateMessageSatisfaction(s.ID, msg.ID, 9))
	got, err := m.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Messages[0].Satisfaction)

	require.NoError(t, m.UpdateMessageSatisfaction(s.ID, msg.ID, -3))
	got, err = m.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Messages[0].Satisfaction)
}

func TestUpdateVideoContext(t *testing.T) {
	m := newTestManager(t, Config{})
	s := m.GetOrCreateSession("user1", nil)

	vc := &VideoContext{VideoID: "v1", SourceID: "abc123", Title: "Beginner Scripting"}
	require.NoError(t, m.UpdateVideoContext(s.ID, vc))

	got, err := m.GetSession(s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.VideoContext)
	assert.Equal(t, "Beginner Scripting", got.VideoContext.Title)
}

func TestEndSession(t *testing.T) {
	m := newTestManager(t, Config{})
	s := m.GetOrCreateSession("user1", nil)

	require.NoError(t, m.EndSession(s.ID))
	_, err := m.GetSession(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.EndSession(s.ID), ErrSessionNotFound)
}

func TestSessionStats(t *testing.T) {
	m := newTestManager(t, Config{})
	a := m.GetOrCreateSession("user1", nil)
	b := m.GetOrCreateSession("user2", nil)

	_, err := m.AddMessage(a.ID, "user", "q", nil)
	require.NoError(t, err)
	_, err = m.AddMessage(b.ID, "user", "q", nil)
	require.NoError(t, err)
	_, err = m.AddMessage(b.ID, "assistant", "a", nil)
	require.NoError(t, err)

	stats := m.SessionStats()
	assert.Equal(t, 2, stats.ActiveSessions)
	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, 2, stats.UniqueUsers)
}

func TestConcurrentAddMessage(t *testing.T) {
	m := newTestManager(t, Config{MaxHistory: 1000})
	s := m.GetOrCreateSession("user1", nil)

	const goroutines = 20
	const perGoroutine = 25

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if _, err := m.AddMessage(s.ID, "user", fmt.Sprintf("g%d-%d", g, i), nil); err != nil {
					t.Errorf("AddMessage: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	got, err := m.GetSession(s.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, goroutines*perGoroutine)
}

func TestGetUserSessionsNewestFirst(t *testing.T) {
	m := newTestManager(t, Config{})
	now := time.Now()

	m.mu.Lock()
	m.sessions["s-old"] = &ChatSession{ID: "s-old", UserID: "user1", LastActivity: now.Add(-10 * time.Minute)}
	m.sessions["s-new"] = &ChatSession{ID: "s-new", UserID: "user1", LastActivity: now}
	m.sessions["s-other"] = &ChatSession{ID: "s-other", UserID: "user2", LastActivity: now}
	m.mu.Unlock()

	sessions := m.GetUserSessions("user1")
	require.Len(t, sessions, 2)
	assert.Equal(t, "s-new", sessions[0].ID)
	assert.Equal(t, "s-old", sessions[1].ID)
}
