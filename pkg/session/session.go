// Package session keeps short-lived chat histories in memory.
//
// Histories are keyed by session id, capped in length, and evicted after a
// period of inactivity. Nothing here survives a restart; durable chat
// history belongs to projects.
package session

import (
	"sync"
	"time"
)

// maxMessages caps one session's history. The oldest messages fall off.
const maxMessages = 50

// Message is one chat turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type session struct {
	messages []Message
	touched  time.Time
}

// Service stores chat histories in memory with TTL eviction.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewService creates a session store. Sessions idle longer than ttl are
// evicted; a non-positive ttl defaults to one hour.
func NewService(ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &Service{
		sessions: make(map[string]*session),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Close stops the eviction goroutine.
func (s *Service) Close() {
	s.once.Do(func() { close(s.stop) })
}

// Append adds one message to a session, creating the session on first use.
func (s *Service) Append(sessionID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{}
		s.sessions[sessionID] = sess
	}

	sess.messages = append(sess.messages, Message{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	if len(sess.messages) > maxMessages {
		sess.messages = sess.messages[len(sess.messages)-maxMessages:]
	}
	sess.touched = time.Now().UTC()
}

// History returns a copy of a session's messages in order. Unknown sessions
// yield an empty history.
func (s *Service) History(sessionID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	sess.touched = time.Now().UTC()
	return append([]Message(nil), sess.messages...)
}

// Clear drops a session's history.
func (s *Service) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

func (s *Service) janitor() {
	interval := s.ttl / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictIdle(time.Now().UTC())
		}
	}
}

// evictIdle drops sessions untouched for longer than the TTL.
func (s *Service) evictIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if now.Sub(sess.touched) >= s.ttl {
			delete(s.sessions, id)
		}
	}
}
