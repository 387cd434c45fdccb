// Package session provides a persistent chat session store backed by a single
// JSON file, keeping conversation history across server restarts.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one chat turn inside a session.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a persisted conversation.
type Session struct {
	ID        string            `json:"id"`
	Messages  []Message         `json:"messages"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Store keeps sessions in memory and mirrors every mutation to a JSON file.
// Safe for concurrent use.
type Store struct {
	path string

	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewStore opens (or creates) a store at path. A corrupted or missing file
// starts the store empty.
func NewStore(path string) *Store {
	s := &Store{
		path:     path,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	s.load()
	return s
}

// storeFile is the on-disk shape: a single document with a sessions list.
type storeFile struct {
	Sessions []*Session `json:"sessions"`
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read session file, starting empty", "path", s.path, "error", err)
		}
		return
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		slog.Warn("Session file corrupted, starting empty", "path", s.path, "error", err)
		return
	}
	for _, sess := range file.Sessions {
		if sess != nil && sess.ID != "" {
			s.sessions[sess.ID] = sess
		}
	}
	slog.Debug("Loaded sessions", "path", s.path, "count", len(s.sessions))
}

// save writes the sessions document atomically. Callers must hold the write
// lock.
func (s *Store) save() {
	file := storeFile{Sessions: make([]*Session, 0, len(s.sessions))}
	for _, sess := range s.sessions {
		file.Sessions = append(file.Sessions, sess)
	}
	sort.Slice(file.Sessions, func(i, j int) bool {
		return file.Sessions[i].UpdatedAt.After(file.Sessions[j].UpdatedAt)
	})

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal sessions", "error", err)
		return
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("Failed to create session directory", "dir", dir, "error", err)
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		slog.Error("Failed to write session file", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		slog.Error("Failed to replace session file", "path", s.path, "error", err)
	}
}

// Create registers a new session. An empty id generates a UUID.
func (s *Store) Create(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(id)
}

func (s *Store) createLocked(id string) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	now := s.now()
	sess := &Session{
		ID:        id,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[id] = sess
	s.save()
	return sess.clone()
}

// Get returns a session copy, or nil when it does not exist.
func (s *Store) Get(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return sess.clone()
}

// GetOrCreate returns the session, creating it when missing.
func (s *Store) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess.clone()
	}
	return s.createLocked(id)
}

// AddMessage appends a message, creating the session when missing.
func (s *Store) AddMessage(id, role, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		if id == "" {
			id = uuid.New().String()
		}
		now := s.now()
		sess = &Session{ID: id, Messages: []Message{}, CreatedAt: now, UpdatedAt: now}
		s.sessions[id] = sess
	}

	msg := Message{Role: role, Content: content, Timestamp: s.now()}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = msg.Timestamp
	s.save()
	return msg
}

// StoreExchange appends a user message and the assistant reply as a pair.
func (s *Store) StoreExchange(id, userMessage, assistantMessage string) {
	s.AddMessage(id, "user", userMessage)
	s.AddMessage(id, "assistant", assistantMessage)
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (s *Store) RecentMessages(id string, limit int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || limit <= 0 {
		return []Message{}
	}

	msgs := sess.Messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// BuildContext renders recent history as "User: ..." / "Assistant: ..." lines
// for prompt injection. Empty string when there is no history.
func (s *Store) BuildContext(id string, limit int) string {
	msgs := s.RecentMessages(id, limit)
	if len(msgs) == 0 {
		return ""
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		label := "User"
		if m.Role == "assistant" {
			label = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, m.Content))
	}
	return strings.Join(lines, "\n")
}

// List returns all sessions sorted by most recently updated.
func (s *Store) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Delete removes a session, reporting whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	s.save()
	return true
}

// ClearAll removes every session and returns how many were dropped.
func (s *Store) ClearAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.sessions)
	s.sessions = make(map[string]*Session)
	s.save()
	return count
}

func (sess *Session) clone() *Session {
	cp := *sess
	cp.Messages = make([]Message, len(sess.Messages))
	copy(cp.Messages, sess.Messages)
	if sess.Metadata != nil {
		cp.Metadata = make(map[string]string, len(sess.Metadata))
		for k, v := range sess.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
