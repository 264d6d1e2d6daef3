package inmemory

import (
	"log/slog"
	"sync"

	"github.com/sharetube/watchsync/internal/repository/connection"
)

type repo struct {
	sessions map[string]map[string]connection.Conn
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		sessions: make(map[string]map[string]connection.Conn),
		logger:   logger,
	}
}

func (r *repo) Add(sessionId, userId string, conn connection.Conn) error {
	funcName := "connection.inmemory.Add"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug(funcName, "session_id", sessionId, "user_id", userId)
	conns, ok := r.sessions[sessionId]
	if !ok {
		conns = make(map[string]connection.Conn)
		r.sessions[sessionId] = conns
	}

	if _, exists := conns[userId]; exists {
		r.logger.Info(funcName, "error", connection.ErrAlreadyExists)
		return connection.ErrAlreadyExists
	}

	conns[userId] = conn
	return nil
}

// Remove drops the connection of userId if it is still conn. It does not
// close the connection.
func (r *repo) Remove(sessionId, userId string, conn connection.Conn) error {
	funcName := "connection.inmemory.Remove"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug(funcName, "session_id", sessionId, "user_id", userId)
	conns := r.sessions[sessionId]
	current, ok := conns[userId]
	if !ok || current != conn {
		return connection.ErrNotFound
	}

	delete(conns, userId)
	if len(conns) == 0 {
		delete(r.sessions, sessionId)
	}

	return nil
}

// RemoveSession drops every connection of the session and returns them.
func (r *repo) RemoveSession(sessionId string) map[string]connection.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.sessions[sessionId]
	delete(r.sessions, sessionId)

	return conns
}

func (r *repo) Get(sessionId, userId string) (connection.Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.sessions[sessionId][userId]
	if !ok {
		return nil, connection.ErrNotFound
	}

	return conn, nil
}

// List returns a copy of the session connections keyed by user id.
func (r *repo) List(sessionId string) map[string]connection.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make(map[string]connection.Conn, len(r.sessions[sessionId]))
	for userId, conn := range r.sessions[sessionId] {
		conns[userId] = conn
	}

	return conns
}
