// Package transcriptarena holds live-session transcripts keyed by session
// ID. Each arena instance is independent and injectable, so concurrent
// sessions and tests never share process-wide state.
package transcriptarena

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Session is one transcription session's accumulated text.
type Session struct {
	ID        string
	Text      string
	UpdatedAt time.Time
}

// Store is the transcript lookup interface the intake path depends on.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Append(ctx context.Context, sessionID, text string) error
	Delete(ctx context.Context, sessionID string) error
}

// Arena is an in-memory Store.
type Arena struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates an empty Arena.
func New() *Arena {
	return &Arena{sessions: make(map[string]*Session)}
}

func (a *Arena) Get(ctx context.Context, sessionID string) (*Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.sessions[sessionID]
	if !ok {
		return nil, eris.Errorf("transcript session not found: %s", sessionID)
	}
	cp := *s
	return &cp, nil
}

func (a *Arena) Append(ctx context.Context, sessionID, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[sessionID]
	if !ok {
		s = &Session{ID: sessionID}
		a.sessions[sessionID] = s
	}
	if s.Text != "" && text != "" {
		s.Text += "\n"
	}
	s.Text += text
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (a *Arena) Delete(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
	return nil
}
