package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	sessionFile = "session.json"
)

// ChatSession is the conversation "ollamabridge chat" resumes on its next
// start.
type ChatSession struct {
	Model    string           `json:"model"`
	Messages []SessionMessage `json:"messages"`
}

// SessionMessage is one turn of a saved chat session.
type SessionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LoadSession loads the saved chat session. Returns nil, nil when none
// exists.
func (m *Manager) LoadSession(overrideDir string) (*ChatSession, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, sessionFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading chat session: %w", err)
	}

	session := &ChatSession{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("parsing chat session: %w", err)
	}

	return session, nil
}

// SaveSession persists session, replacing any previous one.
func (m *Manager) SaveSession(session *ChatSession, overrideDir string) error {
	if session == nil {
		return errors.New("cannot save nil chat session")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling chat session: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, sessionFile), data, 0o600); err != nil {
		return fmt.Errorf("writing chat session: %w", err)
	}

	return nil
}

// ClearSession removes the saved chat session so the next chat starts
// fresh. A missing session is not an error.
func (m *Manager) ClearSession(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, sessionFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing chat session: %w", err)
	}

	return nil
}
