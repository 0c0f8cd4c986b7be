// Package dotdir manages the .ollamabridge/ and ~/.ollamabridge directories.
//
// The directory holds config.toml and the saved chat session of the
// "ollamabridge chat" client.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DirName is the name of the bridge's state directory.
	DirName = ".ollamabridge"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the target absolute path to a .ollamabridge/ directory.
// Order of precedence is as follows:
//  1. Provided override
//  2. Local ./.ollamabridge/ dir
//  3. Home ~/.ollamabridge/ dir, created if missing
func (m *Manager) Target(overrideDir string) (string, error) {
	var dir string

	switch {
	case overrideDir != "":
		dir = overrideDir

	case m.localDirExists():
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		dir = filepath.Join(cwd, DirName)

	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, DirName)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating %s directory %s: %w", DirName, dir, err)
	}

	return filepath.Abs(dir)
}

// localDirExists checks whether a .ollamabridge/ directory exists in the
// current working directory.
func (m *Manager) localDirExists() bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}

	info, err := os.Stat(filepath.Join(cwd, DirName))
	return err == nil && info.IsDir()
}
