// Package store persists the small amount of client-local state that must
// survive a restart: the credential pair and user preferences.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"taskflow-client/internal/models"
)

const (
	credentialsFile = "credentials.json"
	settingsFile    = "settings.json"
)

// Store is a file-backed key-value store rooted at a state directory.
type Store struct {
	dir string
}

type settings struct {
	SoundEnabled *bool `json:"sound_enabled,omitempty"`
}

// Open prepares the state directory. An empty dir defaults to ~/.taskflow.
func Open(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".taskflow")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory path.
func (s *Store) Dir() string { return s.dir }

// SaveCredentials writes the credential pair with owner-only permissions.
func (s *Store) SaveCredentials(c models.Credentials) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, credentialsFile), data, 0600)
}

// LoadCredentials reads the persisted credential pair. A missing file
// returns os.ErrNotExist.
func (s *Store) LoadCredentials() (models.Credentials, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, credentialsFile))
	if err != nil {
		return models.Credentials{}, err
	}
	var c models.Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return models.Credentials{}, err
	}
	return c, nil
}

// ClearCredentials removes the persisted credential pair. Removing an
// already-absent file is not an error.
func (s *Store) ClearCredentials() error {
	err := os.Remove(filepath.Join(s.dir, credentialsFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// SoundEnabled reports the persisted sound preference. Sound is on unless
// explicitly disabled.
func (s *Store) SoundEnabled() bool {
	cfg, err := s.loadSettings()
	if err != nil || cfg.SoundEnabled == nil {
		return true
	}
	return *cfg.SoundEnabled
}

// SetSoundEnabled persists the sound preference.
func (s *Store) SetSoundEnabled(enabled bool) error {
	cfg, _ := s.loadSettings()
	cfg.SoundEnabled = &enabled
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, settingsFile), data, 0600)
}

func (s *Store) loadSettings() (settings, error) {
	var cfg settings
	data, err := os.ReadFile(filepath.Join(s.dir, settingsFile))
	if err != nil {
		return cfg, err
	}
	err = json.Unmarshal(data, &cfg)
	return cfg, err
}
