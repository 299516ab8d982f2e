// Package settings stores clinician preferences in the local cache.
package settings

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/localstore"
)

// Themes the UI knows how to render.
const (
	ThemeSystem = "system"
	ThemeLight  = "light"
	ThemeDark   = "dark"
)

// Settings are the clinician-facing preferences. AutosaveQuiet
// suppresses per-autosave notifications while keeping the saves.
type Settings struct {
	ClinicName    string `json:"clinicName"`
	ClinicianName string `json:"clinicianName"`
	Specialty     string `json:"specialty"`
	AutosaveQuiet bool   `json:"autosaveQuiet"`
	Theme         string `json:"theme"`
}

// Defaults returns the settings used before anything is stored.
func Defaults() Settings {
	return Settings{Theme: ThemeSystem}
}

// Service reads and writes the settings bucket. Safe for concurrent
// use.
type Service struct {
	store  *localstore.Store
	logger *zap.Logger

	mu      sync.Mutex
	current Settings
}

// NewService loads stored settings, falling back to defaults when the
// bucket is empty or unreadable.
func NewService(store *localstore.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("settings: store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:   store,
		logger:  logger.Named("settings"),
		current: Defaults(),
	}

	var stored Settings
	if store.Load(localstore.BucketSettings, &stored) {
		if stored.Theme == "" {
			stored.Theme = ThemeSystem
		}
		s.current = stored
	}

	return s, nil
}

// Get returns the current settings.
func (s *Service) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Put validates, stores, and returns the new settings. An empty theme
// means "system".
func (s *Service) Put(in Settings) (Settings, error) {
	if in.Theme == "" {
		in.Theme = ThemeSystem
	}
	switch in.Theme {
	case ThemeSystem, ThemeLight, ThemeDark:
	default:
		return Settings{}, fmt.Errorf("unknown theme %q", in.Theme)
	}

	s.mu.Lock()
	s.current = in
	s.store.Save(localstore.BucketSettings, in)
	s.mu.Unlock()

	s.logger.Debug("settings updated", zap.String("theme", in.Theme))
	return in, nil
}
