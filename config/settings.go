package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server     ServerSettings     `json:"server"`
	Database   DatabaseSettings   `json:"database"`
	Sources    SourceSettings     `json:"sources"`
	Sync       SyncSettings       `json:"sync"`
	Membership MembershipSettings `json:"membership"`
	Log        LogConfig          `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	PIN  string `json:"pin"`
}

// DatabaseSettings defines where the sqlite store lives.
type DatabaseSettings struct {
	Path string `json:"path"`
}

// BackendSettings configures one media-server backend. A backend with an
// empty URL or Enabled=false is skipped entirely during sync.
type BackendSettings struct {
	URL     string `json:"url"`
	APIKey  string `json:"apiKey"`
	Enabled bool   `json:"enabled"`
}

// Configured reports whether the backend can actually be called.
func (b BackendSettings) Configured() bool {
	return b.Enabled && b.URL != "" && b.APIKey != ""
}

// SourceSettings holds per-backend connection settings. Plex has no watch
// history endpoint of its own, so the Plex entry points at a Tautulli
// instance instead.
type SourceSettings struct {
	Jellyfin BackendSettings `json:"jellyfin"`
	Emby     BackendSettings `json:"emby"`
	Tautulli BackendSettings `json:"tautulli"`
}

// SyncSettings controls the sync orchestrator.
type SyncSettings struct {
	MaxConcurrent   int  `json:"maxConcurrent"`   // cap on concurrent (account, source) fetches
	FetchTimeoutSec int  `json:"fetchTimeoutSec"` // per-fetch timeout; an expired fetch fails only that pair
	IntervalHours   int  `json:"intervalHours"`   // scheduled full-sync interval (0 disables the scheduler)
	KeepRuns        int  `json:"keepRuns"`        // sync_run rows retained for /api/runs
}

// MembershipSettings is the threshold-hours-per-period policy consumed
// read-only by the evaluator.
type MembershipSettings struct {
	ThresholdHours float64 `json:"thresholdHours"`
	WindowDays     int     `json:"windowDays"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 8484},
		Database: DatabaseSettings{Path: "data/watchtally.db"},
		Sources: SourceSettings{
			Jellyfin: BackendSettings{Enabled: true},
			Emby:     BackendSettings{Enabled: true},
			Tautulli: BackendSettings{Enabled: true},
		},
		Sync: SyncSettings{
			MaxConcurrent:   4,
			FetchTimeoutSec: 60,
			IntervalHours:   24,
			KeepRuns:        50,
		},
		Membership: MembershipSettings{
			ThresholdHours: 4,
			WindowDays:     30,
		},
		Log: LogConfig{
			File:       "data/logs/watchtally.log",
			Level:      "info",
			MaxSize:    50, // MB per file
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads the settings file from disk or creates defaults if missing.
// Zero values in sections with required minimums are backfilled so configs
// written by older versions keep working.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	s := DefaultSettings()
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}

	if s.Sync.MaxConcurrent < 1 {
		s.Sync.MaxConcurrent = 4
	}
	if s.Sync.FetchTimeoutSec < 1 {
		s.Sync.FetchTimeoutSec = 60
	}
	if s.Sync.KeepRuns < 1 {
		s.Sync.KeepRuns = 50
	}

	return s, nil
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
