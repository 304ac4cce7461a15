package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Store persists calibration profiles as a JSON file keyed by device
// identity (vendor:product), so a wheel that reappears keeps its ranges.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads all stored profiles. A missing file is an empty store.
func (s *Store) Load() (map[string]*Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]*Profile{}, nil
		}
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	profiles := map[string]*Profile{}
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	return profiles, nil
}

// Lookup returns the stored profile for a device key, or nil.
func (s *Store) Lookup(key string) *Profile {
	profiles, err := s.Load()
	if err != nil {
		log.Printf("Profile store unreadable: %v", err)
		return nil
	}
	return profiles[key]
}

// Put saves a profile under its device key, replacing any previous one.
// The write goes through a temp file so a crash never leaves a torn store.
func (s *Store) Put(p *Profile) error {
	profiles, err := s.Load()
	if err != nil {
		profiles = map[string]*Profile{}
	}
	profiles[p.DeviceKey] = p

	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("profile dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace profiles: %w", err)
	}
	log.Printf("Saved calibration profile for %s (%s)", p.DeviceName, p.DeviceKey)
	return nil
}
