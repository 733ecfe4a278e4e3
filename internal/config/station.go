package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// StationFileName is the identity file in the data directory.
const StationFileName = "station.toml"

// Station identifies one workstation. Its client id tags every audit entry
// the station authors so realtime echoes of its own writes can be dropped.
type Station struct {
	ClientID  string    `toml:"client_id"`
	Name      string    `toml:"name,omitempty"`
	CreatedAt time.Time `toml:"created_at"`
}

// LoadStation reads the station file at path, creating it with a fresh
// client id when it does not exist. created reports whether a new identity
// was written.
func LoadStation(path string) (station *Station, created bool, err error) {
	var s Station
	_, err = toml.DecodeFile(path, &s)
	switch {
	case err == nil:
		if strings.TrimSpace(s.ClientID) == "" {
			return nil, false, fmt.Errorf("station file %s has no client_id", path)
		}
		return &s, false, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("failed to read station file: %w", err)
	}

	host, _ := os.Hostname()
	s = Station{
		ClientID:  uuid.NewString(),
		Name:      host,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := SaveStation(path, &s); err != nil {
		return nil, false, err
	}
	return &s, true, nil
}

// SaveStation writes s to path atomically.
func SaveStation(path string, s *Station) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("failed to encode station: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write station file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace station file: %w", err)
	}
	return nil
}
