// Package keyring remembers the last mode-switch key pair so the keys don't
// have to be re-typed for every flash. The keys are stored as plain JSON
// under the user's config directory; they are a reflashing guard, not a
// secret.
package keyring

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

type stored struct {
	Key1 uint16 `json:"key1"`
	Key2 uint16 `json:"key2"`
}

func path() string {
	return filepath.Join(xdg.ConfigHome, "hrmflash", "keys.json")
}

// Save persists a key pair, replacing any previous one.
func Save(key1, key2 uint16) error {
	p := path()
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.Marshal(stored{Key1: key1, Key2: key2})
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	return nil
}

// Load returns the saved key pair, if any. ok is false when no keys have
// been saved yet.
func Load() (key1, key2 uint16, ok bool, err error) {
	data, err := os.ReadFile(path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	var s stored
	if err := json.Unmarshal(data, &s); err != nil {
		return 0, 0, false, fmt.Errorf("parsing %s: %w", path(), err)
	}
	return s.Key1, s.Key2, true, nil
}
