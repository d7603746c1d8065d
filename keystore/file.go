package keystore

import (
	"encoding/json"
	"fmt"
	"os"
)

// Key is one named API key.
type Key struct {
	Name string `json:"name" mapstructure:"name"`
	Key  string `json:"key" mapstructure:"key"`
}

// LoadFile loads API keys from a JSON file holding an array of entries:
//
//	[
//	  {"name": "ci", "key": "lghtr_3f9a..."},
//	  {"name": "ops", "key": "lghtr_77b1..."}
//	]
//
// Returns a map of key to name. Entries missing either field are skipped.
func LoadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path is from trusted config file
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}

	var entries []Key
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}

	keys := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Name != "" && e.Key != "" {
			keys[e.Key] = e.Name
		}
	}

	return keys, nil
}
