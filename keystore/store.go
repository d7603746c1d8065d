// Package keystore provides API-key lookup for the gateway. Keys come from
// inline config, a JSON file, or both merged into one map-backed store.
package keystore

// Store resolves a gateway API key to the name it was issued under.
type Store interface {
	// Lookup returns the key's name, or an error wrapping
	// lighter.ErrUnauthorized when the key is unknown.
	Lookup(key string) (string, error)
}

// Config holds configuration for loading API keys.
type Config struct {
	Inline []Key  `mapstructure:"inline"` // key entries straight from config
	File   string `mapstructure:"file"`   // path to a JSON file of key entries
}

// New creates a Store from cfg, merging inline keys with the file's keys.
// File entries take precedence over inline ones on duplicates.
func New(cfg Config) (Store, error) {
	keys := make(map[string]string)

	for _, k := range cfg.Inline {
		if k.Name != "" && k.Key != "" {
			keys[k.Key] = k.Name
		}
	}

	if cfg.File != "" {
		fileKeys, err := LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		for k, v := range fileKeys {
			keys[k] = v
		}
	}

	return NewMapStore(keys), nil
}
