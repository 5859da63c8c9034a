package channelstore

import (
	"fmt"
)

// Backend names accepted in configuration.
const (
	BackendMemory  = "memory"
	BackendPebble  = "pebble"
	BackendLevelDB = "leveldb"
)

// Config selects and parameterizes a store backend.
type Config struct {
	Backend string
	Path    string
}

// Open creates the configured store backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendPebble:
		if cfg.Path == "" {
			return nil, fmt.Errorf("pebble backend requires a path")
		}
		return OpenPebble(cfg.Path)
	case BackendLevelDB:
		if cfg.Path == "" {
			return nil, fmt.Errorf("leveldb backend requires a path")
		}
		return OpenLevelDB(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Backend)
	}
}
