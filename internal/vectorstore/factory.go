package vectorstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raglab/ragd/internal/config"
)

// New creates the configured Index backend.
//
// "chromem" runs embedded with optional persistence, "qdrant" connects to an
// external server over gRPC.
func New(cfg config.VectorStoreConfig) (Index, error) {
	switch cfg.Provider {
	case "chromem":
		path, err := expandHome(cfg.Chromem.Path)
		if err != nil {
			return nil, fmt.Errorf("resolving chromem path: %w", err)
		}
		return NewChromemIndex(ChromemConfig{
			Path:     path,
			Compress: cfg.Chromem.Compress,
		})
	case "qdrant":
		return NewQdrantIndex(QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey.Value(),
			UseTLS: cfg.Qdrant.UseTLS,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// expandHome resolves a leading "~/" against the user's home directory.
func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
