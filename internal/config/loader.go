package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// nestedSections maps section prefixes to the subsections that need an extra
// split when translating env variable names to config keys.
var nestedSections = map[string][]string{
	"vectorstore": {"qdrant", "chromem"},
}

// envKey maps an environment variable name to a dotted config key.
func envKey(name string) string {
	lower := strings.ToLower(name)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	section, rest := parts[0], parts[1]
	for _, sub := range nestedSections[section] {
		if strings.HasPrefix(rest, sub+"_") {
			return section + "." + sub + "." + strings.TrimPrefix(rest, sub+"_")
		}
	}
	return section + "." + rest
}

// Load loads configuration from an optional YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, GENAI_API_KEY, ...)
//  2. YAML config file (path passed in, skipped when empty or missing)
//  3. Hardcoded defaults
//
// Environment variables use underscore separator and map onto config sections:
//
//	SERVER_PORT            -> server.port
//	EMBEDDINGS_BASE_URL    -> embeddings.base_url
//	VECTORSTORE_COLLECTION -> vectorstore.collection
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}

			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	// Override with environment variables. The transformer splits on the
	// first underscore only: section, then field name. Provider subsections
	// under vectorstore get a second split so their fields stay reachable.
	//
	//	SERVER_SHUTDOWN_TIMEOUT -> server.shutdown_timeout
	//	GENAI_API_KEY           -> genai.api_key
	//	VECTORSTORE_QDRANT_HOST -> vectorstore.qdrant.host
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
