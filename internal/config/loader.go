package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// sections maps each top-level config section to its nested subsections.
// The env transformer only accepts variables whose prefix is listed here.
var sections = map[string][]string{
	"server":        nil,
	"observability": {"telemetry"},
	"logging":       nil,
	"vectorstore":   {"qdrant", "chromem"},
	"embeddings":    nil,
	"llm":           nil,
	"retrieval":     nil,
	"conversation":  {"redis"},
	"events":        nil,
	"prompts":       nil,
}

// LoadWithFile loads configuration from a YAML file and then overrides it
// with environment variables.
//
// Precedence (highest first):
//  1. Environment variables (SERVER_PORT, RETRIEVAL_RRF_K, VECTORSTORE_QDRANT_HOST, ...)
//  2. YAML config file (~/.config/ragd/config.yaml)
//  3. Defaults
//
// An empty configPath selects the default path. A missing file is not an
// error. An existing file must live under ~/.config/ragd/ or /etc/ragd/,
// be at most 1MB, and have 0600 or 0400 permissions.
//
// OPENAI_API_KEY is honoured as a fallback for llm.api_key and
// embeddings.api_key.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := base()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if !cfg.LLM.APIKey.IsSet() {
			cfg.LLM.APIKey = Secret(key)
		}
		if !cfg.Embeddings.APIKey.IsSet() {
			cfg.Embeddings.APIKey = Secret(key)
		}
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// DefaultPath returns ~/.config/ragd/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ragd", "config.yaml"), nil
}

// envKey maps SECTION_FIELD to section.field and SECTION_SUB_FIELD to
// section.sub.field for known subsections. Unknown prefixes return "" so
// koanf skips them.
//
//	SERVER_PORT                        -> server.port
//	RETRIEVAL_RRF_K                    -> retrieval.rrf_k
//	VECTORSTORE_QDRANT_VECTOR_SIZE     -> vectorstore.qdrant.vector_size
//	CONVERSATION_MAX_HISTORY_MESSAGES  -> conversation.max_history_messages
func envKey(s string) string {
	lower := strings.ToLower(s)
	section, field, ok := strings.Cut(lower, "_")
	if !ok || field == "" {
		return ""
	}
	subs, known := sections[section]
	if !known {
		return ""
	}
	for _, sub := range subs {
		if rest, found := strings.CutPrefix(field, sub+"_"); found && rest != "" {
			return section + "." + sub + "." + rest
		}
	}
	return section + "." + field
}

// readConfigFile opens the file once and validates it through the open
// descriptor, so the checked file is the one that gets read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigPath checks that path resolves into an allowed directory.
// It runs even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	for _, dir := range []string{filepath.Join(home, ".config", "ragd"), "/etc/ragd"} {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/ragd/ or /etc/ragd/")
}

// validateConfigFileProperties checks permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
