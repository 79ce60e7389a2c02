package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Directory names for global (~/.convo) and repo (.convo) configuration.
const (
	DirName        = ".convo"
	ConfigFileName = "config.json"
)

// Config holds application configuration.
type Config struct {
	// AddCacheHeaders enables prompt-cache breakpoint annotation on full exports.
	AddCacheHeaders bool `json:"add_cache_headers,omitempty"`

	// CachesByDefault marks a provider that caches prompts without explicit
	// breakpoints. When true, no cache_control markers are emitted.
	CachesByDefault bool `json:"caches_by_default,omitempty"`

	// CacheRoles lists the roles eligible for the "last" and "penultimate"
	// breakpoints. A non-empty overlay replaces the base list instead of merging,
	// so a repo can narrow the set to ["system"].
	CacheRoles []string `json:"cache_roles,omitempty"`

	// Verbose enables debug logging and the conversation dump on every full export.
	Verbose bool `json:"verbose,omitempty"`

	// DebugLogPath is where the conversation dump is written, relative to the
	// working directory unless absolute.
	DebugLogPath string `json:"debug_log_path,omitempty"`

	// LargeFileThreshold is the size in characters above which file content is
	// replaced by a stub when context management is enabled.
	LargeFileThreshold int `json:"large_file_threshold,omitempty"`

	// ContextManagement enables stubbing of large files.
	ContextManagement bool `json:"context_management,omitempty"`

	// RepoMessageLimit clears the repo tag once it holds this many messages.
	RepoMessageLimit int `json:"repo_message_limit,omitempty"`

	// ReminderRole is the role used for reminder blocks: "user" or "system".
	ReminderRole string `json:"reminder_role,omitempty"`

	// DiffContextLines is the number of unchanged lines around each diff hunk.
	DiffContextLines int `json:"diff_context_lines,omitempty"`

	// ReadConcurrency bounds parallel file reads during a refresh.
	ReadConcurrency int `json:"read_concurrency,omitempty"`

	// Archive persists every full export to the turn archive in the global directory.
	Archive bool `json:"archive,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		CacheRoles:         []string{"system", "user", "assistant"},
		DebugLogPath:       filepath.Join(DirName, "logs", "conversation.log"),
		LargeFileThreshold: 8192,
		RepoMessageLimit:   20,
		ReminderRole:       "user",
		DiffContextLines:   3,
		ReadConcurrency:    8,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.convo.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, ConfigFileName))
}

// LoadWithRepo loads configuration from both global (~/.convo) and repo (.convo) directories.
// Repo config is found by walking upward from startDir to find the nearest .convo/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, ConfigFileName))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .convo/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, DirName, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated,
// except CacheRoles which an overlay replaces wholesale.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.DebugLogPath = pickString(overlay.DebugLogPath, base.DebugLogPath)
	result.ReminderRole = pickString(overlay.ReminderRole, base.ReminderRole)
	result.LargeFileThreshold = pickInt(overlay.LargeFileThreshold, base.LargeFileThreshold)
	result.RepoMessageLimit = pickInt(overlay.RepoMessageLimit, base.RepoMessageLimit)
	result.DiffContextLines = pickInt(overlay.DiffContextLines, base.DiffContextLines)
	result.ReadConcurrency = pickInt(overlay.ReadConcurrency, base.ReadConcurrency)

	// Booleans: overlay wins if true, else base
	result.AddCacheHeaders = base.AddCacheHeaders || overlay.AddCacheHeaders
	result.CachesByDefault = base.CachesByDefault || overlay.CachesByDefault
	result.Verbose = base.Verbose || overlay.Verbose
	result.ContextManagement = base.ContextManagement || overlay.ContextManagement
	result.Archive = base.Archive || overlay.Archive

	result.CacheRoles = mergeStringSlice(nil, base.CacheRoles)
	if len(overlay.CacheRoles) > 0 {
		result.CacheRoles = mergeStringSlice(nil, overlay.CacheRoles)
	}
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
