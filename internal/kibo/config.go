package kibo

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	. "github.com/stevegt/goadapt"
)

// DatabaseConfig is the advisory [database] block. The core treats its
// contents as opaque save-time shell-out inputs; see SPEC_FULL.md 10.N.
type DatabaseConfig struct {
	Name      string `toml:"name,omitempty"`
	Host      string `toml:"host,omitempty"`
	Port      int    `toml:"port,omitempty"`
	User      string `toml:"user,omitempty"`
	Password  string `toml:"password,omitempty"`
	ExtraArgs string `toml:"extra_args,omitempty"`
}

// Config is the parsed .kibo.toml. Field set and defaults are grounded on
// original_source/src/config.rs's Config/DatabaseConfig.
type Config struct {
	Directories      []string        `toml:"directories"`
	Files            []string        `toml:"files"`
	Ignore           []string        `toml:"ignore"`
	CompressionLevel int             `toml:"compression_level"`
	Progress         *bool           `toml:"progress,omitempty"`
	Database         *DatabaseConfig `toml:"database,omitempty"`
}

// DefaultConfig mirrors config.rs's Default impl: the common build-output
// directory names (build, target, dist, node_modules) tracked, no file
// patterns until the user edits the file, a conservative ignore list, and
// compression left off (level 0) so a fresh `init` behaves predictably.
func DefaultConfig() *Config {
	return &Config{
		Directories:      []string{"build", "target", "dist", "node_modules"},
		Files:            []string{},
		Ignore:           []string{".git", ".kibo", "*.tmp", "*.swp"},
		CompressionLevel: 0,
	}
}

// LoadConfig reads and validates root/.kibo.toml.
func LoadConfig(root string) (cfg *Config, err error) {
	defer Return(&err)

	path := root + string(os.PathSeparator) + ConfigFile
	buf, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, Wrap(KindConfigInvalid, path, readErr)
	}

	cfg = &Config{}
	if decErr := toml.Unmarshal(buf, cfg); decErr != nil {
		return nil, Wrap(KindConfigInvalid, path, decErr)
	}

	if valErr := cfg.Validate(); valErr != nil {
		return nil, Wrap(KindConfigInvalid, path, valErr)
	}
	return cfg, nil
}

// Validate enforces the bounds config.rs documents: compression_level in
// [0,10]. A [database] block with an empty name is accepted.
func (c *Config) Validate() error {
	if c.CompressionLevel < 0 || c.CompressionLevel > 10 {
		return fmt.Errorf("compression_level must be between 0 and 10, got %d", c.CompressionLevel)
	}
	if c.Database != nil && strings.TrimSpace(c.Database.Name) == "" && c.Database.ExtraArgs == "" {
		// an empty [database] block is legal -- it just means the
		// database name must be supplied on the CLI at save time.
	}
	return nil
}

// ShouldShowProgress resolves the progress tri-state the same way
// original_source/src/progress.rs's ProgressConfig::from_flags does:
// explicit CLI flags win, then the config value, then TTY auto-detect.
func ShouldShowProgress(progressFlag, noProgressFlag bool, cfg *Config) bool {
	switch {
	case progressFlag:
		return true
	case noProgressFlag:
		return false
	case cfg != nil && cfg.Progress != nil:
		return *cfg.Progress
	default:
		return isStderrTTY()
	}
}

// WriteDefaultConfig writes a commented default .kibo.toml, the `init`
// command's output.
func WriteDefaultConfig(root string) (err error) {
	defer Return(&err)

	path := root + string(os.PathSeparator) + ConfigFile
	if _, statErr := os.Stat(path); statErr == nil {
		return Wrap(KindConfigInvalid, path, errors.New("config file already exists"))
	}

	const body = `# kibo workspace configuration
#
# directories: base names of directories that should be tracked wherever
# they are found under the workspace root.
directories = ["build", "target", "dist", "node_modules"]

# files: glob patterns (supporting *, ?, and **) matched against paths
# relative to the workspace root.
files = []

# ignore: glob patterns excluded from both directory and file tracking.
ignore = [".git", ".kibo", "*.tmp", "*.swp"]

# compression_level: 0 disables compression; 1-10 select a zstd preset.
compression_level = 0

# Uncomment to pin progress-bar behavior instead of auto-detecting a TTY.
# progress = true

# Uncomment to enable "save --include-db" without naming a database on
# the command line.
# [database]
# name = "myapp"
# host = "127.0.0.1"
# port = 3306
# user = "myapp"
# password = ""
# extra_args = ""
`
	f, createErr := os.Create(path)
	Ck(createErr)
	defer f.Close()
	_, err = f.WriteString(body)
	return
}
