// Package manifest handles yellowstone.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "yellowstone.toml"

// EnvFile is the optional dotenv file read next to the manifest.
const EnvFile = ".env"

// Manifest represents a yellowstone.toml project configuration.
type Manifest struct {
	Project Project    `toml:"project"`
	Run     RunConfig  `toml:"run"`
	REPL    REPLConfig `toml:"repl"`

	// Dir is the directory containing the yellowstone.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
}

// RunConfig configures script execution.
type RunConfig struct {
	Entry       string `toml:"entry"`
	Trace       bool   `toml:"trace"`
	StackLimit  int    `toml:"stack-limit"` // 0 means the VM default
	Disassemble bool   `toml:"disassemble"`
}

// REPLConfig configures the interactive prompt.
type REPLConfig struct {
	Prompt      string `toml:"prompt"`
	History     bool   `toml:"history"`
	HistoryFile string `toml:"history-file"`
}

// Default returns the configuration used when no manifest exists.
func Default(dir string) *Manifest {
	return &Manifest{
		Run: RunConfig{Entry: "main.ys"},
		REPL: REPLConfig{
			Prompt:  "> ",
			History: true,
		},
		Dir: dir,
	}
}

// Load parses a yellowstone.toml file from the given directory, then
// applies .env and YELLOWSTONE_* environment overrides.
func Load(dir string) (*Manifest, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	path := filepath.Join(abs, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	// Keys absent from the file keep their defaults
	m := Default(abs)
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if m.Run.StackLimit < 0 {
		return nil, fmt.Errorf("%s: stack-limit must not be negative", path)
	}

	if err := m.ApplyEnv(abs); err != nil {
		return nil, err
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a yellowstone.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve returns the manifest governing startDir, falling back to the
// defaults (with environment overrides) when there is none.
func Resolve(startDir string) (*Manifest, error) {
	m, err := FindAndLoad(startDir)
	if err != nil || m != nil {
		return m, err
	}

	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	m = Default(dir)
	if err := m.ApplyEnv(dir); err != nil {
		return nil, err
	}
	return m, nil
}

// ApplyEnv overrides manifest values from YELLOWSTONE_* variables. The
// process environment takes precedence over a .env file in envDir.
func (m *Manifest) ApplyEnv(envDir string) error {
	dotenv, err := godotenv.Read(filepath.Join(envDir, EnvFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cannot read %s: %w", filepath.Join(envDir, EnvFile), err)
	}

	return m.applyOverrides(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	})
}

func (m *Manifest) applyOverrides(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("YELLOWSTONE_PROJECT", &m.Project.Name)
	str("YELLOWSTONE_ENTRY", &m.Run.Entry)
	str("YELLOWSTONE_PROMPT", &m.REPL.Prompt)
	str("YELLOWSTONE_HISTORY_FILE", &m.REPL.HistoryFile)

	if err := boolean("YELLOWSTONE_TRACE", &m.Run.Trace); err != nil {
		return err
	}
	if err := boolean("YELLOWSTONE_DISASSEMBLE", &m.Run.Disassemble); err != nil {
		return err
	}
	if err := boolean("YELLOWSTONE_HISTORY", &m.REPL.History); err != nil {
		return err
	}

	if v, ok := lookup("YELLOWSTONE_STACK_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("YELLOWSTONE_STACK_LIMIT: invalid stack limit %q", v)
		}
		m.Run.StackLimit = n
	}
	return nil
}

// EntryPath returns the absolute path of the entry script.
func (m *Manifest) EntryPath() string {
	if m.Run.Entry == "" || filepath.IsAbs(m.Run.Entry) {
		return m.Run.Entry
	}
	return filepath.Join(m.Dir, m.Run.Entry)
}

// HistoryPath returns the path of the REPL history database. Relative
// history-file values resolve against the manifest directory; without one
// the database lives in ~/.yellowstone.
func (m *Manifest) HistoryPath() (string, error) {
	if f := m.REPL.HistoryFile; f != "" {
		if filepath.IsAbs(f) {
			return f, nil
		}
		return filepath.Join(m.Dir, f), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate history file: %w", err)
	}
	return filepath.Join(home, ".yellowstone", "history.db"), nil
}
