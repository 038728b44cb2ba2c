// Package config loads the gateway's settings, layering a project-local
// file over a global one (read-if-exists, zero value when absent).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Settings is the gateway's configuration surface. Only debug.timeout is
// consumed today; the type is kept separate from its layering so future
// fields have somewhere to land without touching Load.
type Settings struct {
	Debug DebugSettings `json:"debug"`
}

// DebugSettings bounds backend round-trips.
type DebugSettings struct {
	// TimeoutMillis bounds the context of each tools/call, so a DAP
	// request still in flight when it expires is abandoned with an error.
	// The native DWARF engine does not observe that context: its
	// run-control operations are not bounded by this value.
	TimeoutMillis int `json:"timeout"`
}

// DefaultTimeoutMillis is used when neither settings file sets debug.timeout.
const DefaultTimeoutMillis = 30_000

func globalSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "cog", "settings.json"), nil
}

func projectSettingsPath(projectDir string) string {
	return filepath.Join(projectDir, ".cog", "settings.json")
}

// Load reads the global settings file and layers the project-local file
// over it, field by field: a project file that sets debug.timeout wins; a
// project file that omits it (zero value) falls through to the global
// value, which falls through to DefaultTimeoutMillis.
func Load(projectDir string) (Settings, error) {
	global, err := readSettings("")
	if err != nil {
		return Settings{}, err
	}
	project, err := readSettings(projectSettingsPath(projectDir))
	if err != nil {
		return Settings{}, err
	}

	out := Settings{Debug: DebugSettings{TimeoutMillis: DefaultTimeoutMillis}}
	if global.Debug.TimeoutMillis != 0 {
		out.Debug.TimeoutMillis = global.Debug.TimeoutMillis
	}
	if project.Debug.TimeoutMillis != 0 {
		out.Debug.TimeoutMillis = project.Debug.TimeoutMillis
	}
	return out, nil
}

// readSettings reads path if non-empty, or the global settings path if
// path is empty, returning a zero Settings if the file does not exist.
func readSettings(path string) (Settings, error) {
	if path == "" {
		p, err := globalSettingsPath()
		if err != nil {
			return Settings{}, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, nil
		}
		return Settings{}, err
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
