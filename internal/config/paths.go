package config

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the state directory.
const HomeEnv = "ROUNDTABLE_HOME"

// Paths locates roundtable's files under one state directory.
type Paths struct {
	Base     string
	Config   string
	Data     string
	Logs     string
	Database string
	Metadata string
}

// ResolvePaths roots Paths at $ROUNDTABLE_HOME, or ~/.roundtable.
func ResolvePaths() (Paths, error) {
	base := os.Getenv(HomeEnv)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, ".roundtable")
	}
	return PathsAt(base), nil
}

// PathsAt lays out Paths under base.
func PathsAt(base string) Paths {
	data := filepath.Join(base, "data")
	return Paths{
		Base:     base,
		Config:   filepath.Join(base, "config.yaml"),
		Data:     data,
		Logs:     filepath.Join(base, "logs"),
		Database: filepath.Join(data, "sessions.db"),
		Metadata: filepath.Join(data, "metadata.csv"),
	}
}

// EnsureDirs creates the state, data and log directories owner-only.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Base, p.Data, p.Logs} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}
