//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".vitalis", "config.yaml"),
		"/etc/vitalis/agent.yaml",
	}
}

func defaultBufferPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "buffer")
	}
	return filepath.Join(home, ".vitalis", "buffer")
}
