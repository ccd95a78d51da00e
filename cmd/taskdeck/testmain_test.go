package main

import (
	"os"
	"path/filepath"
	"testing"
)

// TestMain points config loading at an empty temp file so tests never read
// or modify ~/.taskdeck/config.toml.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "taskdeck-cmd-test")
	if err == nil {
		os.Setenv("TASKDECK_CONFIG", filepath.Join(dir, "config.toml"))
	}
	code := m.Run()
	if dir != "" {
		os.RemoveAll(dir)
	}
	os.Exit(code)
}
