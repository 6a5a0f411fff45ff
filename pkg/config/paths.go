// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirEnv overrides the data directory.
const DataDirEnv = "ARCADE_HOME"

// ConfigFileName is the settings file searched for when none is given.
const ConfigFileName = "mcp"

// DataDir returns the directory holding the settings file.
//
// Priority:
// 1. ARCADE_HOME environment variable (if set and non-empty)
// 2. ~/.arcade (default)
//
// The returned path is always absolute. Tilde (~) in ARCADE_HOME is expanded
// to the user's home directory.
//
// Examples:
//
//	ARCADE_HOME=/srv/arcade      -> /srv/arcade
//	ARCADE_HOME=~/arcade         -> /home/user/arcade
//	ARCADE_HOME not set          -> /home/user/.arcade
func DataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return ExpandPath(dir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".arcade"
	}
	return filepath.Join(homeDir, ".arcade")
}

// DefaultDatacacheDir is where SQLite cache files live by default.
func DefaultDatacacheDir() string {
	return filepath.Join(os.TempDir(), "arcade_datacache")
}

// ExpandPath expands a leading ~ and resolves to an absolute path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
