//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// Compiled by default and with the purego tag. No C compiler required:
//
//	CGO_ENABLED=0 go build ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
