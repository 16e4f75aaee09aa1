// Package dbmigrations exposes embedded SQL migrations for Centra binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into Centra binaries.
//
//go:embed *.sql
var Files embed.FS
