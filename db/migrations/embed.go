// Package dbmigrations exposes embedded SQL migrations for solroute binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into solroute binaries.
//
//go:embed *.sql
var Files embed.FS
