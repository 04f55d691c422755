// Package migrations carries the PostgreSQL schema applied at startup.
package migrations

import _ "embed"

// Init creates every table the marketplace uses. It is idempotent.
//
//go:embed 001_init.sql
var Init string
