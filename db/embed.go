// Package db embeds the database schema.
package db

import _ "embed"

// Schema creates the catalog and invoice tables. It is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
