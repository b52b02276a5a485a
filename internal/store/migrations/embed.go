package migrations

import "embed"

// FS contains the schema for the SQL backends, one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
