package db

import "embed"

// MigrationFS holds the schema for users, login_identities and audit_logs, applied by cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
