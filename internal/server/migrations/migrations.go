// Package migrations embeds the goose SQL migrations for every supported
// database backend, one directory per dialect.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS
