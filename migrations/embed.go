// Package migrations embeds the goose SQL migrations applied by cmd/migrate,
// the server's optional auto-migrate and the store integration tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
