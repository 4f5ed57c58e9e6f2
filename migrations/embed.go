// Package migrations holds the SQL for the Postgres record store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
