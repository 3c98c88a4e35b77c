// Package migrations embeds the SQL schema for the discharge document store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
