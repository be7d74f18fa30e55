// Package migrations bundles the SQL schema migrations of the visual service.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
