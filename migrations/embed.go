// Package migrations embeds the SQL migrations so the binary can apply them
// without a checkout.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
