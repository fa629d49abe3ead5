// Package migrations embeds the Postgres schema files applied by
// "sop-server migrate up".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
