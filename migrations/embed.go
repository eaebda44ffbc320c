package migrations

import "embed"

// Files embeds the forward SQL migrations.
//
//go:embed *.up.sql
var Files embed.FS
