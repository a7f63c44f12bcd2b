package exercise

import "embed"

// catalogFS embeds the built-in exercise pack.
//
//go:embed catalog/*.yaml
var catalogFS embed.FS
