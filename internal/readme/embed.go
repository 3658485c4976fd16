// Package readme embeds the user documentation printed by `llmdeploy readme`
// and served at /api/readme.
package readme

import _ "embed"

//go:embed README.md
var Content string
