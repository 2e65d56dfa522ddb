//go:build embed

package main

import _ "embed"

// Built with -tags embed, the binary carries can.dbc and uses it when no
// -i flag is given.
//
//go:embed can.dbc
var dbcContent []byte
