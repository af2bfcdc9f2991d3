// Package configs holds the configuration templates compiled into the
// binary.
package configs

import _ "embed"

// UserConfigTemplate is written by `amanrag config init`.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
