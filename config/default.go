// Package config embeds the default configuration shipped with the
// gateway binary.
package config

import _ "embed"

//go:embed conf.yaml
var Default []byte
