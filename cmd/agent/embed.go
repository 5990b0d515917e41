package main

import _ "embed"

// embeddedConfig is the lowest configuration layer above the defaults. Build
// scripts overwrite embed_config.yaml with a machine's URL and token so a
// single binary can run without an external config file.
//
//go:embed embed_config.yaml
var embeddedConfig []byte
