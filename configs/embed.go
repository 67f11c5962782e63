// Package configs embeds the configuration templates written by
// 'xref config init'.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .xref.yaml by 'xref config init --project'.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
