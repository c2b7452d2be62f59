// Package defaults provides embedded copies of the default
// configuration and knowledge files for the dazzy init subcommand.
package defaults

import _ "embed"

//go:generate sh -c "cp ../../examples/config.example.yaml . && cp ../../examples/knowledge.example.yaml ."

//go:embed config.example.yaml
var ConfigYAML []byte

//go:embed knowledge.example.yaml
var KnowledgeYAML []byte
