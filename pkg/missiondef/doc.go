// Package missiondef loads mission definitions from YAML or CUE
// sources and resolves them into clean engine definitions: disabled
// entries are filtered out, command tokens are parsed once at load
// time, implicit instrument targets are bound, and the result is
// validated so the engine never sees a malformed definition.
package missiondef
