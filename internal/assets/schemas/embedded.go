// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so validation works regardless of
// the working directory or installation location.
package schemasassets

import _ "embed"

// ModpackManifestSchema is the embedded schema for modpack manifest.json files.
//
//go:embed modpack-manifest.schema.json
var ModpackManifestSchema []byte
