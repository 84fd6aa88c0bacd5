// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates configuration input against an embedded CUE
// schema and decodes it into Go values.
//
//	//go:embed config_schema.cue
//	var schema []byte
//
//	res, err := cueutil.ParseAndDecode[map[string]any](
//	    schema, data, "#Config",
//	    cueutil.WithFilename("coordinator.cue"),
//	)
//
// Errors carry the offending field as a JSON-style path so that a bad
// "server.port" reads the same whether the file was written as CUE or JSON.
package cueutil
