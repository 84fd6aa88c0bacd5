// SPDX-License-Identifier: MPL-2.0

// Package config loads criu-coordinator configuration with Viper, using CUE
// (config_schema.cue) to validate files written as CUE or JSON.
//
// A file named criu-coordinator.cue or criu-coordinator.json serves two
// readers. The coordinator takes the "server" section, with command-line
// flags layered on top. The CRIU action hook takes the top-level per-entity
// keys (id, dependencies, address, port, log-file, actions,
// connect_timeout), looking first in the images directory and then in
// /etc/criu.
package config
