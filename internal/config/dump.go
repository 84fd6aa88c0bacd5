// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

type (
	dumpDocument struct {
		Server dumpServer `toml:"server"`
	}

	// dumpServer renders durations in their string form.
	dumpServer struct {
		Address         string              `toml:"address"`
		Port            int                 `toml:"port"`
		LogFile         string              `toml:"log_file"`
		WaitTimeout     string              `toml:"wait_timeout"`
		IdleTimeout     string              `toml:"idle_timeout"`
		PruneInterval   string              `toml:"prune_interval"`
		MaxSessions     int                 `toml:"max_sessions"`
		DeparturePolicy string              `toml:"departure_policy"`
		AdminAddress    string              `toml:"admin_address,omitempty"`
		Dependencies    map[string][]string `toml:"dependencies,omitempty"`
	}
)

// Dump renders the effective server settings as TOML.
func Dump(cfg ServerConfig) ([]byte, error) {
	doc := dumpDocument{Server: dumpServer{
		Address:         cfg.Address,
		Port:            int(cfg.Port),
		LogFile:         cfg.LogFile,
		WaitTimeout:     cfg.WaitTimeout.String(),
		IdleTimeout:     cfg.IdleTimeout.String(),
		PruneInterval:   cfg.PruneInterval.String(),
		MaxSessions:     cfg.MaxSessions,
		DeparturePolicy: cfg.DeparturePolicy.String(),
		AdminAddress:    cfg.AdminAddress,
		Dependencies:    cfg.Dependencies,
	}}
	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}
