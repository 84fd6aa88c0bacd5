// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/checkpoint-restore/criu-coordinator/internal/issue"
	"github.com/checkpoint-restore/criu-coordinator/internal/rendezvous"
	"github.com/checkpoint-restore/criu-coordinator/pkg/cueutil"
	"github.com/checkpoint-restore/criu-coordinator/pkg/types"
)

const (
	// AppName is the application name.
	AppName = "criu-coordinator"
	// ConfigFileName is the config file name without extension, shared by
	// the coordinator and the action hook.
	ConfigFileName = "criu-coordinator"
	// GlobalConfigDir is searched after the images directory.
	GlobalConfigDir = "/etc/criu"
	// EnvPrefix prefixes environment overrides, e.g. CRIU_COORDINATOR_ID.
	EnvPrefix = "CRIU_COORDINATOR"

	schemaRoot        = "#Config"
	dependencyMapRoot = "#DependencyMap"
)

// ConfigFileExts lists accepted extensions in lookup order.
var ConfigFileExts = []string{"cue", "json"}

// ServerFlagKeys maps server command flag names to their config keys.
var ServerFlagKeys = map[string]string{
	"address":          "server.address",
	"port":             "server.port",
	"log-file":         "server.log_file",
	"wait-timeout":     "server.wait_timeout",
	"idle-timeout":     "server.idle_timeout",
	"prune-interval":   "server.prune_interval",
	"max-sessions":     "server.max_sessions",
	"departure-policy": "server.departure_policy",
	"admin-address":    "server.admin_address",
}

//go:embed config_schema.cue
var configSchema []byte

// GlobalDir returns the directory searched for shared config files.
func GlobalDir() string {
	if globalDirOverride != "" {
		return globalDirOverride
	}
	return GlobalConfigDir
}

// Candidates returns the config file paths tried for dir, in order.
func Candidates(dir string) []string {
	paths := make([]string, 0, len(ConfigFileExts))
	for _, ext := range ConfigFileExts {
		paths = append(paths, filepath.Join(dir, ConfigFileName+"."+ext))
	}
	return paths
}

// FindHookConfig returns the first config file found in imagesDir, then in
// the global config directory.
func FindHookConfig(imagesDir string) (string, error) {
	searched := append(Candidates(imagesDir), Candidates(GlobalDir())...)
	for _, p := range searched {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", issue.NewErrorContext().
		WithOperation("load hook configuration").
		WithResource(imagesDir).
		WithSuggestion(fmt.Sprintf("Create %s.json in the images directory or in %s", ConfigFileName, GlobalDir())).
		WithIssue(issue.ConfigNotFoundId).
		Wrap(fmt.Errorf("no config file in %s", strings.Join(searched, ", "))).
		BuildError()
}

// loadServer resolves the coordinator settings: defaults, then the config
// file, then any flags that were set on the command line.
func loadServer(ctx context.Context, opts LoadOptions) (*ServerConfig, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}
	if err := opts.Validate(); err != nil {
		return nil, "", err
	}

	v := viper.New()
	setServerDefaults(v)

	resolvedPath := ServerConfigPath(opts)
	if resolvedPath != "" && !fileExists(resolvedPath) {
		return nil, "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(resolvedPath).
			WithSuggestion("Verify the file path is correct").
			WithSuggestion("Run 'criu-coordinator config show' to see the defaults").
			WithIssue(issue.ConfigNotFoundId).
			Wrap(fmt.Errorf("config file not found: %s", resolvedPath)).
			BuildError()
	}

	var raw map[string]any
	if resolvedPath != "" {
		var err error
		if raw, err = loadIntoViper(v, resolvedPath); err != nil {
			return nil, "", invalidConfig(resolvedPath, err)
		}
	}

	if err := bindFlags(v, opts.Flags); err != nil {
		return nil, "", err
	}

	var doc struct {
		Server ServerConfig `mapstructure:"server"`
	}
	if err := v.Unmarshal(&doc); err != nil {
		return nil, "", invalidConfig(resolvedPath, fmt.Errorf("failed to parse config: %w", err))
	}

	// Viper folds map keys to lower case; entity IDs are case-sensitive.
	doc.Server.Dependencies = nil
	if server, ok := raw["server"].(map[string]any); ok {
		deps, err := dependencyMap(server["dependencies"])
		if err != nil {
			return nil, "", invalidConfig(resolvedPath, fmt.Errorf("server.dependencies: %w", err))
		}
		doc.Server.Dependencies = deps
	}

	if err := doc.Server.Validate(); err != nil {
		return nil, "", invalidConfig(resolvedPath, err)
	}
	return &doc.Server, resolvedPath, nil
}

// ServerConfigPath returns the file the coordinator settings are read from:
// the explicit path, else the first global candidate that exists, else "".
func ServerConfigPath(opts LoadOptions) string {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath
	}
	for _, p := range Candidates(GlobalDir()) {
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// LoadDependencyMap reads a file holding a bare entity -> dependencies map.
func LoadDependencyMap(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("read dependency map").
			WithResource(path).
			WithSuggestion("Verify the file path is correct").
			WithIssue(issue.ConfigNotFoundId).
			Wrap(err).
			BuildError()
	}
	res, err := cueutil.ParseAndDecode[map[string]any](configSchema, data, dependencyMapRoot, cueutil.WithFilename(path))
	if err != nil {
		return nil, invalidConfig(path, err)
	}
	deps, err := dependencyMap(*res.Value)
	if err != nil {
		return nil, invalidConfig(path, err)
	}
	return deps, nil
}

// LoadHookFile reads the per-entity settings from path.
func LoadHookFile(path string) (*HookConfig, error) {
	v := viper.New()
	v.SetDefault("address", DefaultAddress)
	v.SetDefault("port", int(types.DefaultPort))
	v.SetDefault("log-file", DefaultLogFile)
	v.SetDefault("actions", DefaultActions())
	v.SetDefault("connect_timeout", DefaultConnectTimeout)
	v.SetEnvPrefix(EnvPrefix)
	if err := v.BindEnv("id"); err != nil {
		return nil, err
	}

	raw, err := loadIntoViper(v, path)
	if err != nil {
		return nil, invalidConfig(path, err)
	}

	cfg := &HookConfig{
		ID:             v.GetString("id"),
		Address:        v.GetString("address"),
		LogFile:        v.GetString("log-file"),
		Actions:        v.GetStringSlice("actions"),
		ConnectTimeout: v.GetDuration("connect_timeout"),
	}

	port, err := strconv.Atoi(v.GetString("port"))
	if err != nil {
		return nil, invalidConfig(path, fmt.Errorf("port: %w", err))
	}
	cfg.Port = types.ListenPort(port)

	if err := cfg.setDependencies(raw["dependencies"]); err != nil {
		return nil, invalidConfig(path, fmt.Errorf("dependencies: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		var he *InvalidHookConfigError
		if errors.As(err, &he) {
			he.Path = path
		}
		return nil, invalidConfig(path, err)
	}
	return cfg, nil
}

// setDependencies accepts the three declared shapes of "dependencies".
func (c *HookConfig) setDependencies(raw any) error {
	switch d := raw.(type) {
	case nil:
		return nil
	case string:
		ids, err := rendezvous.ParseDependencies(d)
		if err != nil {
			return err
		}
		for _, id := range ids {
			c.Dependencies = append(c.Dependencies, string(id))
		}
		return nil
	case []any:
		list, err := stringList(d)
		if err != nil {
			return err
		}
		c.Dependencies = list
		return nil
	case map[string]any:
		seed, err := dependencyMap(d)
		if err != nil {
			return err
		}
		c.Seed = seed
		c.Dependencies = seed[c.ID]
		return nil
	default:
		return fmt.Errorf("unsupported type %T", raw)
	}
}

// loadIntoViper validates path against #Config and merges it into v. The
// decoded document is returned for values viper would alter.
func loadIntoViper(v *viper.Viper, path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	res, err := cueutil.ParseAndDecode[map[string]any](configSchema, data, schemaRoot, cueutil.WithFilename(path))
	if err != nil {
		return nil, err
	}
	configMap := *res.Value

	// MergeConfigMap lowercases keys in place.
	if err := v.MergeConfigMap(deepCopy(configMap).(map[string]any)); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	return configMap, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

func setServerDefaults(v *viper.Viper) {
	d := DefaultServerConfig()
	v.SetDefault("server.address", d.Address)
	v.SetDefault("server.port", int(d.Port))
	v.SetDefault("server.log_file", d.LogFile)
	v.SetDefault("server.wait_timeout", d.WaitTimeout)
	v.SetDefault("server.idle_timeout", d.IdleTimeout)
	v.SetDefault("server.prune_interval", d.PruneInterval)
	v.SetDefault("server.max_sessions", d.MaxSessions)
	v.SetDefault("server.departure_policy", string(d.DeparturePolicy))
	v.SetDefault("server.admin_address", d.AdminAddress)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range ServerFlagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

func invalidConfig(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE or JSON").
		WithSuggestion("Verify the values match the configuration schema").
		WithIssue(issue.ConfigInvalidId).
		Wrap(err).
		BuildError()
}

func dependencyMap(raw any) (map[string][]string, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a map, got %T", raw)
	}
	out := make(map[string][]string, len(m))
	for id, deps := range m {
		list, ok := deps.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected a list, got %T", id, deps)
		}
		ids, err := stringList(list)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		out[id] = ids
	}
	return out, nil
}

func stringList(list []any) ([]string, error) {
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("[%d]: expected a string, got %T", i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
