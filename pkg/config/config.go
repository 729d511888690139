package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is one parsed and interpolated configuration file plus typed
// accessors over its generic tree.
type Config struct {
	path string
	dir  string
	tree map[string]any
	actx AvocadoContext

	logger hclog.Logger
}

// ResolveTarget applies the target precedence: explicit argument, then
// AVOCADO_TARGET, then the config's default_target.
func ResolveTarget(explicit string, tree map[string]any) string {
	if explicit != "" {
		return explicit
	}

	if env := os.Getenv("AVOCADO_TARGET"); env != "" {
		return env
	}

	return stringAt(tree, "default_target")
}

// Load reads, parses, and interpolates the config at path. The avocado
// context is derived from the file itself, with the target selected by
// the usual precedence chain.
func Load(path, target string, logger hclog.Logger) (*Config, error) {
	tree, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	actx := AvocadoContext{
		Target:        ResolveTarget(target, tree),
		DistroVersion: stringAt(tree, "distro.version"),
		DistroChannel: stringAt(tree, "distro.channel"),
	}

	return LoadWith(path, actx, logger)
}

// LoadWith reads and parses the config at path, interpolating it under a
// caller-provided context. Used for nested configs, which must see the
// root's avocado values rather than their own.
func LoadWith(path string, actx AvocadoContext, logger hclog.Logger) (*Config, error) {
	if logger == nil {
		logger = hclog.L()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	tree, err := parseFile(abs)
	if err != nil {
		return nil, err
	}

	tree, err = Interpolate(tree, actx, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "interpolating %s", path)
	}

	cfg := &Config{
		path:   abs,
		dir:    filepath.Dir(abs),
		tree:   tree,
		actx:   actx,
		logger: logger,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	tree := map[string]any{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &tree); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", path)
		}
	default:
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", path)
		}
	}

	return tree, nil
}

func (c *Config) validate() error {
	if sup := c.SupportedTargets(); len(sup) > 0 && c.actx.Target != "" {
		found := false

		for _, t := range sup {
			if t == c.actx.Target {
				found = true
				break
			}
		}

		if !found {
			return errors.Errorf("target '%s' is not in supported_targets of %s", c.actx.Target, c.path)
		}
	}

	if img := c.SDKImage(); img != "" && !strings.Contains(img, "{{") {
		if _, err := name.ParseReference(img); err != nil {
			return errors.Wrapf(err, "invalid sdk.image reference '%s'", img)
		}
	}

	return nil
}

func (c *Config) Path() string            { return c.path }
func (c *Config) Dir() string             { return c.dir }
func (c *Config) Tree() map[string]any    { return c.tree }
func (c *Config) Context() AvocadoContext { return c.actx }
func (c *Config) Target() string          { return c.actx.Target }

// ResolvePath resolves a path from the config relative to the config
// file's own directory.
func (c *Config) ResolvePath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}

	return filepath.Join(c.dir, rel)
}

func (c *Config) DefaultTarget() string { return stringAt(c.tree, "default_target") }

func (c *Config) SupportedTargets() []string {
	v, _ := lookupPath(c.tree, "supported_targets")
	return stringSlice(v)
}

func (c *Config) DistroVersion() string { return stringAt(c.tree, "distro.version") }
func (c *Config) DistroChannel() string { return stringAt(c.tree, "distro.channel") }

func (c *Config) SDKImage() string       { return stringAt(c.tree, "sdk.image") }
func (c *Config) SDKRepoURL() string     { return stringAt(c.tree, "sdk.repo_url") }
func (c *Config) SDKRepoRelease() string { return stringAt(c.tree, "sdk.repo_release") }

func (c *Config) SDKContainerArgs() []string {
	v, _ := lookupPath(c.tree, "sdk.container_args")
	return stringSlice(v)
}

func (c *Config) SDKDependencies() map[string]any {
	v, _ := lookupPath(c.tree, "sdk.dependencies")
	m, _ := v.(map[string]any)
	return m
}

// SDKCompile returns the sdk.compile sections keyed by section name.
// Each section may carry a "compile" script path and a "dependencies"
// package mapping.
func (c *Config) SDKCompile() map[string]map[string]any {
	v, _ := lookupPath(c.tree, "sdk.compile")

	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]map[string]any, len(m))

	for name, sv := range m {
		if sm, ok := sv.(map[string]any); ok {
			out[name] = sm
		}
	}

	return out
}

// Runtimes returns the runtime names, sorted.
func (c *Config) Runtimes() []string {
	v, _ := lookupPath(c.tree, "runtimes")

	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Runtime returns the effective spec for a runtime: its base mapping
// deep-merged with the overlay subsection named after the selected
// target, with all target-named subsections stripped from the result.
func (c *Config) Runtime(rtName string) (map[string]any, bool) {
	v, ok := lookupPath(c.tree, "runtimes."+rtName)
	if !ok {
		return nil, false
	}

	base, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}

	targets := map[string]struct{}{}
	for _, t := range c.SupportedTargets() {
		targets[t] = struct{}{}
	}
	if c.actx.Target != "" {
		targets[c.actx.Target] = struct{}{}
	}

	merged := make(map[string]any, len(base))

	for k, vv := range base {
		if _, isTarget := targets[k]; isTarget {
			continue
		}

		merged[k] = vv
	}

	if overlay, ok := base[c.actx.Target].(map[string]any); ok {
		merged = deepMerge(merged, overlay)
	}

	return merged, true
}

// RuntimeTarget returns the runtime's declared target, or "" when the
// runtime applies to every target.
func (c *Config) RuntimeTarget(rtName string) string {
	rt, ok := c.Runtime(rtName)
	if !ok {
		return ""
	}

	s, _ := rt["target"].(string)
	return s
}

// RuntimeAppliesTo reports whether a runtime builds for the given target.
func (c *Config) RuntimeAppliesTo(rtName, target string) bool {
	declared := c.RuntimeTarget(rtName)
	return declared == "" || declared == target
}

func (c *Config) Extensions() map[string]map[string]any {
	v, _ := lookupPath(c.tree, "extensions")

	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]map[string]any, len(m))

	for n, spec := range m {
		sm, ok := spec.(map[string]any)
		if !ok {
			continue
		}

		out[n] = sm
	}

	return out
}

func (c *Config) Extension(extName string) (map[string]any, bool) {
	spec, ok := c.Extensions()[extName]
	return spec, ok
}
