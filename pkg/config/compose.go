package config

import (
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Composed is the root config plus every reachable nested config, each
// loaded at most once and keyed by absolute path. All nested configs are
// interpolated under the root's avocado context.
type Composed struct {
	Root    *Config
	Context AvocadoContext
	Nested  map[string]*Config

	logger hclog.Logger
}

// Compose loads the root config and transitively follows every external
// config reference found in runtime and extension package mappings.
func Compose(path, target string, logger hclog.Logger) (*Composed, error) {
	if logger == nil {
		logger = hclog.L()
	}

	root, err := Load(path, target, logger)
	if err != nil {
		return nil, err
	}

	cc := &Composed{
		Root:    root,
		Context: root.Context(),
		Nested:  map[string]*Config{},
		logger:  logger,
	}

	visited := map[string]struct{}{root.Path(): {}}

	if err := cc.follow(root, visited); err != nil {
		return nil, err
	}

	return cc, nil
}

func (cc *Composed) follow(cfg *Config, visited map[string]struct{}) error {
	for _, ref := range configRefs(cfg) {
		abs, err := filepath.Abs(cfg.ResolvePath(ref))
		if err != nil {
			return errors.WithStack(err)
		}

		if _, seen := visited[abs]; seen {
			cc.logger.Debug("config already composed, skipping", "path", abs)
			continue
		}

		visited[abs] = struct{}{}

		nested, err := LoadWith(abs, cc.Context, cc.logger)
		if err != nil {
			return errors.Wrapf(err, "loading nested config referenced from %s", cfg.Path())
		}

		cc.Nested[abs] = nested

		if err := cc.follow(nested, visited); err != nil {
			return err
		}
	}

	return nil
}

// Config returns the composed config with the given absolute path,
// whether root or nested.
func (cc *Composed) Config(abs string) (*Config, bool) {
	if abs == cc.Root.Path() {
		return cc.Root, true
	}

	cfg, ok := cc.Nested[abs]
	return cfg, ok
}

// configRefs collects the external config paths referenced by package
// mappings in a config, in deterministic order.
func configRefs(cfg *Config) []string {
	var refs []string

	add := func(spec map[string]any) {
		packages, ok := spec["packages"].(map[string]any)
		if !ok {
			return
		}

		names := make([]string, 0, len(packages))
		for n := range packages {
			names = append(names, n)
		}
		sort.Strings(names)

		for _, n := range names {
			pkg, ok := packages[n].(map[string]any)
			if !ok {
				continue
			}

			if _, isExt := pkg["extensions"]; !isExt {
				continue
			}

			if path, ok := pkg["config"].(string); ok {
				refs = append(refs, path)
			}
		}
	}

	for _, rtName := range cfg.Runtimes() {
		if rt, ok := cfg.Runtime(rtName); ok {
			add(rt)
		}
	}

	exts := cfg.Extensions()

	extNames := make([]string, 0, len(exts))
	for n := range exts {
		extNames = append(extNames, n)
	}
	sort.Strings(extNames)

	for _, n := range extNames {
		add(exts[n])
	}

	return refs
}
