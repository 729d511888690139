package config

import (
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/avocado-linux/avocado/pkg/data"
)

// SelectRuntimes filters the configured runtimes down to those that
// apply to the composed target. When requested names are given, each one
// must exist and apply; a requested runtime that does not match the
// target is fatal.
func (cc *Composed) SelectRuntimes(requested []string) ([]string, error) {
	target := cc.Context.Target

	if len(requested) == 0 {
		var out []string

		for _, rt := range cc.Root.Runtimes() {
			if cc.Root.RuntimeAppliesTo(rt, target) {
				out = append(out, rt)
			}
		}

		return out, nil
	}

	out := make([]string, 0, len(requested))

	for _, rt := range requested {
		if _, ok := cc.Root.Runtime(rt); !ok {
			return nil, errors.Errorf("runtime '%s' is not defined in %s", rt, cc.Root.Path())
		}

		if !cc.Root.RuntimeAppliesTo(rt, target) {
			return nil, errors.Errorf("runtime '%s' declares target '%s', which does not match '%s'",
				rt, cc.Root.RuntimeTarget(rt), target)
		}

		out = append(out, rt)
	}

	sort.Strings(out)

	return out, nil
}

// Resolve produces the deduplicated dependency set for the given
// runtimes, sorted by extension name with kind as the tie break. The
// sorted order is the build order.
func (cc *Composed) Resolve(runtimes []string) ([]data.Dependency, error) {
	rs := &resolveState{
		cc:      cc,
		seen:    map[string]struct{}{},
		visited: map[string]struct{}{},
	}

	for _, rt := range runtimes {
		if err := rs.runtime(rt); err != nil {
			return nil, err
		}
	}

	sort.Slice(rs.out, func(i, j int) bool { return rs.out[i].Less(rs.out[j]) })

	return rs.out, nil
}

type resolveState struct {
	cc *Composed

	// structural dedup of emitted dependencies
	seen map[string]struct{}
	// cycle keys: "<name>:<config>" for externals, "local:<name>:<config>"
	// for locals
	visited map[string]struct{}

	out []data.Dependency
}

func (rs *resolveState) add(dep data.Dependency) {
	key := dep.Key()

	if _, dup := rs.seen[key]; dup {
		return
	}

	rs.seen[key] = struct{}{}
	rs.out = append(rs.out, dep)
}

func (rs *resolveState) runtime(rtName string) error {
	cfg := rs.cc.Root

	rt, ok := cfg.Runtime(rtName)
	if !ok {
		return errors.Errorf("runtime '%s' is not defined in %s", rtName, cfg.Path())
	}

	// the extensions sequence names extensions directly
	if seq, ok := rt["extensions"].([]any); ok {
		for _, e := range seq {
			extName, ok := e.(string)
			if !ok {
				return errors.Errorf("runtime '%s': extensions entries must be strings", rtName)
			}

			if err := rs.namedExtension(cfg, extName); err != nil {
				return err
			}
		}
	}

	return rs.packages(cfg, rt["packages"], "runtime '"+rtName+"'")
}

// namedExtension classifies one entry of a runtime's extensions
// sequence: remote when the extensions table gives it a source, local
// otherwise.
func (rs *resolveState) namedExtension(cfg *Config, extName string) error {
	spec, defined := cfg.Extension(extName)

	if defined {
		if srcVal, ok := spec["source"]; ok {
			src, err := parseSource(extName, srcVal)
			if err != nil {
				return err
			}

			rs.add(data.Dependency{Name: extName, Kind: data.DepRemote, Source: src})
			return nil
		}
	}

	rs.add(data.Dependency{Name: extName, Kind: data.DepLocal})

	return rs.localExtension(cfg, extName)
}

// packages walks a legacy packages mapping, collecting entries that name
// an extension.
func (rs *resolveState) packages(cfg *Config, v any, owner string) error {
	if v == nil {
		return nil
	}

	packages, ok := v.(map[string]any)
	if !ok {
		return errors.Errorf("failed to parse 'packages' for %s: expected a mapping (did you use '=' instead of ':'?)", owner)
	}

	names := make([]string, 0, len(packages))
	for n := range packages {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, pkgName := range names {
		pkg, ok := packages[pkgName].(map[string]any)
		if !ok {
			continue
		}

		extVal, ok := pkg["extensions"]
		if !ok {
			continue
		}

		extName, ok := extVal.(string)
		if !ok {
			return errors.Errorf("%s: package '%s' has a non-string 'extensions' value", owner, pkgName)
		}

		switch {
		case pkg["vsn"] != nil:
			vsn, ok := pkg["vsn"].(string)
			if !ok || !ValidVersion(vsn) {
				return errors.Errorf("%s: extension '%s' has invalid version '%v'", owner, extName, pkg["vsn"])
			}

			rs.add(data.Dependency{Name: extName, Kind: data.DepVersioned, Version: vsn})
		case pkg["config"] != nil:
			cfgPath, ok := pkg["config"].(string)
			if !ok {
				return errors.Errorf("%s: extension '%s' has a non-string 'config' value", owner, extName)
			}

			abs, err := filepath.Abs(cfg.ResolvePath(cfgPath))
			if err != nil {
				return errors.WithStack(err)
			}

			rs.add(data.Dependency{Name: extName, Kind: data.DepExternal, ConfigPath: abs})

			if err := rs.externalExtension(extName, abs); err != nil {
				return err
			}
		default:
			rs.add(data.Dependency{Name: extName, Kind: data.DepLocal})

			if err := rs.localExtension(cfg, extName); err != nil {
				return err
			}
		}
	}

	return nil
}

// localExtension recurses into a locally defined extension's own
// packages mapping. Re-entry is a silent skip.
func (rs *resolveState) localExtension(cfg *Config, extName string) error {
	key := "local:" + extName + ":" + cfg.Path()

	if _, cyc := rs.visited[key]; cyc {
		rs.cc.logger.Debug("extension dependency cycle, skipping", "extension", extName, "config", cfg.Path())
		return nil
	}

	rs.visited[key] = struct{}{}

	spec, ok := cfg.Extension(extName)
	if !ok {
		return nil
	}

	return rs.packages(cfg, spec["packages"], "extension '"+extName+"'")
}

// externalExtension recurses into the named extension of an external
// config, loading it on demand if the composer has not seen it.
func (rs *resolveState) externalExtension(extName, abs string) error {
	key := extName + ":" + abs

	if _, cyc := rs.visited[key]; cyc {
		rs.cc.logger.Debug("external config cycle, skipping", "extension", extName, "config", abs)
		return nil
	}

	rs.visited[key] = struct{}{}

	extCfg, ok := rs.cc.Config(abs)
	if !ok {
		loaded, err := LoadWith(abs, rs.cc.Context, rs.cc.logger)
		if err != nil {
			return errors.Wrapf(err, "loading external config for extension '%s'", extName)
		}

		rs.cc.Nested[abs] = loaded
		extCfg = loaded
	}

	spec, ok := extCfg.Extension(extName)
	if !ok {
		return errors.Errorf("extension '%s' is not defined in external config %s", extName, abs)
	}

	return rs.packages(extCfg, spec["packages"], "extension '"+extName+"'")
}

func parseSource(extName string, v any) (*data.ExtensionSource, error) {
	switch sv := v.(type) {
	case string:
		if sv == string(data.SourceRepo) {
			return &data.ExtensionSource{Kind: data.SourceRepo}, nil
		}

		return nil, errors.Errorf("extension '%s': unknown source '%s'", extName, sv)
	case map[string]any:
		if url, ok := sv["git"].(string); ok {
			src := &data.ExtensionSource{Kind: data.SourceGit, URL: url}

			if ref, ok := sv["ref"].(string); ok {
				src.Ref = ref
			}

			src.SparsePaths = stringSlice(sv["sparse_paths"])

			return src, nil
		}

		if p, ok := sv["path"].(string); ok {
			return &data.ExtensionSource{Kind: data.SourcePath, Path: p}, nil
		}

		if _, ok := sv["repo"]; ok {
			return &data.ExtensionSource{Kind: data.SourceRepo}, nil
		}

		return nil, errors.Errorf("extension '%s': source must name one of repo, git, or path", extName)
	default:
		return nil, errors.Errorf("extension '%s': malformed source", extName)
	}
}
