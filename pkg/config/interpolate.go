package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AvocadoContext carries the built-in values available to templates as
// {{ avocado.* }}. It is captured once from the root config and injected
// into every nested config so nested files always see the root's values.
type AvocadoContext struct {
	Target        string
	DistroVersion string
	DistroChannel string
}

var tmplRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// maxPasses bounds interpolation when templates keep producing new
// templates.
const maxPasses = 100

var ErrCircularReference = errors.New("Circular reference detected in configuration")

type interpolator struct {
	logger hclog.Logger
	root   map[string]any
	actx   AvocadoContext

	// config paths currently being resolved within one resolution chain
	resolving map[string]struct{}
}

// Interpolate expands every {{ env.* }}, {{ config.* }} and {{ avocado.* }}
// template in the tree, keys included, iterating until the document
// reaches a fixed point. Unresolvable avocado values and unknown contexts
// are left as literal template text.
func Interpolate(root map[string]any, actx AvocadoContext, logger hclog.Logger) (map[string]any, error) {
	if logger == nil {
		logger = hclog.L()
	}

	in := &interpolator{logger: logger, actx: actx}

	seen := map[string]struct{}{}
	cur := root

	for pass := 0; pass < maxPasses; pass++ {
		state, err := yaml.Marshal(cur)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		in.root = cur
		in.resolving = map[string]struct{}{}

		next, err := in.walk(cur, "")
		if err != nil {
			return nil, err
		}

		nm := next.(map[string]any)

		nextState, err := yaml.Marshal(nm)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		if string(nextState) == string(state) {
			return nm, nil
		}

		if _, dup := seen[string(nextState)]; dup {
			return nil, errors.WithStack(ErrCircularReference)
		}

		seen[string(state)] = struct{}{}

		cur = nm
	}

	return nil, errors.WithStack(ErrCircularReference)
}

func (in *interpolator) walk(v any, path string) (any, error) {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))

		for k, vv := range tv {
			nk, err := in.expand(k, path)
			if err != nil {
				return nil, err
			}

			child := nk
			if path != "" {
				child = path + "." + nk
			}

			nv, err := in.walk(vv, child)
			if err != nil {
				return nil, err
			}

			out[nk] = nv
		}

		return out, nil
	case []any:
		out := make([]any, len(tv))

		for i, vv := range tv {
			nv, err := in.walk(vv, path)
			if err != nil {
				return nil, err
			}

			out[i] = nv
		}

		return out, nil
	case string:
		return in.expand(tv, path)
	default:
		return v, nil
	}
}

// expand replaces each template in s independently. Templates that cannot
// be resolved yet stay in place for a later pass.
func (in *interpolator) expand(s, path string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var expErr error

	out := tmplRe.ReplaceAllStringFunc(s, func(m string) string {
		if expErr != nil {
			return m
		}

		expr := strings.TrimSpace(tmplRe.FindStringSubmatch(m)[1])

		rep, ok, err := in.resolveExpr(expr, path)
		if err != nil {
			expErr = err
			return m
		}

		if !ok {
			return m
		}

		return rep
	})

	if expErr != nil {
		return "", expErr
	}

	return out, nil
}

func (in *interpolator) resolveExpr(expr, path string) (string, bool, error) {
	switch {
	case strings.HasPrefix(expr, "env."):
		name := strings.TrimPrefix(expr, "env.")

		val, ok := os.LookupEnv(name)
		if !ok {
			in.logger.Warn("environment variable referenced in config is not set",
				"variable", name, "at", path)
			return "", true, nil
		}

		return val, true, nil
	case strings.HasPrefix(expr, "config."):
		val, err := in.resolveConfigRef(strings.TrimPrefix(expr, "config."), path)
		if err != nil {
			return "", false, err
		}

		return val, true, nil
	case strings.HasPrefix(expr, "avocado."):
		var val string

		switch strings.TrimPrefix(expr, "avocado.") {
		case "target":
			val = in.actx.Target
		case "distro.version":
			val = in.actx.DistroVersion
		case "distro.channel":
			val = in.actx.DistroChannel
		default:
			return "", false, nil
		}

		// left for later validation by the CLI
		if val == "" {
			return "", false, nil
		}

		return val, true, nil
	default:
		// unknown context, leave the template intact
		return "", false, nil
	}
}

func (in *interpolator) resolveConfigRef(ref, at string) (string, error) {
	if _, active := in.resolving[ref]; active {
		return "", errors.Wrapf(ErrCircularReference, "'config.%s' referenced at '%s'", ref, at)
	}

	val, ok := lookupPath(in.root, ref)
	if !ok {
		return "", errors.Errorf("config reference 'config.%s' at '%s' does not exist", ref, at)
	}

	// a reference may point at a value that itself holds templates; resolve
	// it through the same chain so self and mutual references are caught
	if s, isStr := val.(string); isStr && strings.Contains(s, "{{") {
		in.resolving[ref] = struct{}{}
		expanded, err := in.expand(s, ref)
		delete(in.resolving, ref)

		if err != nil {
			return "", err
		}

		return expanded, nil
	}

	out, err := renderValue(val)
	if err != nil {
		return "", errors.WithStack(err)
	}

	return out, nil
}
