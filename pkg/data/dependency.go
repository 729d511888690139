package data

import "fmt"

// DepKind discriminates the four extension dependency flavors. The
// numeric order is also the sort tie-break order, keeping resolver
// output stable when one name appears with multiple kinds.
type DepKind int

const (
	DepLocal DepKind = iota
	DepExternal
	DepVersioned
	DepRemote
)

func (k DepKind) String() string {
	switch k {
	case DepLocal:
		return "local"
	case DepExternal:
		return "external"
	case DepVersioned:
		return "versioned"
	case DepRemote:
		return "remote"
	default:
		return fmt.Sprintf("DepKind(%d)", int(k))
	}
}

// SourceKind names where a remote extension's content comes from.
type SourceKind string

const (
	SourceRepo SourceKind = "repo"
	SourceGit  SourceKind = "git"
	SourcePath SourceKind = "path"
)

// ExtensionSource describes how to materialize a remote extension.
type ExtensionSource struct {
	Kind SourceKind

	// git
	URL         string
	Ref         string
	SparsePaths []string

	// path
	Path string
}

// Dependency is one resolved extension dependency. Exactly the fields
// relevant to its kind are populated; decision points match on Kind
// rather than hiding the variants behind an interface.
type Dependency struct {
	Name string
	Kind DepKind

	// DepExternal
	ConfigPath string

	// DepVersioned
	Version string

	// DepRemote
	Source *ExtensionSource
}

// Key is the structural identity used for deduplication.
func (d Dependency) Key() string {
	switch d.Kind {
	case DepExternal:
		return fmt.Sprintf("external:%s:%s", d.Name, d.ConfigPath)
	case DepVersioned:
		return fmt.Sprintf("versioned:%s:%s", d.Name, d.Version)
	case DepRemote:
		src := ""
		if d.Source != nil {
			src = fmt.Sprintf("%s:%s:%s:%s", d.Source.Kind, d.Source.URL, d.Source.Ref, d.Source.Path)
		}
		return fmt.Sprintf("remote:%s:%s", d.Name, src)
	default:
		return "local:" + d.Name
	}
}

// Less orders dependencies by name, then kind, then structural key, so
// a sort is total even when one name carries two versions or sources.
func (d Dependency) Less(o Dependency) bool {
	if d.Name != o.Name {
		return d.Name < o.Name
	}

	if d.Kind != o.Kind {
		return d.Kind < o.Kind
	}

	return d.Key() < o.Key()
}
