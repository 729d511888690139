package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/davecgh/go-spew/spew"
	"gopkg.in/yaml.v3"
)

// ConfigDump prints the fully composed and interpolated configuration,
// either as YAML or as a deep structural dump for debugging.
type ConfigDump struct {
	common

	Project *Project
	Output  io.Writer

	// Deep switches from YAML to a spew dump showing concrete types.
	Deep bool
}

func (c *ConfigDump) out() io.Writer {
	if c.Output != nil {
		return c.Output
	}

	return os.Stdout
}

func (c *ConfigDump) Dump(_ context.Context) error {
	w := c.out()

	fmt.Fprintf(w, "# target: %s\n", c.Project.Target)
	fmt.Fprintf(w, "# root: %s\n", c.Project.ConfigPath)

	nested := make([]string, 0, len(c.Project.Composed.Nested))
	for p := range c.Project.Composed.Nested {
		nested = append(nested, p)
	}
	sort.Strings(nested)

	for _, p := range nested {
		fmt.Fprintf(w, "# composed: %s\n", p)
	}

	if c.Deep {
		cfg := spew.ConfigState{Indent: "  ", SortKeys: true}
		cfg.Fdump(w, c.Project.Composed.Root.Tree())
		return nil
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(c.Project.Composed.Root.Tree()); err != nil {
		return track(err)
	}

	return track(enc.Close())
}
