package ops

import (
	"context"
	"strings"

	"github.com/avocado-linux/avocado/pkg/data"
)

// ExtImage produces the squashfs image of a built extension sysroot.
type ExtImage struct {
	common

	Project *Project
	Runner  containerRunner
}

func (e *ExtImage) runner() containerRunner {
	if e.Runner != nil {
		return e.Runner
	}

	return e.Project.runner()
}

// Image emits the extension's .raw image into the shared output area.
// Versioned extensions are imaged from the package-manager-owned
// sysroot and named after the exact installed version. External
// extensions were imaged by their build pass, so their step reduces to
// verifying the artifact exists.
func (e *ExtImage) Image(ctx context.Context, dep data.Dependency) error {
	ui := GetUI(ctx)

	script := e.Script(dep)

	hash := e.Project.stampHash("ext-image", dep.Name, script)

	if e.Project.Stamps.Done("ext-image-"+dep.Name, hash) {
		ui.Skip("image for %s is up to date", dep.Name)
		return nil
	}

	ui.Busy("imaging extension %s", dep.Name)

	rc, err := e.Project.runConfig(script)
	if err != nil {
		return err
	}

	if err := e.runner().Run(ctx, rc); err != nil {
		ui.Fail("image for %s", dep.Name)
		return err
	}

	ui.Done("image for %s", dep.Name)

	return e.Project.Stamps.Mark("ext-image-"+dep.Name, hash)
}

// Script renders the in-container imaging script for one dependency.
func (e *ExtImage) Script(dep data.Dependency) string {
	target := e.Project.Target
	sysroot := extSysroot(target, dep.Name)
	outDir := extOutputDir(target)
	epoch := e.Project.SourceDateEpoch()

	var lines []string

	switch dep.Kind {
	case data.DepVersioned:
		// ask the package database for the exact installed version;
		// ${ver} must stay outside the single quotes so sh expands it
		outQ := shQuote(outDir+"/"+dep.Name+"-") + `"${ver}"` + shQuote(".raw")

		lines = append(lines,
			"mkdir -p "+shQuote(outDir),
			"ver=$(rpm --root "+shQuote(sysroot)+" -q --qf '%{VERSION}' "+shQuote(dep.Name)+
				" 2>/dev/null || echo "+shQuote(dep.Version)+")",
			mksquashfsQuoted(shQuote(sysroot), outQ, epoch),
		)
	case data.DepExternal:
		// the external's build pass already emitted its image; this
		// phase only checks the artifact landed in the output area
		out := outDir + "/" + dep.Name + "-" + e.Project.extImageVersion(dep) + ".raw"

		lines = append(lines, "test -f "+shQuote(out))
	default:
		version := e.Project.extImageVersion(dep)

		lines = append(lines,
			"mkdir -p "+shQuote(outDir),
			mksquashfsLine(sysroot, outDir+"/"+dep.Name+"-"+version+".raw", epoch),
		)
	}

	return scriptHeader() + strings.Join(lines, "\n") + "\n"
}

// extImageVersion picks the version baked into an image name: the
// extension's own declared version, falling back to the distro version.
func (p *Project) extImageVersion(dep data.Dependency) string {
	cfg := p.Composed.Root

	if dep.Kind == data.DepExternal {
		if ext, ok := p.Composed.Config(dep.ConfigPath); ok {
			cfg = ext
		}
	}

	if spec, ok := cfg.Extension(dep.Name); ok {
		if v, ok := spec["version"].(string); ok && v != "" {
			return v
		}
	}

	if v := p.Composed.Root.DistroVersion(); v != "" {
		return v
	}

	return "0.0.0"
}
