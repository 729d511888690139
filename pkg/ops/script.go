package ops

import (
	"fmt"
	"sort"
	"strings"

	"github.com/avocado-linux/avocado/pkg/container"
)

// layout of the shared state volume
func targetRoot(target string) string {
	return container.MountPoint + "/" + target
}

func extSysroot(target, extName string) string {
	return targetRoot(target) + "/extensions/" + extName
}

func extOutputDir(target string) string {
	return targetRoot(target) + "/output/extensions"
}

func runtimeSysroot(target, rtName string) string {
	return targetRoot(target) + "/runtimes/" + rtName
}

func runtimeOutputDir(target, rtName string) string {
	return targetRoot(target) + "/output/runtimes/" + rtName
}

// shQuote single-quotes a string for safe use in generated sh.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// packageArgs flattens a packages mapping into sorted dnf arguments.
// A value of "*" (or null) means any version; a version string pins it.
func packageArgs(packages map[string]any) []string {
	names := make([]string, 0, len(packages))
	for n := range packages {
		names = append(names, n)
	}
	sort.Strings(names)

	var args []string

	for _, n := range names {
		switch v := packages[n].(type) {
		case string:
			if v == "" || v == "*" {
				args = append(args, n)
			} else {
				args = append(args, n+"-"+v)
			}
		case map[string]any:
			// extension wiring entries are not installable packages
			if _, isExt := v["extensions"]; isExt {
				continue
			}

			args = append(args, n)
		default:
			args = append(args, n)
		}
	}

	return args
}

// dnfInstall renders a package installation line against a sysroot.
func dnfInstall(sysroot, releasever string, pkgs []string) string {
	var b strings.Builder

	b.WriteString("dnf -y install --installroot " + shQuote(sysroot))

	if releasever != "" {
		b.WriteString(" --releasever " + shQuote(releasever))
	}

	for _, p := range pkgs {
		b.WriteString(" " + shQuote(p))
	}

	return b.String()
}

// scriptHeader is shared by every generated container script.
func scriptHeader() string {
	return "set -eu\n"
}

// mksquashfsLine renders a reproducible squashfs build of a sysroot.
func mksquashfsLine(sysroot, out string, epoch int64) string {
	return mksquashfsQuoted(shQuote(sysroot), shQuote(out), epoch)
}

// mksquashfsQuoted takes operands already quoted for sh, so a caller
// can splice a shell expansion into the output path.
func mksquashfsQuoted(sysrootQ, outQ string, epoch int64) string {
	return fmt.Sprintf("SOURCE_DATE_EPOCH=%d mksquashfs %s %s -noappend -no-xattrs -reproducible",
		epoch, sysrootQ, outQ)
}
