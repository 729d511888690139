package signing

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// DeviceKind is inferred from a token label and selects which PKCS#11
// module to look for first.
type DeviceKind int

const (
	DeviceUnknown DeviceKind = iota
	DeviceTPM
	DeviceYubiKey
)

// InferDeviceKind guesses the hardware behind a token from its label.
func InferDeviceKind(tokenLabel string) DeviceKind {
	l := strings.ToLower(tokenLabel)

	switch {
	case strings.Contains(l, "tpm"):
		return DeviceTPM
	case strings.Contains(l, "yubi"), strings.Contains(l, "piv"):
		return DeviceYubiKey
	default:
		return DeviceUnknown
	}
}

const (
	moduleTPM    = "libtpm2_pkcs11.so"
	moduleYubico = "libykcs11.so"
	moduleOpenSC = "opensc-pkcs11.so"
)

func moduleNames(kind DeviceKind) []string {
	switch kind {
	case DeviceTPM:
		return []string{moduleTPM}
	case DeviceYubiKey:
		return []string{moduleYubico, moduleOpenSC}
	default:
		return []string{moduleTPM, moduleYubico, moduleOpenSC}
	}
}

// DiscoverModule locates a usable PKCS#11 module for the device kind.
// Search order: PKCS11_MODULE_PATH, the p11-kit module directory, the
// gcc multiarch library directories, the standard system library
// directories, LD_LIBRARY_PATH, and per-architecture fallbacks.
func DiscoverModule(kind DeviceKind) (string, error) {
	if path := os.Getenv("PKCS11_MODULE_PATH"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", errors.Wrapf(err, "PKCS11_MODULE_PATH is set but unusable")
		}

		return path, nil
	}

	names := moduleNames(kind)

	for _, dir := range moduleSearchDirs() {
		for _, base := range names {
			candidate := filepath.Join(dir, base)

			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	return "", errors.Errorf("no PKCS#11 module found (looked for %s)", strings.Join(names, ", "))
}

func moduleSearchDirs() []string {
	var dirs []string

	if out, err := exec.Command("pkg-config", "--variable=p11_module_path", "p11-kit-1").Output(); err == nil {
		if p := strings.TrimSpace(string(out)); p != "" {
			dirs = append(dirs, p)
		}
	}

	if out, err := exec.Command("gcc", "-print-multiarch").Output(); err == nil {
		if triple := strings.TrimSpace(string(out)); triple != "" {
			dirs = append(dirs,
				filepath.Join("/usr/lib", triple, "pkcs11"),
				filepath.Join("/usr/lib", triple),
			)
		}
	}

	dirs = append(dirs,
		"/usr/lib/pkcs11",
		"/usr/lib64/pkcs11",
		"/usr/lib",
		"/usr/local/lib",
		"/usr/lib64",
		"/lib",
		"/lib64",
	)

	for _, p := range filepath.SplitList(os.Getenv("LD_LIBRARY_PATH")) {
		if p != "" {
			dirs = append(dirs, p)
		}
	}

	switch runtime.GOARCH {
	case "amd64":
		dirs = append(dirs, "/usr/lib/x86_64-linux-gnu/pkcs11", "/usr/lib/x86_64-linux-gnu")
	case "arm64":
		dirs = append(dirs, "/usr/lib/aarch64-linux-gnu/pkcs11", "/usr/lib/aarch64-linux-gnu")
	case "arm":
		dirs = append(dirs, "/usr/lib/arm-linux-gnueabihf/pkcs11", "/usr/lib/arm-linux-gnueabihf")
	}

	return dirs
}
