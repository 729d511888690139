package ops

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/avocado-linux/avocado/pkg/signing"
)

// SigningKeys wraps the registry operations exposed on the CLI.
type SigningKeys struct {
	common

	Keys   *signing.Registry
	Output io.Writer

	// Input answers destructive-operation prompts; defaults to stdin.
	Input io.Reader
}

func (s *SigningKeys) registry() (*signing.Registry, error) {
	if s.Keys != nil {
		return s.Keys, nil
	}

	return signing.OpenDefault(s.L())
}

func (s *SigningKeys) out() io.Writer {
	if s.Output != nil {
		return s.Output
	}

	return os.Stdout
}

// Generate creates a new file-backed ed25519 key under the given name.
func (s *SigningKeys) Generate(ctx context.Context, keyName string) error {
	ui := GetUI(ctx)

	reg, err := s.registry()
	if err != nil {
		return err
	}

	entry, err := reg.GenerateKey(ctx, keyName)
	if err != nil {
		return err
	}

	ui.Done("generated key '%s' (keyid %s)", keyName, entry.KeyID)

	return nil
}

// Register records a hardware key by its PKCS#11 URI. No key material
// is written; the token keeps the private key.
func (s *SigningKeys) Register(ctx context.Context, keyName, uri string) error {
	ui := GetUI(ctx)

	reg, err := s.registry()
	if err != nil {
		return err
	}

	entry, err := reg.RegisterPKCS11(ctx, keyName, uri)
	if err != nil {
		return err
	}

	ui.Done("registered hardware key '%s' (keyid %s)", keyName, entry.KeyID)

	return nil
}

// List prints the registry as a table.
func (s *SigningKeys) List(_ context.Context) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}

	file, err := reg.Load()
	if err != nil {
		return err
	}

	names, err := reg.Names()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(s.out(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tALGORITHM\tKEYID\tCREATED\tURI")

	for _, n := range names {
		e := file.Keys[n]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", n, e.Algorithm, e.KeyID, e.CreatedAt, e.URI)
	}

	return track(tw.Flush())
}

// Remove unregisters a key. File-backed material goes with it; hardware
// objects are destroyed only when destroy is set and the user confirms.
func (s *SigningKeys) Remove(ctx context.Context, keyName string, destroy bool) error {
	ui := GetUI(ctx)

	reg, err := s.registry()
	if err != nil {
		return err
	}

	if destroy {
		entry, err := reg.Get(keyName)
		if err != nil {
			return err
		}

		if signing.IsPKCS11URI(entry.URI) && !s.confirm("Destroy hardware key object for '%s' (%s)? [y/N] ", keyName, entry.URI) {
			ui.Skip("keeping key '%s'", keyName)
			return nil
		}
	}

	entry, err := reg.Remove(ctx, keyName)
	if err != nil {
		return err
	}

	if destroy && signing.IsPKCS11URI(entry.URI) {
		if err := s.destroyHardwareKey(entry.URI); err != nil {
			return errors.Wrapf(err, "key '%s' was unregistered but the token object remains", keyName)
		}
	}

	ui.Done("removed key '%s'", keyName)

	return nil
}

func (s *SigningKeys) confirm(format string, a ...any) bool {
	in := s.Input
	if in == nil {
		in = os.Stdin
	}

	fmt.Fprintf(s.out(), format, a...)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (s *SigningKeys) destroyHardwareKey(uri string) error {
	parsed, err := signing.ParsePKCS11URI(uri)
	if err != nil {
		return err
	}

	module, err := signing.DiscoverModule(signing.InferDeviceKind(parsed.Token))
	if err != nil {
		return err
	}

	tok, err := signing.OpenToken(module, parsed.Token)
	if err != nil {
		return err
	}
	defer tok.Close()

	pin, err := signing.ResolvePIN("")
	if err != nil {
		return err
	}

	if pin != "" {
		if err := tok.Login(pin); err != nil {
			return err
		}
	}

	return tok.DestroyKey(parsed.Object)
}

// Export writes a key's public portion, base64-encoded, to the output.
func (s *SigningKeys) Export(_ context.Context, keyName string) error {
	reg, err := s.registry()
	if err != nil {
		return err
	}

	entry, err := reg.Get(keyName)
	if err != nil {
		return err
	}

	pub, err := reg.LoadPublic(entry)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(s.out(), base64.StdEncoding.EncodeToString(pub))

	return track(err)
}
