package ops

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/avocado-linux/avocado/pkg/signing"
	"github.com/avocado-linux/avocado/pkg/update"
)

// UpdateRoot generates a standalone signed root.json for the project's
// update authority.
type UpdateRoot struct {
	common

	Project *Project
	Keys    *signing.Registry
}

func (u *UpdateRoot) registry() (*signing.Registry, error) {
	if u.Keys != nil {
		return u.Keys, nil
	}

	return signing.OpenDefault(u.L())
}

// Generate writes the root document to outPath, defaulting to
// root.json in the project directory. keyName empty means the
// auto-provisioned default key.
func (u *UpdateRoot) Generate(ctx context.Context, keyName, outPath string) error {
	ui := GetUI(ctx)

	reg, err := u.registry()
	if err != nil {
		return err
	}

	priv, err := update.RootKey(ctx, u.Project.Dir, keyName, reg)
	if err != nil {
		return err
	}

	doc, err := update.GenerateRoot(priv, time.Now())
	if err != nil {
		return err
	}

	if outPath == "" {
		outPath = filepath.Join(u.Project.Dir, "root.json")
	}

	if err := os.WriteFile(outPath, doc, 0644); err != nil {
		return track(err)
	}

	ui.Artifact(outPath)

	return nil
}
