package ops

import (
	"context"
	"fmt"
	"os"

	"github.com/avocado-linux/avocado/pkg/humanize"
	"github.com/avocado-linux/avocado/pkg/status"
)

// UI is the shared command-line surface for build output.
type UI struct {
	display *status.Display
}

func NewUI() *UI {
	return &UI{display: status.New(os.Stdout)}
}

func (u *UI) Phase(n, total int, title string) {
	u.display.Header(fmt.Sprintf("[%d/%d] %s", n, total, title))
}

func (u *UI) Busy(format string, args ...interface{}) {
	u.display.Busy(fmt.Sprintf(format, args...))
}

func (u *UI) Done(format string, args ...interface{}) {
	u.display.Done(fmt.Sprintf(format, args...))
}

func (u *UI) Skip(format string, args ...interface{}) {
	u.display.Skip(fmt.Sprintf(format, args...))
}

func (u *UI) Fail(format string, args ...interface{}) {
	u.display.Fail(fmt.Sprintf(format, args...))
}

// Artifact reports a produced file with its size.
func (u *UI) Artifact(path string) {
	fi, err := os.Stat(path)
	if err != nil {
		u.Done("%s", path)
		return
	}

	sz, unit := humanize.Size(fi.Size())
	u.Done("%s (%.1f %s)", path, sz, unit)
}

type uiMarker struct{}

func WithUI(ctx context.Context, ui *UI) context.Context {
	return context.WithValue(ctx, uiMarker{}, ui)
}

func GetUI(ctx context.Context) *UI {
	v := ctx.Value(uiMarker{})
	if v == nil {
		return NewUI()
	}

	return v.(*UI)
}
