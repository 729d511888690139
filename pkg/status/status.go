package status

import (
	"fmt"
	"io"

	"github.com/morikuni/aec"
)

// Display renders single-line step status, rewriting the current line
// while a step is busy and committing it once the step settles.
type Display struct {
	output io.Writer
	busy   bool
}

func New(w io.Writer) *Display {
	return &Display{output: w}
}

func (d *Display) reset() {
	if d.busy {
		fmt.Fprint(d.output, aec.Column(0).String(), aec.EraseLine(aec.EraseModes.All).String())
	}
}

// Busy shows an in-progress step without committing the line.
func (d *Display) Busy(msg string) {
	d.reset()
	fmt.Fprint(d.output, aec.LightBlackF.Apply("... "), msg)
	d.busy = true
}

// Done commits a finished step.
func (d *Display) Done(msg string) {
	d.reset()
	fmt.Fprintln(d.output, aec.GreenF.Apply(" ok "), msg)
	d.busy = false
}

// Skip commits a step that was satisfied by a stamp.
func (d *Display) Skip(msg string) {
	d.reset()
	fmt.Fprintln(d.output, aec.YellowF.Apply("skip"), msg)
	d.busy = false
}

// Fail commits a failed step.
func (d *Display) Fail(msg string) {
	d.reset()
	fmt.Fprintln(d.output, aec.RedF.Apply("fail"), msg)
	d.busy = false
}

// Header prints a phase banner.
func (d *Display) Header(msg string) {
	d.reset()
	fmt.Fprintln(d.output, aec.Bold.Apply(msg))
	d.busy = false
}
