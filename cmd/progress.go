// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// reporter receives the user-facing progress of a session
type reporter interface {
	// Stage announces the next step
	Stage(msg string)
	// Progress reports bytes sent for one partition
	Progress(partition string, done, total int)
}

// textReporter prints stages as lines and draws one progress bar per
// partition
type textReporter struct {
	w       io.Writer
	current string
	bar     *progressbar.ProgressBar
}

func newTextReporter(w io.Writer) *textReporter {
	return &textReporter{w: w}
}

func (r *textReporter) Stage(msg string) {
	r.finish()
	fmt.Fprintln(r.w, msg)
}

func (r *textReporter) Progress(partition string, done, total int) {
	if partition != r.current || r.bar == nil || (done == 0 && r.bar.IsFinished()) {
		r.finish()
		r.current = partition
		if total <= 0 {
			fmt.Fprintf(r.w, "%s: empty\n", partition)
			return
		}
		r.bar = progressbar.NewOptions64(int64(total),
			progressbar.OptionSetWriter(r.w),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(fmt.Sprintf("%-16s", partition)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(r.w) }),
		)
	}
	if r.bar != nil {
		_ = r.bar.Set64(int64(done))
	}
}

// finish closes the current bar, if any
func (r *textReporter) finish() {
	if r.bar != nil && !r.bar.IsFinished() {
		_ = r.bar.Finish()
	}
	r.bar = nil
	r.current = ""
}

// Close flushes the last bar
func (r *textReporter) Close() {
	r.finish()
}
