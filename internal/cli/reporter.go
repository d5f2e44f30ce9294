package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/ppiankov/xfattach/internal/pipeline"
)

// consoleReporter prints run progress in the same style as the summary box
type consoleReporter struct {
	out     io.Writer
	root    string
	verbose bool
}

func newConsoleReporter(out io.Writer, root string, verbose bool) *consoleReporter {
	return &consoleReporter{out: out, root: root, verbose: verbose}
}

func (r *consoleReporter) FileStarted(path string, blocks int) {
	fmt.Fprintf(r.out, "⚙️  %s (%d attachments)\n", r.rel(path), blocks)
}

func (r *consoleReporter) FileFailed(path string, err error) {
	fmt.Fprintf(r.out, "✗ %s: %v\n", r.rel(path), err)
}

func (r *consoleReporter) BlockFinished(o pipeline.Outcome) {
	if o.Err != nil {
		fmt.Fprintf(r.out, "  ✗ %s: %v [%s]\n", o.Block.URL, o.Err, o.Kind)
		return
	}

	fmt.Fprintf(r.out, "  ✓ %s (%d bytes)\n", filepath.Base(o.Path), o.Result.Bytes)
	if r.verbose {
		fmt.Fprintf(r.out, "      from %s\n", o.Result.FinalURL)
	}
	if enc := o.Result.ContentEncoding; enc != "" && enc != "identity" {
		fmt.Fprintf(r.out, "      ⚠️  server sent %s-encoded content, stored as received\n", enc)
	}
}

func (r *consoleReporter) rel(path string) string {
	if rel, err := filepath.Rel(r.root, path); err == nil {
		return rel
	}
	return path
}
