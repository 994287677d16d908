package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns a logger configured with a text handler writing to STDOUT.
func New() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// NewWriter returns a logger writing text records to w. Used for the per-run
// monitor log and the suite master log inside a results bundle.
func NewWriter(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, nil))
}
