package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	goSync "sync"

	"github.com/buger/goterm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/sync"
)

// Mocked out for unit testing.
var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// HandleFatalError handles errors that are severe enough to terminate the
// program.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(stderr, errors.GetPrintableMessage(err))
	exit(1)
}

// HandlePanic logs a panic with its stack trace before exiting. It must be
// deferred.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("panic", r).Error("Unexpected panic")
		fmt.Fprintf(stderr, "%s\n", debug.Stack())
		exit(1)
	}
}

// PolicyFlags holds the filtering flags shared by the serve and connect
// commands.
type PolicyFlags struct {
	PathRegex           []string
	EnableFileSizeLimit bool
	MaxFileSize         int64
}

// AddPolicyFlags registers the filtering flags on fs.
func AddPolicyFlags(fs *pflag.FlagSet, flags *PolicyFlags) {
	fs.StringArrayVar(&flags.PathRegex, "path-regex", nil,
		"Regular expression for paths that shouldn't be synced. May be repeated.")
	fs.BoolVar(&flags.EnableFileSizeLimit, "enable-file-size-limit", false,
		"Skip files larger than --max-file-size.")
	fs.Int64Var(&flags.MaxFileSize, "max-file-size", 0,
		"The largest file in bytes that's synced when the limit is enabled.")
}

// Apply overrides the fields of cfg whose flags were set on the command line.
func (flags PolicyFlags) Apply(fs *pflag.FlagSet, cfg *sync.Config) {
	if fs.Changed("path-regex") {
		cfg.PathRegex = flags.PathRegex
	}
	if fs.Changed("enable-file-size-limit") {
		cfg.EnableFileSizeLimit = flags.EnableFileSizeLimit
	}
	if fs.Changed("max-file-size") {
		cfg.MaxFileSize = flags.MaxFileSize
	}
}

// TerminalReporter prints sync outcomes as colored lines.
type TerminalReporter struct {
	Out io.Writer

	lock goSync.Mutex
}

// Report prints the entry.
func (r *TerminalReporter) Report(entry sync.LogEntry) {
	r.lock.Lock()
	defer r.lock.Unlock()
	fmt.Fprintln(r.Out, FormatEntry(entry))
}

// FormatEntry renders an entry as a single line, colored by its status.
func FormatEntry(entry sync.LogEntry) string {
	status := goterm.Color(fmt.Sprintf("%-7s", entry.Status), statusColor(entry.Status))
	line := fmt.Sprintf("%s %-10s %s", status, entry.Action, entry.Message)
	if entry.Path != "" {
		line += fmt.Sprintf(" (%s)", entry.Path)
	}
	if !entry.Time.IsZero() {
		line = entry.Time.Format("15:04:05") + " " + line
	}
	return line
}

func statusColor(status sync.Status) int {
	switch status {
	case sync.StatusSuccess:
		return goterm.GREEN
	case sync.StatusWarning:
		return goterm.YELLOW
	case sync.StatusError:
		return goterm.RED
	default:
		return goterm.BLUE
	}
}
