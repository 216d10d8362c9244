package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/bugflow/internal/models"
)

// UI provides colored output and respects verbose/dry-run modes.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("\u2713")
	warningPrefix = color.New(color.FgHiYellow).Sprint("\u26a0")
	errorPrefix   = color.New(color.FgHiRed).Sprint("\u2717")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  \u2192")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	boldRed       = color.New(color.FgHiRed, color.Bold).SprintFunc()
	magenta       = color.New(color.FgHiMagenta).SprintFunc()
	faint         = color.New(color.Faint).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// StatusColor colors a bug status by lifecycle phase.
func StatusColor(status string) string {
	st, ok := models.ParseStatus(status)
	if !ok {
		return status
	}
	switch st {
	case models.StatusOpen:
		return green(status)
	case models.StatusAssigned, models.StatusFixInProgress:
		return yellow(status)
	case models.StatusFixed, models.StatusTesterAssigned, models.StatusTestingProgress:
		return magenta(status)
	case models.StatusTestedVerified, models.StatusReadyForClosure:
		return cyan(status)
	case models.StatusClosed:
		return faint(status)
	case models.StatusDuplicate:
		return red(status)
	}
	return status
}

// PriorityColor colors a bug priority.
func PriorityColor(p string) string {
	prio, ok := models.ParsePriority(p)
	if !ok {
		return p
	}
	switch prio {
	case models.PriorityCritical:
		return boldRed(p)
	case models.PriorityHigh:
		return red(p)
	case models.PriorityMedium:
		return yellow(p)
	}
	return p
}

// AlertColor colors an alert level name; NONE renders as a dash.
func AlertColor(level string) string {
	switch strings.ToUpper(level) {
	case "HIGH":
		return boldRed(level)
	case "MEDIUM":
		return yellow(level)
	case "LOW":
		return cyan(level)
	}
	return "-"
}

// HoursColor renders logged hours against a budget.
func HoursColor(logged, allowed float64) string {
	s := fmt.Sprintf("%gh/%gh", logged, allowed)
	switch {
	case logged > allowed:
		return red(s)
	case logged > 0.8*allowed:
		return yellow(s)
	default:
		return green(s)
	}
}

// Progress renders a bug's position on the forward track, e.g. "[###-----]".
// Duplicate has no position.
func Progress(status string) string {
	st, ok := models.ParseStatus(status)
	if !ok || st.Ordinal() < 0 {
		return ""
	}
	last := models.StatusClosed.Ordinal()
	done := st.Ordinal()
	return "[" + strings.Repeat("#", done) + strings.Repeat("-", last-done) + "]"
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

// JSON writes v as indented JSON to Out.
func (u *UI) JSON(v any) error {
	enc := json.NewEncoder(u.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
