package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/therealutkarshpriyadarshi/authlog/internal/security"
	"github.com/therealutkarshpriyadarshi/authlog/pkg/types"
)

// DefaultTopAccounts is the number of targeted accounts shown in the summary
const DefaultTopAccounts = 5

// emptyAccount is shown in place of an empty account name
const emptyAccount = "(empty)"

var (
	colorHeader  = lipgloss.Color("#00ffff")
	colorAlert   = lipgloss.Color("#ff0000")
	colorOK      = lipgloss.Color("#00ff00")
	colorWarning = lipgloss.Color("#ffaa00")
)

// ConsoleConfig holds configuration for the terminal sink
type ConsoleConfig struct {
	NoColor     bool
	TopAccounts int
}

type consoleStyles struct {
	header  lipgloss.Style
	alert   lipgloss.Style
	ok      lipgloss.Style
	warning lipgloss.Style
}

func newConsoleStyles(w io.Writer, noColor bool) consoleStyles {
	r := lipgloss.NewRenderer(w)
	if noColor {
		plain := r.NewStyle()
		return consoleStyles{header: plain, alert: plain, ok: plain, warning: plain}
	}
	return consoleStyles{
		header:  r.NewStyle().Foreground(colorHeader).Bold(true),
		alert:   r.NewStyle().Foreground(colorAlert).Bold(true),
		ok:      r.NewStyle().Foreground(colorOK),
		warning: r.NewStyle().Foreground(colorWarning),
	}
}

// ConsoleSink renders alerts and the summary for a human reader. Every
// logged string is sanitized before it reaches the terminal.
type ConsoleSink struct {
	name        string
	w           io.Writer
	styles      consoleStyles
	topAccounts int
	metrics     metricsTracker

	mu     sync.Mutex
	closed bool
}

// NewConsoleSink creates a console sink writing to w
func NewConsoleSink(name string, w io.Writer, cfg ConsoleConfig) *ConsoleSink {
	if name == "" {
		name = "console"
	}
	top := cfg.TopAccounts
	if top == 0 {
		top = DefaultTopAccounts
	}
	return &ConsoleSink{
		name:        name,
		w:           w,
		styles:      newConsoleStyles(w, cfg.NoColor),
		topAccounts: top,
	}
}

// Start prints the run banner
func (c *ConsoleSink) Start(ctx context.Context, run RunInfo) error {
	line := fmt.Sprintf("--- Analyzing %s (Threshold: %d) ---",
		security.SanitizeTerminal(run.Source), run.Threshold)
	return c.write(KindAlert, c.styles.header.Render(line)+"\n", false)
}

// Alert prints a single alert line
func (c *ConsoleSink) Alert(ctx context.Context, alert types.AlertSignal) error {
	safe := types.AlertSignal{
		SourceAddress: security.SanitizeTerminal(alert.SourceAddress),
		Threshold:     alert.Threshold,
	}
	line := c.styles.alert.Render("[ALERT] " + AlertMessage(safe))
	return c.write(KindAlert, line+"\n", true)
}

// Report prints the security summary
func (c *ConsoleSink) Report(ctx context.Context, report *types.Report) error {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "\n%s\n", c.styles.header.Render("--- Security Summary ---"))
	fmt.Fprintf(&buf, "Total entries processed: %d\n", report.TotalEvents())
	fmt.Fprintf(&buf, "Skipped lines: %d\n", report.SkippedLines)
	if report.Partial {
		fmt.Fprintln(&buf, c.styles.warning.Render("Run interrupted: counts cover only the lines read so far."))
	}

	flagged := report.Flagged()
	if len(flagged) == 0 {
		fmt.Fprintln(&buf, c.styles.ok.Render("No suspicious activity detected."))
	} else {
		fmt.Fprintln(&buf, c.styles.alert.Render(fmt.Sprintf("Top Offenders (>= %d failures):", report.Threshold)))
		renderCounts(&buf, []string{"Source Address", "Failed Attempts"}, flagged)
	}

	if accounts := report.TopAccounts(c.topAccounts); len(accounts) > 0 {
		fmt.Fprintln(&buf, c.styles.header.Render("Most Targeted Accounts:"))
		renderCounts(&buf, []string{"Account", "Failed Attempts"}, accounts)
	}

	return c.write(KindReport, buf.String(), true)
}

func renderCounts(w io.Writer, header []string, counts []types.Count) {
	data := make([][]string, 0, len(counts))
	for _, c := range counts {
		key := security.SanitizeTerminal(c.Key)
		if key == "" {
			key = emptyAccount
		}
		data = append(data, []string{key, strconv.Itoa(c.Count)})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(data)
	table.Render()
}

func (c *ConsoleSink) write(kind, text string, track bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSinkClosed
	}

	n, err := io.WriteString(c.w, text)
	if !track {
		return err
	}
	if err != nil {
		c.metrics.recordFailure(kind, err)
		return fmt.Errorf("failed to write to console: %w", err)
	}
	c.metrics.recordSuccess(kind, n)
	return nil
}

// Close marks the sink closed; the writer is owned by the caller
func (c *ConsoleSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Name returns the sink name
func (c *ConsoleSink) Name() string {
	return c.name
}

// Metrics returns the sink metrics
func (c *ConsoleSink) Metrics() *SinkMetrics {
	return c.metrics.snapshot()
}
