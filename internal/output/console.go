// Package output renders run results for humans and machines.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/threshold"
)

const (
	boxHorizontal = "━"
	headerWidth   = 56
	nameWidth     = 34
)

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer  io.Writer
	NoColor bool
	// Quiet prints only PASSED or FAILED.
	Quiet bool
}

// Console writes progress lines and the end-of-run summary.
type Console struct {
	w       io.Writer
	colors  *ColorScheme
	noColor bool
	quiet   bool
	mu      sync.Mutex
}

// NewConsole creates a Console. Colors are used only when the writer is a
// terminal and NoColor is unset.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	colors := SchemeFor(cfg.Writer, cfg.NoColor)
	return &Console{
		w:       cfg.Writer,
		colors:  colors,
		noColor: cfg.NoColor || !UseColors(cfg.Writer),
		quiet:   cfg.Quiet,
	}
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(name string, total time.Duration, maxVUs int) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, headerWidth)
	c.writeln(c.colors.Header.Sprint(line))
	c.writeln(c.colors.Section.Sprintf("%s - Running", name))
	c.writeln(fmt.Sprintf("up to %d VUs over %s", maxVUs, formatDuration(total)))
	c.writeln(c.colors.Header.Sprint(line))
}

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress      float64 // 0.0 to 1.0
	Elapsed       time.Duration
	ActiveVUs     int
	TotalRequests int64
	CurrentRPS    float64
	ErrorRate     float64
	Iterations    int64
	LatencyP95    time.Duration
}

// StatsFromRegistry reads the built-in metrics of a running test.
func StatsFromRegistry(reg *metrics.Registry, elapsed, total time.Duration) LiveStats {
	s := LiveStats{Elapsed: elapsed}
	if total > 0 {
		s.Progress = float64(elapsed) / float64(total)
		if s.Progress > 1 {
			s.Progress = 1
		}
	}
	all := metrics.TagSet{}
	if agg, ok := reg.Snapshot(metrics.VUsName, all); ok && !agg.Empty() {
		s.ActiveVUs = int(agg.Last)
	}
	if agg, ok := reg.Snapshot(metrics.HTTPReqsName, all); ok {
		s.TotalRequests = int64(agg.Sum)
		s.CurrentRPS = agg.PerSecond(elapsed)
	}
	if agg, ok := reg.Snapshot(metrics.HTTPReqFailedName, all); ok {
		s.ErrorRate = agg.Rate()
	}
	if agg, ok := reg.Snapshot(metrics.IterationsName, all); ok {
		s.Iterations = int64(agg.Sum)
	}
	if agg, ok := reg.Snapshot(metrics.HTTPReqDurationName, all); ok && !agg.Empty() {
		s.LatencyP95 = msToDuration(agg.Percentile(95))
	}
	return s
}

// PrintUpdate prints a one-line status update.
func (c *Console) PrintUpdate(stats LiveStats) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | VUs: %d | Iters: %s | Reqs: %s | RPS: %.1f | Errors: %.1f%% | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs,
		formatNumber(stats.Iterations),
		formatNumber(stats.TotalRequests),
		stats.CurrentRPS,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final run summary.
func (c *Console) PrintSummary(res *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if res.Passed {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}

	line := strings.Repeat(boxHorizontal, headerWidth)
	status := c.colors.Success.Sprint("Passed ✓")
	switch {
	case res.Aborted:
		status = c.colors.Error.Sprint("Aborted ✗")
	case !res.Passed:
		status = c.colors.Error.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(c.colors.Header.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Section.Sprint(res.Name), status))
	c.writeln(c.colors.Header.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(res.Duration))))
	iters := formatNumber(res.Iterations)
	if res.FailedIterations > 0 {
		iters += c.colors.Warn.Sprintf(" (%s failed)", formatNumber(res.FailedIterations))
	}
	c.writeln(fmt.Sprintf("Iterations:    %s", c.colors.Value.Sprint(iters)))
	c.writeln(fmt.Sprintf("VUs max:       %s", c.colors.Value.Sprint(res.VUsMax)))
	c.writeln(fmt.Sprintf("Stopped:       %s", res.StopReason))
	if res.Aborted && res.AbortReason != "" {
		c.writeln(fmt.Sprintf("Abort reason:  %s", c.colors.Error.Sprint(res.AbortReason)))
	}
	if res.HardStopped {
		c.writeln(fmt.Sprintf("%s graceful stop expired, in-flight iterations were abandoned", WarningIcon(c.noColor)))
	}
	c.writeln("")

	if len(res.Metrics) > 0 {
		c.writeln(c.colors.Section.Sprint("Metrics:"))
		names := make([]string, 0, len(res.Metrics))
		for name := range res.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c.writeln(c.metricLine(name, res.Metrics[name]))
		}
		c.writeln("")
	}

	if res.Thresholds != nil && len(res.Thresholds.Results) > 0 {
		c.writeln(c.colors.Section.Sprint("Thresholds:"))
		for _, r := range res.Thresholds.Results {
			for _, cond := range r.Conditions {
				c.writeln(c.thresholdLine(r, cond))
			}
		}
		c.writeln("")
	}
}

func (c *Console) metricLine(name string, m engine.MetricSummary) string {
	label := "  " + name + " "
	if n := nameWidth - len(label); n > 0 {
		label += strings.Repeat(".", n)
	}
	label += ":"

	v := m.Values
	var body string
	switch m.Kind {
	case metrics.Counter:
		body = fmt.Sprintf("%s  %s/s",
			c.colors.Value.Sprint(formatValue(v["count"], m.Contains)),
			formatValue(v["rate"], m.Contains))
	case metrics.Gauge:
		body = fmt.Sprintf("%s  min=%s max=%s",
			c.colors.Value.Sprint(formatValue(v["value"], m.Contains)),
			formatValue(v["min"], m.Contains),
			formatValue(v["max"], m.Contains))
	case metrics.Rate:
		body = fmt.Sprintf("%s  %s %s  %s %s",
			c.colors.Value.Sprintf("%.2f%%", v["rate"]*100),
			SuccessIcon(c.noColor), formatNumber(int64(v["passes"])),
			ErrorIcon(c.noColor), formatNumber(int64(v["fails"])))
	case metrics.Trend:
		parts := make([]string, 0, 7)
		for _, key := range []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"} {
			parts = append(parts, fmt.Sprintf("%s=%s", key, c.colors.Value.Sprint(formatValue(v[key], m.Contains))))
		}
		body = strings.Join(parts, " ")
	}
	return c.colors.Metric.Sprint(label) + " " + body
}

func (c *Console) thresholdLine(r threshold.Result, cond threshold.ConditionResult) string {
	icon := SuccessIcon(c.noColor)
	if !cond.Passed {
		icon = ErrorIcon(c.noColor)
	}
	actual := fmt.Sprintf("actual: %s", trimFloat(cond.Observed))
	if cond.NoData {
		actual = c.colors.Warn.Sprint("no data")
	}
	return fmt.Sprintf("  %s %s %s (%s)", icon, r.Selector, cond.Expression, actual)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}

// formatValue renders v according to the unit of its metric.
func formatValue(v float64, contains metrics.ValueType) string {
	switch contains {
	case metrics.Time:
		return formatDurationShort(msToDuration(v))
	case metrics.Data:
		return formatBytes(v)
	default:
		return trimFloat(v)
	}
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// formatBytes formats a byte count with a decimal unit.
func formatBytes(b float64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%.0f B", b)
	}
	div, exp := float64(unit), 0
	for n := b / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", b/div, "kMGTP"[exp])
}
