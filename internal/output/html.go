package output

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"sort"
	"time"

	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/metrics"
)

// reportData is the view rendered by htmlTemplate.
type reportData struct {
	*engine.Result
	Rows       []metricRow
	Conditions []conditionRow
}

type metricRow struct {
	Name   string
	Kind   string
	Values []string
}

type conditionRow struct {
	Selector   string
	Expression string
	Passed     bool
	Actual     string
}

// GenerateHTML writes a self-contained HTML report for res to outputPath.
func GenerateHTML(res *engine.Result, outputPath string) error {
	html, err := GenerateHTMLString(res)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}

	if err := os.WriteFile(outputPath, []byte(html), 0644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}

	return nil
}

// GenerateHTMLString renders the HTML report for res.
func GenerateHTMLString(res *engine.Result) (string, error) {
	if res == nil {
		return "", fmt.Errorf("result cannot be nil")
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   formatNumber,
		"reportTime":     reportTimestamp,
	}).Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	data := reportData{Result: res, Rows: metricRows(res.Metrics)}
	if res.Thresholds != nil {
		for _, r := range res.Thresholds.Results {
			for _, c := range r.Conditions {
				row := conditionRow{Selector: r.Selector, Expression: c.Expression, Passed: c.Passed, Actual: trimFloat(c.Observed)}
				if c.NoData {
					row.Actual = "no data"
				}
				data.Conditions = append(data.Conditions, row)
			}
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// metricRows lists metrics by name with their values formatted by unit.
func metricRows(ms map[string]engine.MetricSummary) []metricRow {
	names := make([]string, 0, len(ms))
	for name := range ms {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]metricRow, 0, len(names))
	for _, name := range names {
		m := ms[name]
		keys := make([]string, 0, len(m.Values))
		for k := range m.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		row := metricRow{Name: name, Kind: m.Kind.String()}
		for _, k := range keys {
			v := m.Values[k]
			switch {
			case m.Kind == metrics.Rate && k == "rate":
				row.Values = append(row.Values, fmt.Sprintf("%s=%.2f%%", k, v*100))
			case k == "rate" || k == "passes" || k == "fails":
				row.Values = append(row.Values, fmt.Sprintf("%s=%s", k, trimFloat(v)))
			default:
				row.Values = append(row.Values, fmt.Sprintf("%s=%s", k, formatValue(v, m.Contains)))
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func reportTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05 MST")
}

// htmlTemplate is the report page. It has no external assets.
const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Name}} - Load Test Report</title>
<style>
body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; background: #f8fafc; color: #1e293b; margin: 0; }
main { max-width: 1100px; margin: 0 auto; padding: 2rem; }
header { display: flex; justify-content: space-between; align-items: center; }
.meta { color: #64748b; font-size: 0.9rem; }
.status { padding: 0.5rem 1.25rem; border-radius: 8px; font-weight: 600; }
.pass { color: #16a34a; }
.fail { color: #dc2626; }
.status.pass { background: rgba(34, 197, 94, 0.1); }
.status.fail { background: rgba(239, 68, 68, 0.1); }
table { width: 100%; border-collapse: collapse; background: #fff; margin-top: 1rem; }
th, td { text-align: left; padding: 0.5rem 0.75rem; border-bottom: 1px solid #e2e8f0; font-size: 0.9rem; }
td.values { font-family: ui-monospace, monospace; }
</style>
</head>
<body>
<main>
<header>
  <div>
    <h1>{{.Name}}</h1>
    <div class="meta">
      <span>run {{.RunID}}</span> &middot;
      <span>{{.StartTime.Format "2006-01-02 15:04:05"}}</span> &middot;
      <span>{{formatDuration .Duration}}</span> &middot;
      <span>{{formatNumber .Iterations}} iterations ({{formatNumber .FailedIterations}} failed)</span> &middot;
      <span>{{.VUsMax}} VUs max</span>
    </div>
    {{if .Aborted}}<p class="fail">Aborted: {{.AbortReason}}</p>{{end}}
  </div>
  <div class="status {{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}&#10003; PASSED{{else}}&#10007; FAILED{{end}}</div>
</header>

{{if .Conditions}}
<h2>Thresholds</h2>
<table>
  <tr><th></th><th>Metric</th><th>Expression</th><th>Actual</th></tr>
  {{range .Conditions}}
  <tr>
    <td class="{{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}&#10003;{{else}}&#10007;{{end}}</td>
    <td>{{.Selector}}</td><td>{{.Expression}}</td><td>{{.Actual}}</td>
  </tr>
  {{end}}
</table>
{{end}}

{{if .Rows}}
<h2>Metrics</h2>
<table>
  <tr><th>Metric</th><th>Type</th><th>Values</th></tr>
  {{range .Rows}}
  <tr><td>{{.Name}}</td><td>{{.Kind}}</td><td class="values">{{range $i, $v := .Values}}{{if $i}} {{end}}{{$v}}{{end}}</td></tr>
  {{end}}
</table>
{{end}}

<p class="meta">Generated by stampede &middot; {{reportTime .EndTime}}</p>
</main>
</body>
</html>
`
