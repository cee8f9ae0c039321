// Package report renders request outcomes for the curly CLI as colored
// text or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/Sternrassler/curly/pkg/multi"
	"github.com/Sternrassler/curly/pkg/request"
)

// Row is the outcome of one keyed operation.
type Row struct {
	Key    string
	Body   []byte
	Meta   request.Meta
	Err    error
	Cached bool
}

// Failed reports whether the operation failed.
func (r Row) Failed() bool {
	return r.Err != nil
}

// FromResults converts scheduler results to rows sorted by key.
func FromResults(results multi.Results[string, []byte]) []Row {
	rows := make([]Row, 0, len(results))
	for key, outcome := range results {
		rows = append(rows, Row{
			Key:  key,
			Body: outcome.Value,
			Meta: outcome.Meta,
			Err:  outcome.Err,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows
}

// Format selects the output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown format %q (want text or json)", s)
}

// Printer writes rows to an output.
type Printer struct {
	writer   io.Writer
	format   Format
	showBody bool
	noColor  bool
}

// Option configures a Printer.
type Option func(*Printer)

// NewPrinter creates a text printer writing to stdout.
func NewPrinter(opts ...Option) *Printer {
	p := &Printer{
		writer: os.Stdout,
		format: FormatText,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.noColor {
		color.NoColor = true
	}
	return p
}

func WithWriter(w io.Writer) Option {
	return func(p *Printer) {
		p.writer = w
	}
}

func WithFormat(f Format) Option {
	return func(p *Printer) {
		p.format = f
	}
}

// WithBody prints response bodies below each row in text output.
func WithBody(show bool) Option {
	return func(p *Printer) {
		p.showBody = show
	}
}

func WithNoColor(nc bool) Option {
	return func(p *Printer) {
		p.noColor = nc
	}
}

// Summary aggregates a run.
type Summary struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Cached    int            `json:"cached"`
	Elapsed   time.Duration  `json:"elapsed"`
	Latency   LatencySummary `json:"latency"`
}

// Summarize counts rows and computes their latency percentiles. Cached rows
// are excluded from latency.
func Summarize(rows []Row, elapsed time.Duration) Summary {
	latency := NewLatency()
	s := Summary{Total: len(rows), Elapsed: elapsed}
	for _, r := range rows {
		if r.Failed() {
			s.Failed++
		} else {
			s.Succeeded++
		}
		if r.Cached {
			s.Cached++
			continue
		}
		if r.Meta.Attempts > 0 {
			latency.Record(r.Meta.Duration)
		}
	}
	s.Latency = latency.Summary()
	return s
}

// Print writes rows and the run summary.
func (p *Printer) Print(rows []Row, elapsed time.Duration) error {
	summary := Summarize(rows, elapsed)
	if p.format == FormatJSON {
		return p.printJSON(rows, summary)
	}
	p.printText(rows, summary)
	return nil
}

func (p *Printer) printText(rows []Row, s Summary) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	for _, r := range rows {
		if r.Failed() {
			fmt.Fprintf(p.writer, "  %s %s %s\n", red("✗"), r.Key, red(fmt.Sprintf("(%v)", r.Err)))
			continue
		}

		line := fmt.Sprintf("  %s %s %d %s %s",
			green("✓"), r.Key, r.Meta.StatusCode, r.Meta.URL,
			cyan(fmt.Sprintf("(%dms, %d bytes)", r.Meta.Duration.Milliseconds(), len(r.Body))))
		if r.Cached {
			line += " " + yellow("[cached]")
		} else if r.Meta.Attempts > 1 {
			line += " " + yellow(fmt.Sprintf("[%d attempts]", r.Meta.Attempts))
		}
		fmt.Fprintln(p.writer, line)

		if p.showBody && len(r.Body) > 0 {
			fmt.Fprintf(p.writer, "%s\n", r.Body)
		}
	}

	fmt.Fprintf(p.writer, "\n")
	fmt.Fprintf(p.writer, "%s ", bold("Requests:"))
	if s.Succeeded > 0 {
		fmt.Fprintf(p.writer, "%s, ", green(fmt.Sprintf("%d succeeded", s.Succeeded)))
	}
	if s.Failed > 0 {
		fmt.Fprintf(p.writer, "%s, ", red(fmt.Sprintf("%d failed", s.Failed)))
	}
	if s.Cached > 0 {
		fmt.Fprintf(p.writer, "%s, ", yellow(fmt.Sprintf("%d cached", s.Cached)))
	}
	fmt.Fprintf(p.writer, "%d total\n", s.Total)
	if s.Latency.Count > 0 {
		fmt.Fprintf(p.writer, "Latency:  p50 %s  p95 %s  p99 %s  max %s\n",
			s.Latency.P50, s.Latency.P95, s.Latency.P99, s.Latency.Max)
	}
	fmt.Fprintf(p.writer, "Time:     %dms\n", s.Elapsed.Milliseconds())
}

// jsonOutput is the JSON output structure.
type jsonOutput struct {
	Results []jsonRow `json:"results"`
	Summary Summary   `json:"summary"`
}

type jsonRow struct {
	Key          string  `json:"key"`
	URL          string  `json:"url"`
	EffectiveURL string  `json:"effectiveUrl,omitempty"`
	StatusCode   int     `json:"statusCode,omitempty"`
	ContentType  string  `json:"contentType,omitempty"`
	Duration     float64 `json:"duration"`
	Attempts     int     `json:"attempts,omitempty"`
	Redirects    int     `json:"redirects,omitempty"`
	Cached       bool    `json:"cached,omitempty"`
	Size         int     `json:"size"`
	Body         string  `json:"body,omitempty"`
	Error        string  `json:"error,omitempty"`
}

func (p *Printer) printJSON(rows []Row, s Summary) error {
	out := jsonOutput{
		Results: make([]jsonRow, 0, len(rows)),
		Summary: s,
	}
	for _, r := range rows {
		jr := jsonRow{
			Key:          r.Key,
			URL:          r.Meta.URL,
			EffectiveURL: r.Meta.EffectiveURL,
			StatusCode:   r.Meta.StatusCode,
			ContentType:  r.Meta.ContentType,
			Duration:     float64(r.Meta.Duration.Milliseconds()),
			Attempts:     r.Meta.Attempts,
			Redirects:    r.Meta.RedirectCount,
			Cached:       r.Cached,
			Size:         len(r.Body),
			Body:         string(r.Body),
		}
		if r.Err != nil {
			jr.Error = r.Err.Error()
		}
		out.Results = append(out.Results, jr)
	}

	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
