package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/FranksOps/happytweet/internal/storage"
)

// Formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatNone = "none"
)

// Summary describes one search run.
type Summary struct {
	RunID string `json:"run_id"`
	Query string `json:"query"`

	Pages   int `json:"pages"`
	Fetched int `json:"fetched"`
	Kept    int `json:"kept"`
	Dropped int `json:"dropped"`

	Existing   int `json:"existing"`
	Added      int `json:"added"`
	Duplicates int `json:"duplicates"`
	Total      int `json:"total"`

	Output string `json:"output"`
	Mode   string `json:"mode"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ns"`
}

// ApplyStats copies the writer's outcome into the summary.
func (s *Summary) ApplyStats(st storage.Stats) {
	s.Existing = st.Existing
	s.Added = st.Added
	s.Duplicates = st.Duplicates
	s.Total = st.Total
}

// Finish stamps the end time and duration.
func (s *Summary) Finish(end time.Time) {
	s.EndTime = end
	s.Duration = end.Sub(s.StartTime)
}

// Write renders the summary in the named format. FormatNone writes nothing.
func Write(w io.Writer, format string, summary Summary) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		return WriteText(w, summary)
	case FormatJSON:
		return WriteJSON(w, summary)
	case FormatNone:
		return nil
	}
	return fmt.Errorf("report: unknown format %q", format)
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: failed to encode summary: %w", err)
	}
	return nil
}

var textTmpl = template.Must(template.New("textReport").Parse(`happytweet run {{.RunID}}
------------------
Query:       {{.Query}}
Time:        {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:    {{.Duration}}
Pages:       {{.Pages}}
Fetched:     {{.Fetched}} posts
Kept:        {{.Kept}} happy, {{.Dropped}} dropped
Output:      {{.Output}} ({{.Mode}})
Written:     {{.Added}} new, {{.Duplicates}} duplicate, {{.Existing}} existing, {{.Total}} total
`))

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	if err := textTmpl.Execute(w, summary); err != nil {
		return fmt.Errorf("report: failed to render summary: %w", err)
	}
	return nil
}
