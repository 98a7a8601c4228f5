package alerting

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/opsboard/opsboard-analytics/internal/units"
)

const timestampLayout = "2006-01-02 15:04:05 MST"

// FormatMessage is the one-line description stored in history and sent by SMS.
func FormatMessage(t Threshold, value float64, at time.Time) string {
	return fmt.Sprintf("%s: %s is %s, %s threshold %s (%s)",
		displayName(t), t.Metric,
		units.Format(t.Metric, value),
		t.Operator.Phrase(),
		units.Format(t.Metric, t.Threshold),
		at.UTC().Format(timestampLayout))
}

func displayName(t Threshold) string {
	if t.Name != "" {
		return t.Name
	}
	return t.Metric
}

func emailSubject(t Threshold) string {
	return headerSafe(fmt.Sprintf("[%s] Alert: %s", strings.ToUpper(string(t.Severity)), displayName(t)))
}

// headerSafe folds line breaks into spaces so a value cannot start a new
// mail header.
func headerSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
}

var emailHTML = template.Must(template.New("alert").Parse(`<h2>{{.Name}}</h2>
<p>The metric <strong>{{.Metric}}</strong> is {{.Phrase}} its threshold.</p>
<table>
<tr><td>Current value</td><td>{{.Value}}</td></tr>
<tr><td>Threshold</td><td>{{.Operator}} {{.Threshold}}</td></tr>
<tr><td>Severity</td><td>{{.Severity}}</td></tr>
<tr><td>Time</td><td>{{.Time}}</td></tr>
</table>
`))

type emailView struct {
	Name      string
	Metric    string
	Phrase    string
	Value     string
	Operator  string
	Threshold string
	Severity  string
	Time      string
}

// buildEmail renders the text and HTML bodies for one firing.
func buildEmail(from string, to []string, t Threshold, value float64, at time.Time) (Email, error) {
	view := emailView{
		Name:      displayName(t),
		Metric:    t.Metric,
		Phrase:    t.Operator.Phrase(),
		Value:     units.Format(t.Metric, value),
		Operator:  string(t.Operator),
		Threshold: units.Format(t.Metric, t.Threshold),
		Severity:  string(t.Severity),
		Time:      at.UTC().Format(timestampLayout),
	}

	var html bytes.Buffer
	if err := emailHTML.Execute(&html, view); err != nil {
		return Email{}, fmt.Errorf("render email: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n", view.Name)
	fmt.Fprintf(&text, "Metric:        %s\n", view.Metric)
	fmt.Fprintf(&text, "Current value: %s\n", view.Value)
	fmt.Fprintf(&text, "Threshold:     %s %s\n", view.Operator, view.Threshold)
	fmt.Fprintf(&text, "Severity:      %s\n", view.Severity)
	fmt.Fprintf(&text, "Time:          %s\n", view.Time)

	return Email{
		From:    from,
		To:      to,
		Subject: emailSubject(t),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
