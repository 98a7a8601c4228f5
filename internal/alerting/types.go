// Package alerting evaluates dashboard metrics against configured thresholds,
// rate-limits firing with a per-threshold cooldown, dispatches notifications
// and keeps a bounded alert history.
package alerting

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrThresholdNotFound is returned when a threshold ID is unknown.
	ErrThresholdNotFound = errors.New("alert threshold not found")

	// ErrNotificationNotFound is returned when acknowledging an unknown history entry.
	ErrNotificationNotFound = errors.New("alert notification not found")

	// ErrInvalidThreshold wraps threshold validation failures.
	ErrInvalidThreshold = errors.New("invalid alert threshold")

	// ErrTransport wraps notification transport failures. Callers decide
	// whether to retry.
	ErrTransport = errors.New("notification transport failure")
)

// Operator is the comparison applied between a metric and its threshold.
type Operator string

const (
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"

	// OpPercentageChange is reserved. It never fires.
	OpPercentageChange Operator = "percentage_change"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpGreaterThan, OpLessThan, OpEquals, OpNotEquals, OpPercentageChange:
		return true
	}
	return false
}

// Compare reports whether value breaches threshold under o.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGreaterThan:
		return value > threshold
	case OpLessThan:
		return value < threshold
	case OpEquals:
		return value == threshold
	case OpNotEquals:
		return value != threshold
	default:
		return false
	}
}

// Phrase renders the operator for messages.
func (o Operator) Phrase() string {
	switch o {
	case OpGreaterThan:
		return "above"
	case OpLessThan:
		return "below"
	case OpEquals:
		return "equal to"
	case OpNotEquals:
		return "not equal to"
	case OpPercentageChange:
		return "changed against"
	default:
		return string(o)
	}
}

// Severity of a threshold.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// Channel is a notification method.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"

	// ChannelInApp is satisfied by the history entry itself.
	ChannelInApp Channel = "in_app"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelInApp
}

// ─── Duration ─────────────────────────────────────────────────────────────────

// Duration is a time.Duration that reads "30m"-style strings or plain
// seconds from JSON and YAML, and writes strings.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*d = 0
		return nil
	case float64:
		*d = Duration(time.Duration(x * float64(time.Second)))
		return nil
	case string:
		return d.parse(x)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// ─── Threshold ────────────────────────────────────────────────────────────────

// Threshold is a configured alert rule. Metric is a dotted path into the
// metrics object handed to CheckThresholds.
type Threshold struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Metric              string    `json:"metric"`
	Operator            Operator  `json:"operator"`
	Threshold           float64   `json:"threshold"`
	Severity            Severity  `json:"severity"`
	IsActive            bool      `json:"is_active"`
	Cooldown            Duration  `json:"cooldown"`
	Recipients          []string  `json:"recipients"`
	NotificationMethods []Channel `json:"notification_methods"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Validate checks the user-editable fields.
func (t Threshold) Validate() error {
	var problems []string
	if strings.TrimSpace(t.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.ContainsAny(t.Name, "\r\n") {
		problems = append(problems, "name must be a single line")
	}
	if strings.TrimSpace(t.Metric) == "" {
		problems = append(problems, "metric is required")
	}
	if !t.Operator.Valid() {
		problems = append(problems, fmt.Sprintf("unknown operator %q", t.Operator))
	}
	if !t.Severity.Valid() {
		problems = append(problems, fmt.Sprintf("unknown severity %q", t.Severity))
	}
	if math.IsNaN(t.Threshold) || math.IsInf(t.Threshold, 0) {
		problems = append(problems, "threshold must be a finite number")
	}
	if t.Cooldown < 0 {
		problems = append(problems, "cooldown must not be negative")
	}
	for _, c := range t.NotificationMethods {
		if !c.Valid() {
			problems = append(problems, fmt.Sprintf("unknown notification method %q", c))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidThreshold, strings.Join(problems, "; "))
	}
	return nil
}

// EmailRecipients returns the recipients that look like email addresses.
func (t Threshold) EmailRecipients() []string {
	var out []string
	for _, r := range t.Recipients {
		if strings.Contains(r, "@") {
			out = append(out, r)
		}
	}
	return out
}

// SMSRecipients returns the recipients that are not email addresses.
func (t Threshold) SMSRecipients() []string {
	var out []string
	for _, r := range t.Recipients {
		if r != "" && !strings.Contains(r, "@") {
			out = append(out, r)
		}
	}
	return out
}

// ─── Notification ─────────────────────────────────────────────────────────────

// Notification is one alert firing in the history log.
type Notification struct {
	ID           string    `json:"id"`
	AlertID      string    `json:"alert_id"`
	Message      string    `json:"message"`
	Severity     Severity  `json:"severity"`
	MetricValue  float64   `json:"metric_value"`
	Channels     []Channel `json:"channels"`
	Acknowledged bool      `json:"acknowledged"`
	TriggeredAt  time.Time `json:"triggered_at"`
}

// Email is a message handed to an EmailTransport.
type Email struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
}
