package alerting

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout of a threshold seed file:
//
//	thresholds:
//	  - name: Low daily sales
//	    metric: sales.total
//	    operator: less_than
//	    threshold: 1000
//	    cooldown: 1h
//	    notification_methods: [email]
//	    recipients: [ops@example.com]
type seedFile struct {
	Thresholds []seedThreshold `yaml:"thresholds"`
}

type seedThreshold struct {
	Name                string    `yaml:"name"`
	Metric              string    `yaml:"metric"`
	Operator            Operator  `yaml:"operator"`
	Threshold           float64   `yaml:"threshold"`
	Severity            Severity  `yaml:"severity"`
	Active              *bool     `yaml:"active"`
	Cooldown            Duration  `yaml:"cooldown"`
	Recipients          []string  `yaml:"recipients"`
	NotificationMethods []Channel `yaml:"notification_methods"`
}

// ParseSeed reads thresholds from YAML. Thresholds are active unless the
// file says otherwise.
func ParseSeed(r io.Reader) ([]Threshold, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parse threshold seed: %w", err)
	}

	out := make([]Threshold, 0, len(f.Thresholds))
	for i, s := range f.Thresholds {
		t := Threshold{
			Name:                s.Name,
			Metric:              s.Metric,
			Operator:            s.Operator,
			Threshold:           s.Threshold,
			Severity:            s.Severity,
			IsActive:            s.Active == nil || *s.Active,
			Cooldown:            s.Cooldown,
			Recipients:          s.Recipients,
			NotificationMethods: s.NotificationMethods,
		}
		if t.Severity == "" {
			t.Severity = SeverityWarning
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("threshold %d (%s): %w", i, s.Name, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadSeedFile parses a YAML seed file from disk.
func LoadSeedFile(path string) ([]Threshold, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open threshold seed: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// Seed creates thresholds. With onlyIfEmpty it does nothing when any
// threshold already exists. It returns the number created.
func (e *Engine) Seed(ctx context.Context, thresholds []Threshold, onlyIfEmpty bool) (int, error) {
	if onlyIfEmpty {
		existing, err := e.ListThresholds(ctx)
		if err != nil {
			return 0, err
		}
		if len(existing) > 0 {
			e.logger.Debug("thresholds already configured, skipping seed", zap.Int("existing", len(existing)))
			return 0, nil
		}
	}
	created := 0
	for _, t := range thresholds {
		if _, err := e.CreateThreshold(ctx, t); err != nil {
			return created, err
		}
		created++
	}
	e.logger.Info("alert thresholds seeded", zap.Int("created", created))
	return created, nil
}
