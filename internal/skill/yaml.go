package skill

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration fields in definition files are written as Go duration strings
// ("30s", "5m"). yaml.v3 has no native time.Duration support, so Step and
// Skill decode through raw mirrors and parse the strings explicitly.

func parseDurationField(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %q", field, raw)
	}
	return d, nil
}

func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ID               string            `yaml:"id"`
		Action           string            `yaml:"action"`
		Parameters       map[string]string `yaml:"parameters"`
		Condition        string            `yaml:"condition"`
		RequiresApproval bool              `yaml:"requires_approval"`
		OnError          ErrorPolicy       `yaml:"on_error"`
		RetryCount       int               `yaml:"retry_count"`
		RetryDelay       string            `yaml:"retry_delay"`
		RetryBackoff     Backoff           `yaml:"retry_backoff"`
		Timeout          string            `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	retryDelay, err := parseDurationField("retry_delay", raw.RetryDelay)
	if err != nil {
		return fmt.Errorf("step %s: %w", raw.ID, err)
	}
	timeout, err := parseDurationField("timeout", raw.Timeout)
	if err != nil {
		return fmt.Errorf("step %s: %w", raw.ID, err)
	}

	*s = Step{
		ID:               raw.ID,
		Action:           raw.Action,
		Parameters:       raw.Parameters,
		Condition:        raw.Condition,
		RequiresApproval: raw.RequiresApproval,
		OnError:          raw.OnError,
		RetryCount:       raw.RetryCount,
		RetryDelay:       retryDelay,
		RetryBackoff:     raw.RetryBackoff,
		Timeout:          timeout,
	}
	return nil
}

func (s *Skill) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ID          string      `yaml:"id"`
		Name        string      `yaml:"name"`
		Description string      `yaml:"description"`
		RiskLevel   RiskLevel   `yaml:"risk_level"`
		Parameters  []Parameter `yaml:"parameters"`
		Steps       []Step      `yaml:"steps"`
		Rollback    string      `yaml:"rollback"`
		Timeout     string      `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	timeout, err := parseDurationField("timeout", raw.Timeout)
	if err != nil {
		return fmt.Errorf("skill %s: %w", raw.ID, err)
	}

	*s = Skill{
		ID:          raw.ID,
		Name:        raw.Name,
		Description: raw.Description,
		RiskLevel:   raw.RiskLevel,
		Parameters:  raw.Parameters,
		Steps:       raw.Steps,
		Rollback:    raw.Rollback,
		Timeout:     timeout,
	}
	return nil
}
