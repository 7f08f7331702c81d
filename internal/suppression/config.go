package suppression

import (
	"fmt"

	"github.com/inferloop/dart/pkg/constants"
	"github.com/inferloop/dart/pkg/errors"
)

// Config selects the columns of a table and the thresholds used to redact it.
type Config struct {
	ParentOrganization  string   `json:"parent_organization,omitempty" mapstructure:"parent_organization"`
	ChildOrganization   string   `json:"child_organization,omitempty" mapstructure:"child_organization"`
	SensitiveColumns    []string `json:"sensitive_columns" mapstructure:"sensitive_columns"`
	FrequencyColumns    []string `json:"frequency_columns" mapstructure:"frequency_columns"`
	UserRedactionColumn string   `json:"user_redaction_column,omitempty" mapstructure:"user_redaction_column"`
	MinimumThreshold    int      `json:"minimum_threshold" mapstructure:"minimum_threshold"`
	RedactZero          bool     `json:"redact_zero" mapstructure:"redact_zero"`
	RedactValue         *string  `json:"redact_value,omitempty" mapstructure:"redact_value"`

	// Converge repeats the secondary passes until no flag changes.
	Converge      bool `json:"converge,omitempty" mapstructure:"converge"`
	MaxIterations int  `json:"max_iterations,omitempty" mapstructure:"max_iterations"`
}

// DefaultConfig returns a configuration with the documented defaults and no
// columns selected.
func DefaultConfig() *Config {
	return &Config{
		MinimumThreshold: constants.DefaultMinimumThreshold,
		MaxIterations:    constants.DefaultMaxIterations,
	}
}

// Validate checks the parts of the configuration that do not depend on a table.
func (c *Config) Validate() error {
	if c.MinimumThreshold < 0 {
		return errors.NewConfigurationError(errors.CodeInvalidThreshold, errors.ErrNegativeThreshold.Error()).
			WithContext("minimum_threshold", c.MinimumThreshold)
	}
	if len(c.SensitiveColumns) == 0 {
		return errors.NewConfigurationError(errors.CodeMissingSensitive, errors.ErrNoSensitiveColumns.Error())
	}
	if len(c.FrequencyColumns) == 0 {
		return errors.NewConfigurationError(errors.CodeMissingFrequency, errors.ErrNoFrequencyColumns.Error())
	}
	if c.MaxIterations < 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "max_iterations cannot be negative")
	}

	seen := make(map[string]string)
	claim := func(column, role string) error {
		if column == "" {
			return nil
		}
		if prev, ok := seen[column]; ok {
			return errors.NewConfigurationError(errors.CodeDuplicateRole,
				fmt.Sprintf("column %q is configured as both %s and %s", column, prev, role))
		}
		seen[column] = role
		return nil
	}

	if err := claim(c.ParentOrganization, "parent organization"); err != nil {
		return err
	}
	if err := claim(c.ChildOrganization, "child organization"); err != nil {
		return err
	}
	for _, col := range c.SensitiveColumns {
		if col == "" {
			return errors.NewConfigurationError(errors.CodeMissingSensitive, "sensitive column names cannot be empty")
		}
		if err := claim(col, "sensitive column"); err != nil {
			return err
		}
	}
	for _, col := range c.FrequencyColumns {
		if col == "" {
			return errors.NewConfigurationError(errors.CodeMissingFrequency, "frequency column names cannot be empty")
		}
		if err := claim(col, "frequency column"); err != nil {
			return err
		}
	}
	return claim(c.UserRedactionColumn, "user redaction column")
}

func (c *Config) maxIterations() int {
	if c.MaxIterations <= 0 {
		return constants.DefaultMaxIterations
	}
	return c.MaxIterations
}

// organizationColumns returns the configured hierarchy, parent first.
func (c *Config) organizationColumns() []string {
	var cols []string
	if c.ParentOrganization != "" {
		cols = append(cols, c.ParentOrganization)
	}
	if c.ChildOrganization != "" {
		cols = append(cols, c.ChildOrganization)
	}
	return cols
}

// CompositeKey is the organization columns followed by the sensitive columns.
func (c *Config) CompositeKey() []string {
	return append(c.organizationColumns(), c.SensitiveColumns...)
}
