package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration using struct tags plus cross-field
// rules, returning actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if c.Budget.PerRunCostLimitUSD > c.Budget.DailyCostLimitUSD && c.Budget.DailyCostLimitUSD > 0 {
		return errors.New("per_run_cost_limit_usd cannot exceed daily_cost_limit_usd")
	}
	return nil
}

// formatValidationErrors converts validator errors into readable messages.
func formatValidationErrors(err error) error {
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return err
	}
	var msgs []string
	for _, fieldErr := range invalid {
		msgs = append(msgs, fmt.Sprintf("%s failed %q validation (value %v)",
			fieldErr.Namespace(), fieldErr.Tag(), fieldErr.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
