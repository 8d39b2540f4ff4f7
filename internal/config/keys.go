package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

// Value returns the display value of a dot-notation key.
func (c *Config) Value(key string) (string, error) {
	key = strings.ToLower(key)
	switch key {
	case "crew.runtime":
		return c.Crew.Runtime, nil
	case "crew.concurrency":
		return strconv.Itoa(c.Crew.Concurrency), nil
	case "crew.extension":
		return c.Crew.Extension, nil
	case "crew.shutdown_grace":
		return c.Crew.ShutdownGrace.String(), nil
	case "crew.coordination":
		return c.Crew.Coordination, nil
	case "crew.artifacts.enabled":
		return strconv.FormatBool(c.Crew.Artifacts.Enabled), nil
	case "crew.artifacts.dir":
		return c.Crew.Artifacts.Dir, nil
	case "planning.stale_after":
		return c.Planning.StaleAfter.String(), nil
	case "planning.max_passes":
		return strconv.Itoa(c.Planning.MaxPasses), nil
	case "logging.level":
		return c.Logging.Level, nil
	}

	if role, ok := strings.CutPrefix(key, "crew.thinking."); ok {
		if err := checkRole(role); err != nil {
			return "", err
		}
		return c.Crew.ThinkingFor(models.Role(role)), nil
	}
	if rest, ok := strings.CutPrefix(key, "crew.output_budget."); ok {
		role, field, _ := strings.Cut(rest, ".")
		if err := checkRole(role); err != nil {
			return "", err
		}
		b := c.Crew.OutputBudget[role]
		switch field {
		case "bytes":
			return strconv.Itoa(b.Bytes), nil
		case "lines":
			return strconv.Itoa(b.Lines), nil
		}
	}
	return "", fmt.Errorf("unknown configuration key: %s", key)
}

// Set assigns a dot-notation key from its string form.
func (c *Config) Set(key, value string) error {
	key = strings.ToLower(key)
	switch key {
	case "crew.runtime":
		c.Crew.Runtime = value
	case "crew.concurrency":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid value for crew.concurrency: %q", value)
		}
		c.Crew.Concurrency = n
	case "crew.extension":
		c.Crew.Extension = value
	case "crew.shutdown_grace":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for crew.shutdown_grace: %w", err)
		}
		c.Crew.ShutdownGrace = d
	case "crew.coordination":
		if !ValidCoordination(value) {
			return fmt.Errorf("invalid value for crew.coordination: %q (want one of %s)",
				value, strings.Join(CoordinationLevels, ", "))
		}
		c.Crew.Coordination = value
	case "crew.artifacts.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for crew.artifacts.enabled: %w", err)
		}
		c.Crew.Artifacts.Enabled = b
	case "crew.artifacts.dir":
		c.Crew.Artifacts.Dir = value
	case "planning.stale_after":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for planning.stale_after: %w", err)
		}
		c.Planning.StaleAfter = d
	case "planning.max_passes":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid value for planning.max_passes: %q", value)
		}
		c.Planning.MaxPasses = n
	case "logging.level":
		c.Logging.Level = value
	default:
		return c.setRoleKey(key, value)
	}
	return nil
}

func (c *Config) setRoleKey(key, value string) error {
	if role, ok := strings.CutPrefix(key, "crew.thinking."); ok {
		if err := checkRole(role); err != nil {
			return err
		}
		if c.Crew.Thinking == nil {
			c.Crew.Thinking = make(map[string]string)
		}
		c.Crew.Thinking[role] = value
		return nil
	}
	if rest, ok := strings.CutPrefix(key, "crew.output_budget."); ok {
		role, field, _ := strings.Cut(rest, ".")
		if err := checkRole(role); err != nil {
			return err
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid value for %s: %q", key, value)
		}
		if c.Crew.OutputBudget == nil {
			c.Crew.OutputBudget = make(map[string]models.OutputBudget)
		}
		b := c.Crew.OutputBudget[role]
		switch field {
		case "bytes":
			b.Bytes = n
		case "lines":
			b.Lines = n
		default:
			return fmt.Errorf("unknown configuration key: %s", key)
		}
		c.Crew.OutputBudget[role] = b
		return nil
	}
	return fmt.Errorf("unknown configuration key: %s", key)
}

func checkRole(role string) error {
	if !models.Role(role).Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return nil
}
