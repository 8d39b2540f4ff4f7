package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-messenger-sub001/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify crew configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Role keys take the form crew.thinking.<role> and
crew.output_budget.<role>.bytes|lines, where role is planner, worker,
reviewer or analyst.

Configuration is stored at ~/.config/pi-messenger/config.yaml
Project-specific overrides can be placed in .pi/messenger/crew/config.json`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		defer p.Close()

		switch len(args) {
		case 0:
			return displayAllConfig(p.cfg)
		case 1:
			return displayConfigKey(p.cfg, args[0])
		default:
			return setConfigKey(p.cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) error {
	for _, key := range config.Keys() {
		value, err := cfg.Value(key)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", key, value)
	}

	roles := make([]string, 0, len(cfg.Crew.Thinking))
	for role := range cfg.Crew.Thinking {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		fmt.Printf("crew.thinking.%s: %s\n", role, cfg.Crew.Thinking[role])
	}

	roles = roles[:0]
	for role := range cfg.Crew.OutputBudget {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		b := cfg.Crew.OutputBudget[role]
		fmt.Printf("crew.output_budget.%s: %s\n", role, formatBudget(b.Bytes, b.Lines))
	}

	for _, kv := range cfg.Crew.Env {
		fmt.Printf("crew.env: %s\n", kv)
	}
	for _, dir := range cfg.Crew.AgentDirs {
		fmt.Printf("crew.agent_dirs: %s\n", dir)
	}
	return nil
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) error {
	value, err := cfg.Value(key)
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) error {
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}
