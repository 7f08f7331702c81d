package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inferloop/dart/internal/config"
	"github.com/inferloop/dart/pkg/constants"
)

type ConfigOptions struct {
	Output string
	Force  bool
}

func NewConfigCmd(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialise the configuration",
	}

	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigProfilesCmd(g))
	cmd.AddCommand(newConfigInitCmd(g))

	return cmd
}

func newConfigShowCmd(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [profile]",
		Short: "Print the effective configuration, or one profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Load()
			if err != nil {
				return err
			}

			var value interface{} = cfg
			if len(args) == 1 {
				profile, err := cfg.Profile(args[0])
				if err != nil {
					return err
				}
				value = profile
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(value)
		},
	}
}

func newConfigProfilesCmd(g *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the configured suppression profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Load()
			if err != nil {
				return err
			}
			for _, name := range cfg.ProfileNames() {
				profile, _ := cfg.Profile(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s sensitive=[%s] frequency=[%s] threshold=%d\n",
					name,
					strings.Join(profile.SensitiveColumns, ","),
					strings.Join(profile.FrequencyColumns, ","),
					profile.MinimumThreshold)
			}
			return nil
		},
	}
}

func newConfigInitCmd(g *GlobalOptions) *cobra.Command {
	opts := &ConfigOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file holding every default",
		Example: `  # Create $HOME/.dart.yaml
  dart config init

  # Create a project config
  dart config init --output ./dart.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.Output
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if fileExists(path) && !opts.Force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}

			if _, err := g.Load(); err != nil {
				return err
			}
			g.viper.SetDefault("profiles.default.minimum_threshold", constants.DefaultMinimumThreshold)
			g.viper.SetDefault("profiles.default.max_iterations", constants.DefaultMaxIterations)
			g.viper.SetDefault("profiles.default.sensitive_columns", []string{})
			g.viper.SetDefault("profiles.default.frequency_columns", []string{})
			if err := config.Save(g.viper, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Config file to write (default $HOME/.dart.yaml)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite an existing file")

	return cmd
}
