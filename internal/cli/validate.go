package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/config"
	"github.com/wesleyorama2/stampede/internal/output"
)

func newValidateCmd() *cobra.Command {
	var (
		configFile string
		env        string
		noColor    bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return fmt.Errorf("--config is required")
			}
			data, err := os.ReadFile(configFile)
			if err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
			if err := config.ValidateSchema(data, configFile); err != nil {
				return err
			}
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if err := cfg.ApplyEnvironment(env); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			p, err := cfg.Profile()
			if err != nil {
				return err
			}
			task, err := cfg.Task()
			if err != nil {
				return err
			}
			steps := task.Steps()

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s is valid\n", output.SuccessIcon(noColor || !output.UseColors(w)), configFile)
			fmt.Fprintf(w, "  profile:    %s\n", p)
			fmt.Fprintf(w, "  requests:   %d\n", len(steps))
			for _, st := range steps {
				fmt.Fprintf(w, "    %-7s %s\n", st.Method, st.Name)
			}
			fmt.Fprintf(w, "  thresholds: %d\n", len(cfg.Thresholds))
			if names := cfg.EnvironmentNames(); len(names) > 0 {
				fmt.Fprintf(w, "  environments: %s\n", strings.Join(names, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	cmd.Flags().StringVarP(&env, "env", "e", "", "Environment to apply before validating")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}
