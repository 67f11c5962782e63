package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/xref/configs"
	"github.com/Aman-CERP/xref/internal/config"
	"github.com/Aman-CERP/xref/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration",
		Long: `Inspect and create xref configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/xref/config.yaml)
  3. Project config (.xref.yaml)
  4. Environment variables (XREF_*)`,
		Example: `  # Show effective configuration for this project
  xref config show

  # Create the user config with defaults
  xref config init

  # Print user config file path
  xref config path`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		root       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := resolveRoot(root)
			if err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Project root (default: detected from the working directory)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		project bool
		root    string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file",
		Long: `Create the user configuration file with default values, or with
--project a commented .xref.yaml in the project root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			if project {
				dir, err := resolveRoot(root)
				if err != nil {
					return err
				}
				path := filepath.Join(dir, ".xref.yaml")
				if _, err := os.Stat(path); err == nil && !force {
					out.Warningf("Config already exists: %s (use --force to overwrite)", path)
					return nil
				}
				if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
					return fmt.Errorf("failed to write project config: %w", err)
				}
				out.Successf("Created %s", path)
				return nil
			}

			path := config.GetUserConfigPath()

			if _, err := os.Stat(path); err == nil && !force {
				out.Warningf("Config already exists: %s (use --force to overwrite)", path)
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := config.NewConfig().WriteYAML(path); err != nil {
				return err
			}

			out.Successf("Created %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&project, "project", false, "Create .xref.yaml in the project root instead")
	cmd.Flags().StringVar(&root, "root", "", "Project root for --project (default: detected from the working directory)")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
