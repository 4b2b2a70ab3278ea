package main

import (
	"fmt"

	"github.com/eternalApril/moonkv/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration the server would start with: defaults, config.yaml,
environment variables and flags merged in that order.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.BindFlags(cmd.Flags()); err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}

		if file := config.ConfigFile(); file != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", file)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	addServeFlags(configCmd)
}
