package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/siamese-verify/internal/config"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:         "config",
		Short:       "Configuration utilities",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}

	configCmd.AddCommand(&cobra.Command{
		Use:         "sample",
		Short:       "Print the default configuration as TOML",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, err := config.Sample()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), sample)
			return err
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:         "validate <path>",
		Short:       "Validate a configuration file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (model %s, interpolation %s)\n",
				args[0], cfg.Engine.ModelPath, cfg.Preprocess.Interpolation)
			return nil
		},
	})

	return configCmd
}
