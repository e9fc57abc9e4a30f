package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/prolink/internal/config"
)

const defaultConfigPath = "linkctl.toml"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate a config file",
	}
	cmd.AddCommand(newConfigGenCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigGenCmd() *cobra.Command {
	var (
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Write the default config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "-" {
				doc, err := config.DefaultTemplate()
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), doc)
				return err
			}
			if err := config.WriteTemplate(output, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", defaultConfigPath, `output path, "-" for stdout`)
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(input)
			if err != nil {
				return err
			}
			p := cfg.Participant
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s: name=%q number=%d range=%d-%d\n",
				input, p.Name, p.DeviceNumber, p.MinNumber, p.MaxNumber)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", defaultConfigPath, "config path")
	return cmd
}
