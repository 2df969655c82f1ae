package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrel-wm/kestrel/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Check or print the configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "check <file>",
			Short: "Validate a configuration file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.LoadFile(args[0])
				if err != nil {
					return err
				}
				if err := cfg.Validate(); err != nil {
					return err
				}
				success("%s is valid", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "show [file]",
			Short: "Print the effective configuration with defaults applied",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := ""
				if len(args) == 1 {
					path = args[0]
				}
				cfg, err := config.Load(path)
				if err != nil {
					return err
				}
				data, err := cfg.Marshal()
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(data))
				return nil
			},
		},
	)
	return cmd
}
