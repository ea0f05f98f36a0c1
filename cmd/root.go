package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/audiosrc/cmd/capture"
	"github.com/tphakala/audiosrc/cmd/devices"
	"github.com/tphakala/audiosrc/internal/conf"
)

// RootCommand creates and returns the root command. initialize runs after
// flags are parsed and settings validated, before any subcommand.
func RootCommand(settings *conf.Settings, initialize func(*conf.Settings) error) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "audiosrc",
		Short:         "Audio capture source with clock slaving",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		capture.Command(settings),
		devices.Command(settings),
		initConfigCommand(),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// flags may have changed settings after load
		if err := conf.ValidateSettings(settings); err != nil {
			return err
		}
		if initialize != nil {
			return initialize(settings)
		}
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func initConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := conf.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	}
}
