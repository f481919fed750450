package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Visecy/Karuha-sub000/internal/adapter/channel"
	"github.com/Visecy/Karuha-sub000/internal/infra/config"
)

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the server and serve messages until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *cfgPath)
		},
	}
}

func newValidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config, apply overrides and report problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: bot %q on %s via %s\n",
				cfg.Bot.Name, cfg.Server.Host, cfg.Server.ConnectMode)
			return nil
		},
	}
}

func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt VALUE",
		Short: "Encrypt a secret for the config file with KARUHA_CONFIG_KEY",
		Long: `Encrypt prints VALUE encrypted with the passphrase in KARUHA_CONFIG_KEY.
The output can be used as server.api_key or bot.secret; it is decrypted
when the config is loaded with the same key set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := os.Getenv("KARUHA_CONFIG_KEY")
			if key == "" {
				return errors.New("KARUHA_CONFIG_KEY is not set")
			}
			enc, err := config.EncryptValue(args[0], key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "enc:"+enc)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "karuha %s (protocol %s, client %s)\n",
				version, channel.ProtocolVersion, channel.Version)
		},
	}
}
