package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/montagehq/montage/internal/auth"
	"github.com/montagehq/montage/internal/client"
)

type ConfigInitOptions struct {
	ConfigFilePath string
	ServerUrl      string
	Token          string

	cmd *cobra.Command
}

func DefaultConfigInitOptions() *ConfigInitOptions {
	return &ConfigInitOptions{
		ConfigFilePath: client.DefaultMontageClientConfigPath(),
	}
}

func NewCmdConfig() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the client config file.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.AddCommand(NewCmdConfigInit())
	return cmd
}

func NewCmdConfigInit() *cobra.Command {
	o := DefaultConfigInitOptions()
	cmd := &cobra.Command{
		Use:          "init",
		Short:        "Write the client config file.",
		Example:      "config init --server-url https://montage.example.com --token $TOKEN",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.cmd = cmd
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
	}
	o.Bind(cmd.Flags())
	markRequired(cmd, "server-url")
	return cmd
}

func (o *ConfigInitOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFilePath, "config", o.ConfigFilePath, "Path to the client config file")
	fs.StringVarP(&o.ServerUrl, "server-url", "u", o.ServerUrl, "Address of the montage backend")
	fs.StringVar(&o.Token, "token", o.Token, "Bearer token sent to the backend")
}

func (o *ConfigInitOptions) Validate(args []string) error {
	if _, err := auth.CheckToken(o.Token); err != nil {
		return err
	}
	return nil
}

func (o *ConfigInitOptions) Run(ctx context.Context, args []string) error {
	if err := client.WriteConfig(o.ConfigFilePath, o.ServerUrl, o.Token); err != nil {
		return err
	}
	_, err := fmt.Fprintf(o.cmd.OutOrStdout(), "client config written to %s\n", o.ConfigFilePath)
	return err
}
