package mc

import (
	"context"

	"github.com/ValentinKolb/mcmw/cmd/util"
	"github.com/ValentinKolb/mcmw/lib/mcclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	client *mcclient.Client

	// Commands represents the mc command group
	Commands = &cobra.Command{
		Use:               "mc",
		Short:             "Talk to the proxy (or any memcached server) with the text protocol",
		PersistentPreRunE: setupClient,
		PersistentPostRun: func(*cobra.Command, []string) {
			if client != nil {
				_ = client.Close()
			}
		},
	}
)

func init() {
	// Add connection flags to the mc command
	util.SetupClientFlags(Commands)

	// Add subcommands
	Commands.AddCommand(setCmd)
	Commands.AddCommand(getCmd)
	Commands.AddCommand(getsCmd)
	Commands.AddCommand(rawCmd)
	Commands.AddCommand(perfCmd)
}

// setupClient connects the client used by the subcommands
func setupClient(cmd *cobra.Command, _ []string) error {
	if err := util.ReadConfigFile(viper.GetString("config")); err != nil {
		return err
	}
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()
	c, err := mcclient.Dial(context.Background(), config.Endpoint, config.Timeout)
	if err != nil {
		return err
	}
	client = c
	return nil
}
