package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/mcmw/cmd/mc"
	"github.com/ValentinKolb/mcmw/cmd/serve"
	"github.com/ValentinKolb/mcmw/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "mcmw",
		Short: "memcached sharding and replicating proxy",
		Long: fmt.Sprintf(`mcmw (v%s)

A middleware between memcached clients and a fixed set of memcached servers.
Stores are replicated to every server, reads are spread round robin and can
be split into one read per server.`, Version),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.ReadConfigFile(viper.GetString("config"))
		},
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mcmw",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcmw v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(mc.Commands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "config"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("Optional config file (yaml, toml or json) with the same keys as the flags"))
	_ = viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(key))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
