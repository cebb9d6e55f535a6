package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/whitekid/goxp/log"
)

var rootCmd = &cobra.Command{
	Use:   "setls",
	Short: "private CA and one-shot mutual TLS for devices",
}

var configFile string

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file")
}

func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("setls")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("setls")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Debugf("config not loaded: %v", err)
	}
}

// bindFlags bind command flags to viper keys prefixed with command name
func bindFlags(cmd *cobra.Command, prefix string, names ...string) {
	for _, name := range names {
		viper.BindPFlag(prefix+"."+name, cmd.Flags().Lookup(name))
	}
}
