package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/whitekid/goxp/log"

	"setls"
	"setls/ca"
)

func init() {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "start certificate authority service",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := viper.GetString("server.addr")
			log.Infof("CA service listening on %s", addr)

			return setls.Run(cmd.Context(), addr, ca.WithValidity(viper.GetDuration("server.validity")))
		},
	}

	flags := cmd.Flags()
	flags.String("addr", "0.0.0.0:3000", "listen address")
	flags.Duration("validity", ca.DefaultValidity, "issued certificate lifetime")
	bindFlags(cmd, "server", "addr", "validity")

	rootCmd.AddCommand(cmd)
}
