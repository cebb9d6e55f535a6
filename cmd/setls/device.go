package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/whitekid/goxp/log"

	"setls/chain"
	client "setls/client/authority"
	"setls/mtls"
	"setls/pkg/helper"
	"setls/signer"
)

// device commands use software key provider; real devices bind their secure element through signer.Funcs
var deviceCmd *cobra.Command

func init() {
	deviceCmd = &cobra.Command{
		Use:   "device",
		Short: "device side commands: key, enrollment and mTLS messaging",
	}
	deviceCmd.PersistentFlags().String("key", "device.key", "device private key file")
	viper.BindPFlag("device.key", deviceCmd.PersistentFlags().Lookup("key"))

	rootCmd.AddCommand(deviceCmd)
}

func init() {
	deviceCmd.AddCommand(&cobra.Command{
		Use:   "keygen",
		Short: "generate device key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return keygen(viper.GetString("device.key"))
		},
	})
}

func keygen(filename string) error {
	provider, err := signer.NewSoftware()
	if err != nil {
		return err
	}

	pemBytes, err := provider.PEM()
	if err != nil {
		return err
	}

	return helper.WriteFile(filename, pemBytes, 0600)
}

func loadIdentity(filename string) (*signer.Identity, error) {
	keyPEM, err := helper.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "fail to read key")
	}

	provider, err := signer.LoadSoftware(keyPEM)
	if err != nil {
		return nil, err
	}

	return signer.New(provider)
}

func loadConfig(keyFile, chainFile string) (*mtls.Config, error) {
	id, err := loadIdentity(keyFile)
	if err != nil {
		return nil, err
	}

	chainPEM, err := helper.ReadFile(chainFile)
	if err != nil {
		return nil, errors.Wrap(err, "fail to read chain")
	}

	issued, err := chain.Parse(string(chainPEM))
	if err != nil {
		return nil, err
	}

	return &mtls.Config{
		Chain:       issued,
		Identity:    id,
		DialTimeout: viper.GetDuration("device.dial-timeout"),
	}, nil
}

func init() {
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "request certificate from CA",
		RunE: func(cmd *cobra.Command, args []string) error {
			return enroll(cmd.Context(), viper.GetString("enroll.ca"), viper.GetString("device.key"), viper.GetString("enroll.out"))
		},
	}

	flags := cmd.Flags()
	flags.String("ca", "http://127.0.0.1:3000", "CA service URL")
	flags.String("out", "chain.pem", "issued certificate chain file")
	bindFlags(cmd, "enroll", "ca", "out")

	deviceCmd.AddCommand(cmd)
}

func enroll(ctx context.Context, caURL, keyFile, out string) error {
	id, err := loadIdentity(keyFile)
	if err != nil {
		return err
	}

	issued, err := client.New(caURL).Enroll(ctx, id)
	if err != nil {
		return err
	}

	log.Infof("certificate issued by %s", caURL)
	return helper.WriteFile(out, []byte(issued.String()), 0644)
}

func init() {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "accept one mTLS connection and print the first line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(viper.GetString("device.key"), viper.GetString("listen.chain"))
			if err != nil {
				return err
			}

			line, err := mtls.AcceptOnce(cmd.Context(), viper.GetInt("listen.port"), cfg)
			if err != nil {
				return err
			}

			fmt.Fprint(os.Stdout, line)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 4433, "listen port")
	flags.String("chain", "chain.pem", "certificate chain file")
	bindFlags(cmd, "listen", "port", "chain")

	deviceCmd.AddCommand(cmd)
}

func init() {
	cmd := &cobra.Command{
		Use:   "send message...",
		Short: "send one line to peer over mTLS",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(viper.GetString("device.key"), viper.GetString("send.chain"))
			if err != nil {
				return err
			}

			message := strings.Join(args, " ") + "\n"
			return mtls.SendOnce(cmd.Context(), viper.GetString("send.target"), cfg, []byte(message))
		},
	}

	flags := cmd.Flags()
	flags.String("target", "127.0.0.1:4433", "peer address")
	flags.String("chain", "chain.pem", "certificate chain file")
	flags.Duration("dial-timeout", mtls.DefaultDialTimeout, "connect timeout")
	bindFlags(cmd, "send", "target", "chain")
	viper.BindPFlag("device.dial-timeout", flags.Lookup("dial-timeout"))

	deviceCmd.AddCommand(cmd)
}
