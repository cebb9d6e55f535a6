package main

import (
	"context"
	"crypto/x509"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/whitekid/goxp/fx"

	"setls/pkg/helper"
	"setls/pkg/helper/x509x"
)

var x509cmd *cobra.Command

func init() {
	x509cmd = &cobra.Command{
		Use:   "x509",
		Short: "x509 utility commands",
	}
	x509cmd.PersistentFlags().StringP("output", "o", "json", "output format: json, yaml")
	viper.BindPFlag("x509.output", x509cmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(x509cmd)
}

func init() {
	cmd := &cobra.Command{
		Use: "csr",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info csr",
		Short: "show CSR informations",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if err := csrInfo(cmd.Context(), arg, viper.GetString("x509.output")); err != nil {
					return err
				}
			}
			return nil
		},
	})

	x509cmd.AddCommand(cmd)
}

// csrInfo show csr information
// openssl req -text in <filename>
func csrInfo(ctx context.Context, filename string, format string) error {
	pemBytes, err := helper.ReadFile(filename)
	if err != nil {
		return err
	}

	csr, err := x509x.ParseCSR(pemBytes)
	if err != nil {
		return err
	}

	return helper.Write(os.Stdout, format, &struct {
		Subject            string `json:",omitempty" yaml:",omitempty"`
		PublicKeyAlgorithm string `json:",omitempty" yaml:",omitempty"`
		SignatureAlgorithm string `json:",omitempty" yaml:",omitempty"`
		SignatureValid     bool
	}{
		Subject:            csr.Subject.String(),
		PublicKeyAlgorithm: csr.PublicKeyAlgorithm.String(),
		SignatureAlgorithm: csr.SignatureAlgorithm.String(),
		SignatureValid:     csr.CheckSignature() == nil,
	})
}

func init() {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "certificate",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info cert",
		Short: "show certificate informations",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if err := certInfo(cmd.Context(), arg, viper.GetString("x509.output")); err != nil {
					return err
				}
			}
			return nil
		},
	})

	x509cmd.AddCommand(cmd)
}

type certificateInfo struct {
	Subject            string
	Issuer             string
	SerialNumber       string
	PublicKeyAlgorithm string
	SignatureAlgorithm string
	IsCA               bool
	KeyUsage           []string
	ExtKeyUsage        []string
	NotBefore          time.Time
	NotAfter           time.Time
}

// certInfo show certification info for each certificate in the file
// openssl x509 -text -in <filename>
func certInfo(ctx context.Context, filename string, format string) error {
	pemBytes, err := helper.ReadFile(filename)
	if err != nil {
		return err
	}

	certs, err := x509x.ParseCertificateChain(pemBytes)
	if err != nil {
		return err
	}

	return helper.Write(os.Stdout, format, fx.Map(certs, func(cert *x509.Certificate) *certificateInfo {
		return &certificateInfo{
			Subject:            cert.Subject.String(),
			Issuer:             cert.Issuer.String(),
			SerialNumber:       cert.SerialNumber.String(),
			PublicKeyAlgorithm: cert.PublicKeyAlgorithm.String(),
			SignatureAlgorithm: cert.SignatureAlgorithm.String(),
			IsCA:               cert.IsCA,
			KeyUsage:           x509x.KeyUsageToStr(cert.KeyUsage),
			ExtKeyUsage:        x509x.ExtKeyUsageToStr(cert.ExtKeyUsage),
			NotBefore:          cert.NotBefore,
			NotAfter:           cert.NotAfter,
		}
	}))
}
