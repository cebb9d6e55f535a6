package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/pkg/errors"

	"setls/chain"
	"setls/pkg/helper"
	"setls/signer"
)

const (
	// ServerName logical peer name; peers are authenticated by the CA chain only, not by host name
	ServerName = "SETLS"

	AckSize = 1024

	DefaultDialTimeout    = 30 * time.Second
	DefaultAckTimeout     = 5 * time.Second
	DefaultMaxMessageSize = 64 * 1024
)

// Config certified identity of this device: issued chain and the signer holding the leaf key
type Config struct {
	Chain    *chain.Chain     `validate:"required"`
	Identity *signer.Identity `validate:"required"`

	DialTimeout    time.Duration `validate:"gte=0"`
	AckTimeout     time.Duration `validate:"gte=0"`
	MaxMessageSize int64         `validate:"gte=0"`
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	return &cfg
}

// certificate the one and only credential of this device
func (c *Config) certificate() *tls.Certificate {
	return &tls.Certificate{
		Certificate:                  [][]byte{c.Chain.LeafDER()},
		PrivateKey:                   c.Identity,
		SupportedSignatureAlgorithms: []tls.SignatureScheme{c.Identity.SignatureScheme()},
	}
}

// ServerTLSConfig server config that requires client certificate issued by the CA
func (c *Config) ServerTLSConfig() (*tls.Config, error) {
	if err := helper.ValidateStruct(c); err != nil {
		return nil, err
	}

	pool, err := c.Chain.CertPool()
	if err != nil {
		return nil, err
	}

	cert := c.certificate()
	return &tls.Config{
		MinVersion:     tls.VersionTLS13,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return cert, nil },
		ClientAuth:     tls.RequireAndVerifyClientCert,
		ClientCAs:      pool,
	}, nil
}

// ClientTLSConfig client config that presents the device certificate and trusts only the CA
func (c *Config) ClientTLSConfig() (*tls.Config, error) {
	if err := helper.ValidateStruct(c); err != nil {
		return nil, err
	}

	pool, err := c.Chain.CertPool()
	if err != nil {
		return nil, err
	}

	cert := c.certificate()
	return &tls.Config{
		MinVersion:           tls.VersionTLS13,
		ServerName:           ServerName,
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return cert, nil },
		// peer name is not matched; chain is verified in VerifyConnection
		InsecureSkipVerify: true,
		VerifyConnection:   verifyChain(pool),
	}, nil
}

func verifyChain(roots *x509.CertPool) func(cs tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errors.New("peer presented no certificate")
		}

		intermediates := x509.NewCertPool()
		for _, cert := range cs.PeerCertificates[1:] {
			intermediates.AddCert(cert)
		}

		if _, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		}); err != nil {
			return errors.Wrap(err, "peer certificate is not issued by CA")
		}

		return nil
	}
}
